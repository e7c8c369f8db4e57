package resolver

import (
	"context"
	"errors"
)

var errNoCandidates = errors.New("race with no candidates")

type outcome[T any] struct {
	val T
	err error
}

// Race starts call once per candidate index and returns whichever call
// settles first, success or failure. Slower calls are not cancelled; they run
// to completion and their outcomes are discarded.
func Race[T any](ctx context.Context, n int, call func(ctx context.Context, i int) (T, error)) (T, error) {
	if n <= 0 {
		var zero T
		return zero, errNoCandidates
	}
	// buffered so losers never block once the winner has been taken
	done := make(chan outcome[T], n)
	for i := 0; i < n; i++ {
		go func(i int) {
			v, err := call(ctx, i)
			done <- outcome[T]{val: v, err: err}
		}(i)
	}
	first := <-done
	return first.val, first.err
}
