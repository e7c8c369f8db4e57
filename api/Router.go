package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"hotdns/resolver"

	"github.com/gorilla/mux"
)

var ErrNoApiKey = errors.New("apiserver.key is not set")

func WalkRoutes(router *mux.Router, address string) {
	log.Printf("Defined API endpoints for router on: %s\n", address)

	walker := func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, _ := route.GetPathTemplate()
		methods, _ := route.GetMethods()
		for m := range methods {
			log.Printf("%-6s %s\n", methods[m], path)
		}
		return nil
	}
	if err := router.Walk(walker); err != nil {
		log.Printf("WalkRoutes: %v", err)
	}
}

// SetupAPIRouter mounts the admin endpoints under /api/v1. Requests
// without the right X-API-Key header get a 404.
func SetupAPIRouter(name, apikey string, engine *resolver.Engine) (*mux.Router, error) {
	if apikey == "" {
		return nil, ErrNoApiKey
	}
	r := mux.NewRouter().StrictSlash(true)
	sr := r.PathPrefix("/api/v1").Headers("X-API-Key", apikey).Subrouter()

	sr.HandleFunc("/ping", APIping(name, time.Now())).Methods("POST")
	sr.HandleFunc("/stats", APIstats(engine)).Methods("POST")
	sr.HandleFunc("/cache", APIcache(engine)).Methods("POST")

	return r, nil
}

// APIdispatcher serves router on address until ctx is cancelled.
func APIdispatcher(ctx context.Context, router *mux.Router, address string, verbose bool) error {
	if verbose {
		WalkRoutes(router, address)
	}
	srv := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errch := make(chan error, 1)
	go func() {
		log.Printf("Starting API dispatcher on %s", address)
		errch <- srv.ListenAndServe()
	}()

	select {
	case err := <-errch:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("APIdispatcher: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("Stopping API dispatcher on %s", address)
		return srv.Shutdown(shutdown)
	}
}
