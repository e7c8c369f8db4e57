package query

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"hotdns/resolver/entities"

	"golang.org/x/net/dns/dnsmessage"
)

var (
	ErrTimeout   = errors.New("upstream timeout")
	ErrTransport = errors.New("upstream transport error")
)

const (
	DefaultTimeout = 5 * time.Second

	// payload size advertised upstream, the DNS flag day 2020 value
	ednsSize = 1232
	readSize = 4096
)

// Client sends single questions to single upstream servers.
type Client struct {
	Timeout time.Duration
	Debug   bool
	dialer  net.Dialer
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout}
}

// Exchange asks server about q. Exactly one outcome is reported: a result,
// an ErrTimeout or an ErrTransport. Responses other than NOERROR and NXDOMAIN
// are treated as transport failures.
func (c *Client) Exchange(ctx context.Context, server entities.Upstream, q dnsmessage.Question) (entities.Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := uint16(rand.Uint32())
	opt, err := OPT(ednsSize)
	if err != nil {
		return entities.Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	query := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:               id,
			RecursionDesired: true,
		},
		Questions:   []dnsmessage.Question{q},
		Additionals: []dnsmessage.Resource{opt},
	}
	packed, err := query.Pack()
	if err != nil {
		return entities.Result{}, fmt.Errorf("%w: packing query for %s: %v", ErrTransport, server, err)
	}

	resp, err := c.sendUDP(ctx, server, packed, id, q)
	if err == nil && resp.Header.Truncated {
		if c.Debug {
			log.Printf("Exchange: truncated answer from %s for %s, retrying over TCP", server, q.Name)
		}
		resp, err = c.sendTCP(ctx, server, packed, id, q)
	}
	if err != nil {
		return entities.Result{}, classify(ctx, server, err)
	}

	switch resp.Header.RCode {
	case dnsmessage.RCodeSuccess, dnsmessage.RCodeNameError:
	default:
		return entities.Result{}, fmt.Errorf("%w: %s answered %s", ErrTransport, server, resp.Header.RCode)
	}

	return entities.Result{
		Answer:    resp.Answers,
		Authority: resp.Authorities,
		RCode:     resp.Header.RCode,
	}, nil
}

func (c *Client) sendUDP(ctx context.Context, server entities.Upstream, packed []byte, id uint16, q dnsmessage.Question) (dnsmessage.Message, error) {
	conn, err := c.dialer.DialContext(ctx, "udp", server.String())
	if err != nil {
		return dnsmessage.Message{}, err
	}
	defer conn.Close()
	stop := watch(ctx, conn)
	defer stop()

	if _, err := conn.Write(packed); err != nil {
		return dnsmessage.Message{}, err
	}

	buf := make([]byte, readSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return dnsmessage.Message{}, err
		}
		var p dnsmessage.Parser
		header, err := p.Start(buf[:n])
		if err != nil || !header.Response || header.ID != id {
			// not ours, keep listening until the deadline
			continue
		}
		if header.Truncated {
			return dnsmessage.Message{Header: header}, nil
		}
		msg, err := PacketParser(buf[:n])
		if err != nil {
			return dnsmessage.Message{}, err
		}
		if !matches(msg, q) {
			continue
		}
		return msg, nil
	}
}

func (c *Client) sendTCP(ctx context.Context, server entities.Upstream, packed []byte, id uint16, q dnsmessage.Question) (dnsmessage.Message, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", server.String())
	if err != nil {
		return dnsmessage.Message{}, err
	}
	defer conn.Close()
	stop := watch(ctx, conn)
	defer stop()

	if err := WriteFramed(conn, packed); err != nil {
		return dnsmessage.Message{}, err
	}
	for {
		buf, err := ReadFramed(conn)
		if err != nil {
			return dnsmessage.Message{}, err
		}
		msg, err := PacketParser(buf)
		if err != nil {
			return dnsmessage.Message{}, err
		}
		if !msg.Header.Response || msg.Header.ID != id || !matches(msg, q) {
			continue
		}
		return msg, nil
	}
}

// WriteFramed writes msg with the two byte length prefix used on DNS over TCP.
func WriteFramed(w io.Writer, msg []byte) error {
	if len(msg) > 0xffff {
		return fmt.Errorf("message too large for TCP framing: %d bytes", len(msg))
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf, uint16(len(msg)))
	copy(buf[2:], msg)
	_, err := w.Write(buf)
	return err
}

// ReadFramed reads one length prefixed DNS message.
func ReadFramed(r io.Reader) ([]byte, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(l[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func matches(msg dnsmessage.Message, q dnsmessage.Question) bool {
	if len(msg.Questions) != 1 {
		return false
	}
	got := msg.Questions[0]
	return got.Type == q.Type && got.Class == q.Class && strings.EqualFold(got.Name.String(), q.Name.String())
}

// watch applies the context deadline to conn and unblocks pending I/O when
// ctx is cancelled early.
func watch(ctx context.Context, conn net.Conn) func() bool {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

func classify(ctx context.Context, server entities.Upstream, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrTransport, server, ctx.Err())
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, server, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrTransport, server, err)
}
