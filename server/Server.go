package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"hotdns/resolver"
	"hotdns/resolver/entities"
	"hotdns/resolver/query"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	readSize = 4096
	tcpIdle  = 30 * time.Second
	ednsSize = 1232
)

// Handler answers one question. *resolver.Engine implements it.
type Handler interface {
	Serve(ctx context.Context, q dnsmessage.Question, w resolver.ResponseWriter) error
}

type HandlerFunc func(ctx context.Context, q dnsmessage.Question, w resolver.ResponseWriter) error

func (f HandlerFunc) Serve(ctx context.Context, q dnsmessage.Question, w resolver.ResponseWriter) error {
	return f(ctx, q, w)
}

type Server struct {
	Verbose bool
	Debug   bool

	handler   Handler
	udpServer net.PacketConn
	tcpServer net.Listener
	wg        sync.WaitGroup
	mu        sync.Mutex // guards closed against the wg.Add in Start
	closed    bool
	shutdown  context.CancelFunc
	ctx       context.Context
}

// NewServer binds address for UDP and, when tcp is set, for TCP as well.
func NewServer(address string, tcp bool, handler Handler) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	udpServer, err := net.ListenPacket("udp", address)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Server{
		handler:   handler,
		udpServer: udpServer,
		ctx:       ctx,
		shutdown:  cancel,
	}

	if tcp {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			udpServer.Close()
			cancel()
			return nil, err
		}
		if port == "0" {
			address = net.JoinHostPort(host, "0")
		} else {
			address = udpServer.LocalAddr().String()
		}
		s.tcpServer, err = net.Listen("tcp", address)
		if err != nil {
			udpServer.Close()
			cancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.udpServer.LocalAddr()
}

// TCPAddr is nil when the server does not listen on TCP.
func (s *Server) TCPAddr() net.Addr {
	if s.tcpServer == nil {
		return nil
	}
	return s.tcpServer.Addr()
}

// Start listens for queries until Close is called. It returns at once if
// the server is already closed.
func (s *Server) Start() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	if s.tcpServer != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	defer s.wg.Done()

	log.Println("Starting DNS server on", s.udpServer.LocalAddr())
	if s.tcpServer != nil {
		log.Println("Starting DNS server on tcp", s.tcpServer.Addr())
		go s.acceptTCP()
	}

	for {
		buf := make([]byte, readSize)
		n, addr, err := s.udpServer.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() != nil {
				log.Println("Server shutting down...")
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Println("Error reading UDP packet:", err)
			continue
		}

		s.wg.Add(1)
		go s.processUDP(addr, buf[:n])
	}
}

// Close stops accepting queries and waits for the ones in flight.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.shutdown()
	s.udpServer.SetReadDeadline(time.Now())
	if s.tcpServer != nil {
		s.tcpServer.Close()
	}
	s.wg.Wait()

	if err := s.udpServer.Close(); err != nil {
		log.Println("Error closing UDP server:", err)
	}
	log.Println("Server shut down gracefully")
}

func (s *Server) processUDP(addr net.Addr, buf []byte) {
	defer s.wg.Done()
	s.process(buf, true, func(packed []byte) error {
		_, err := s.udpServer.WriteTo(packed, addr)
		return err
	}, addr)
}

func (s *Server) acceptTCP() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpServer.Accept()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Println("Error accepting TCP connection:", err)
			}
			return
		}
		s.wg.Add(1)
		go s.serveTCP(conn)
	}
}

// serveTCP answers framed queries on conn one at a time until the client
// goes away, idles out or the server shuts down.
func (s *Server) serveTCP(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(tcpIdle))
		buf, err := query.ReadFramed(conn)
		if err != nil {
			if s.Debug && !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Printf("TCP read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		s.process(buf, false, func(packed []byte) error {
			return query.WriteFramed(conn, packed)
		}, conn.RemoteAddr())
	}
}

// process parses one query, hands it to the handler and sends the reply
// through send. Malformed packets without a readable header and stray
// responses are dropped.
func (s *Server) process(buf []byte, udp bool, send func([]byte) error, addr net.Addr) {
	msg, err := query.PacketParser(buf)
	if err != nil {
		var p dnsmessage.Parser
		hdr, herr := p.Start(buf)
		if herr != nil || hdr.Response {
			if s.Debug {
				log.Printf("Dropping malformed packet from %s: %v", addr, err)
			}
			return
		}
		log.Printf("Packet parsing error from %s: %v", addr, err)
		s.write(dnsmessage.Message{Header: hdr}, entities.Result{RCode: dnsmessage.RCodeFormatError}, udp, send, addr)
		return
	}
	if msg.Header.Response {
		if s.Debug {
			log.Printf("Dropping stray response from %s", addr)
		}
		return
	}

	switch {
	case msg.Header.OpCode != 0:
		s.write(msg, entities.Result{RCode: dnsmessage.RCodeNotImplemented}, udp, send, addr)
		return
	case len(msg.Questions) != 1:
		s.write(msg, entities.Result{RCode: dnsmessage.RCodeFormatError}, udp, send, addr)
		return
	}

	q := msg.Questions[0]
	if s.Verbose {
		log.Printf("Query from %s: %s %s", addr, q.Name, q.Type)
	}
	w := resolver.ReplyFunc(func(res entities.Result) error {
		return s.write(msg, res, udp, send, addr)
	})
	if err := s.handler.Serve(context.WithoutCancel(s.ctx), q, w); err != nil {
		log.Printf("Error replying to %s: %v", addr, err)
	}
}

func (s *Server) write(req dnsmessage.Message, res entities.Result, udp bool, send func([]byte) error, addr net.Addr) error {
	response, err := buildReplyMessage(req, res)
	if err != nil {
		log.Printf("Response building error for %s: %v", addr, err)
		return err
	}
	packed, err := response.Pack()
	if err != nil {
		log.Printf("Response packing error for %s: %v", addr, err)
		return err
	}
	if udp && len(packed) > query.UDPSize(req) {
		response.Header.Truncated = true
		response.Answers = nil
		response.Authorities = nil
		if packed, err = response.Pack(); err != nil {
			return err
		}
	}
	return send(packed)
}

func buildReplyMessage(req dnsmessage.Message, res entities.Result) (dnsmessage.Message, error) {
	response := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:                 req.Header.ID,
			Response:           true,
			OpCode:             req.Header.OpCode,
			Authoritative:      false,
			RecursionDesired:   req.Header.RecursionDesired,
			RecursionAvailable: true,
			RCode:              res.RCode,
		},
		Questions:   req.Questions,
		Answers:     res.Answer,
		Authorities: res.Authority,
	}
	if query.HasEDNS(req) {
		opt, err := query.OPT(ednsSize)
		if err != nil {
			return dnsmessage.Message{}, err
		}
		response.Additionals = append(response.Additionals, opt)
	}
	return response, nil
}
