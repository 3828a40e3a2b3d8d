package transport

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"

	"github.com/riftmq/broker/internal/broker"
	"github.com/riftmq/broker/internal/logger"
)

// TCPServer accepts plain-TCP MQTT connections, one read-loop goroutine
// per connection (spec.md §4.11, grounded on the teacher's
// internal/transport/tcp.go accept loop).
type TCPServer struct {
	addr     string
	director *broker.Director
	log      *logger.Logger

	listener net.Listener
	shutdown atomic.Bool
}

// NewTCPServer constructs a TCPServer bound to addr (host:port).
func NewTCPServer(addr string, director *broker.Director, log *logger.Logger) *TCPServer {
	return &TCPServer{addr: addr, director: director, log: log}
}

// Start opens the listener and begins accepting in the background.
func (s *TCPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	go s.accept(ctx)
	return nil
}

// Stop closes the listener; in-flight connections are left to drain on
// their own read loops.
func (s *TCPServer) Stop() error {
	s.shutdown.Store(true)
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *TCPServer) accept(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				return
			}
			s.log.Error("tcp accept", logger.ErrorAttr(err))
			continue
		}
		go s.serve(conn)
	}
}

func (s *TCPServer) serve(conn net.Conn) {
	channel := newFrameChannel(conn)
	serveChannel(channel, bufio.NewReader(conn), s.director, s.log)
}
