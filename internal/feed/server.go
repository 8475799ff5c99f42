package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Server accepts feed connections, one goroutine per peer
type Server struct {
	addr    string
	format  Format
	handler Handler
	logger  *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopping bool
	wg       sync.WaitGroup
}

// NewServer creates a server that will listen on addr
func NewServer(addr string, format Format, handler Handler, logger *logrus.Logger) *Server {
	return &Server{
		addr:    addr,
		format:  format,
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"addr":   l.Addr().String(),
		"format": s.format,
	}).Info("Feed listener started")
	return nil
}

// Addr returns the bound address, nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is done, then closes every peer and
// waits for their goroutines.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		l = s.listener
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.Close()
		s.closeConns()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				s.logger.WithField("addr", l.Addr().String()).Info("Feed listener stopped")
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		if !s.track(conn) {
			continue
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	peer := conn.RemoteAddr().String()
	s.logger.WithField("peer", peer).Debug("New client connected")

	if err := Stream(ctx, conn, s.format, s.handler, s.logger); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).WithField("peer", peer).Warn("Client stream failed")
	}

	s.logger.WithField("peer", peer).Debug("Client disconnected")
}

// track registers conn, or closes it and reports false once the server is
// stopping
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	for conn := range s.conns {
		conn.Close()
	}
}

// Close releases the listening socket. Serve closes it on its own when its
// context ends; Close is for servers that were bound but never served.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connections returns the number of connected peers
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
