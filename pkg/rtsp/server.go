package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
)

// ServerConfig represents RTSP server configuration
type ServerConfig struct {
	Addr    string // listen address, ":0" picks a free port
	Session SessionConfig
}

// Server accepts RTSP connections and runs one Session per connection.
// Sessions share nothing; the server only tracks them to close them on Stop.
type Server struct {
	config   ServerConfig
	sessions map[*Session]struct{}
	mu       sync.Mutex
	channel  chan interface{}
	external chan<- interface{}
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a new RTSP server. Session events are forwarded to
// external when it is not nil.
func NewServer(config ServerConfig, external chan<- interface{}) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Session.IDs == nil {
		config.Session.IDs = NewIDSource()
	}

	return &Server{
		config:   config,
		sessions: make(map[*Session]struct{}),
		channel:  make(chan interface{}, 100),
		external: external,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the RTSP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		slog.Error("Error starting RTSP server", "addr", s.config.Addr, "err", err)
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.wg.Add(2)
	go s.eventLoop()
	go s.acceptConnections(ln)

	slog.Info("RTSP server listening", "addr", ln.Addr())
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the RTSP server
func (s *Server) Stop() {
	slog.Info("RTSP Server stopping...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			slog.Error("Error closing RTSP listener", "err", err)
		} else {
			slog.Info("RTSP Listener closed")
		}
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[*Session]struct{})
	s.mu.Unlock()

	slog.Info("Closing all RTSP sessions", "sessionCount", len(sessions))
	for _, session := range sessions {
		session.Close()
	}

	s.wg.Wait()
	slog.Info("RTSP Server stopped successfully")
}

// SessionCount returns the number of live sessions
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// eventLoop processes events
func (s *Server) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.channel:
			s.handleEvent(event)
		case <-s.ctx.Done():
			slog.Info("RTSP Event loop stopping...")
			return
		}
	}
}

// handleEvent handles different types of events
func (s *Server) handleEvent(event interface{}) {
	switch e := event.(type) {
	case SessionTerminated:
		s.handleSessionTerminated(e)
	case PlayStarted:
		slog.Info("PLAY started", "sessionId", e.SessionId, "resource", e.Resource)
	case PlayStopped:
		slog.Info("PLAY stopped", "sessionId", e.SessionId, "resource", e.Resource, "method", e.Method)
	case DeliveryHalted:
		slog.Info("Delivery halted", "sessionId", e.SessionId, "resource", e.Resource, "frames", e.Frames, "reason", e.Err)
	default:
		slog.Warn("Unknown RTSP event type", "eventType", fmt.Sprintf("%T", e))
	}

	if s.external != nil {
		select {
		case s.external <- event:
		default:
		}
	}
}

// handleSessionTerminated handles session termination
func (s *Server) handleSessionTerminated(event SessionTerminated) {
	s.mu.Lock()
	delete(s.sessions, event.Session)
	count := len(s.sessions)
	s.mu.Unlock()

	slog.Info("RTSP session terminated", "sessionId", event.SessionId, "remoteAddr", event.RemoteAddr, "sessionCount", count)
}

// acceptConnections accepts incoming connections
func (s *Server) acceptConnections(ln net.Listener) {
	defer s.wg.Done()
	defer closeListener(ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				slog.Info("RTSP accept loop stopped (listener closed)")
			default:
				slog.Error("RTSP accept failed", "err", err)
			}
			return
		}

		session := NewSession(conn, s.config.Session, s.channel)

		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[session] = struct{}{}
		s.mu.Unlock()

		session.Start()
	}
}

func closeListener(c io.Closer) {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Error("Error closing resource", "err", err)
	}
}
