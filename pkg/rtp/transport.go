package rtp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ErrSinkClosed is returned when sending on a closed sink
var ErrSinkClosed = errors.New("rtp sink closed")

// UDPSink sends RTP datagrams to a single client endpoint
type UDPSink struct {
	conn      *net.UDPConn
	remote    *net.UDPAddr
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewUDPSink opens a UDP socket connected to the client's RTP port
func NewUDPSink(remote *net.UDPAddr) (*UDPSink, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to open RTP socket to %s: %w", remote, err)
	}

	slog.Debug("RTP sink opened", "local", conn.LocalAddr(), "remote", remote)

	return &UDPSink{
		conn:   conn,
		remote: remote,
	}, nil
}

// Send writes one datagram
func (s *UDPSink) Send(packet []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	if _, err := s.conn.Write(packet); err != nil {
		return fmt.Errorf("failed to send RTP packet to %s: %w", s.remote, err)
	}
	return nil
}

// LocalPort returns the server-side RTP port
func (s *UDPSink) LocalPort() int {
	if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// RemoteAddr returns the client endpoint
func (s *UDPSink) RemoteAddr() *net.UDPAddr {
	return s.remote
}

// Close closes the socket. Calling it more than once is safe.
func (s *UDPSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		err = s.conn.Close()
		slog.Debug("RTP sink closed", "remote", s.remote)
	})
	return err
}
