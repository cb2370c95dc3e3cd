package reel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"reel/pkg/media"
	"reel/pkg/rtsp"
)

// Stats counts session activity seen on the event channel
type Stats struct {
	Sessions      int // terminated sessions
	PlaysStarted  int
	PlaysStopped  int
	StreamsEnded  int
	DeliveryFails int
	FramesSent    int // frames of streams that halted by themselves
}

type Server struct {
	config  *Config
	ticker  *time.Ticker
	rtsp    *rtsp.Server
	channel chan interface{}
	done    chan struct{} // 종료 신호 채널
	wg      sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewServer wires the media library and the RTSP server from config
func NewServer(config *Config) (*Server, error) {
	library, err := media.NewLibrary(config.Media.Root, config.Media.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to open media library: %w", err)
	}

	channel := make(chan interface{}, 100)
	rtspServer := rtsp.NewServer(rtsp.ServerConfig{
		Addr:    net.JoinHostPort("", strconv.Itoa(config.RTSP.Port)),
		Session: config.SessionConfig(library),
	}, channel)

	s := &Server{
		config:  config,
		rtsp:    rtspServer,
		channel: channel,
		done:    make(chan struct{}),
	}
	if config.Stream.StatsInterval > 0 {
		s.ticker = time.NewTicker(config.Stream.StatsInterval)
	}
	return s, nil
}

func (s *Server) Start() error {
	slog.Info("Start Server", "mediaRoot", s.config.Media.Root, "format", s.config.Media.Format,
		"frameInterval", s.config.Stream.FrameInterval)

	if err := s.rtsp.Start(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.eventLoop()
	return nil
}

// Addr returns the RTSP listen address
func (s *Server) Addr() net.Addr {
	return s.rtsp.Addr()
}

func (s *Server) Stop() {
	slog.Info("Stopping Reel Server...")

	// RTSP 서버 먼저 종료, 세션 이벤트가 채널에 남을 수 있다
	s.rtsp.Stop()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	close(s.done)
	s.wg.Wait()

	s.logStats()
	slog.Info("Reel Server stopped successfully")
}

// Stats returns a snapshot of the counters
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Server) eventLoop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.ticker != nil {
		tick = s.ticker.C
	}

	for {
		select {
		case data := <-s.channel:
			s.channelHandler(data)
		case <-tick:
			s.logStats()
		case <-s.done:
			// 남은 이벤트 처리
			for {
				select {
				case data := <-s.channel:
					s.channelHandler(data)
				default:
					slog.Info("Reel event loop stopping...")
					return
				}
			}
		}
	}
}

func (s *Server) channelHandler(data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := data.(type) {
	case rtsp.SessionTerminated:
		s.stats.Sessions++
	case rtsp.PlayStarted:
		s.stats.PlaysStarted++
	case rtsp.PlayStopped:
		s.stats.PlaysStopped++
	case rtsp.DeliveryHalted:
		s.stats.FramesSent += e.Frames
		if e.Err == nil || errors.Is(e.Err, rtsp.ErrEndOfStream) {
			s.stats.StreamsEnded++
		} else {
			s.stats.DeliveryFails++
		}
	}
}

func (s *Server) logStats() {
	stats := s.Stats()
	slog.Info("Server stats",
		"liveSessions", s.rtsp.SessionCount(),
		"closedSessions", stats.Sessions,
		"playsStarted", stats.PlaysStarted,
		"playsStopped", stats.PlaysStopped,
		"streamsEnded", stats.StreamsEnded,
		"deliveryFails", stats.DeliveryFails,
		"framesSent", stats.FramesSent)
}
