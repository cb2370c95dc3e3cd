package rtsp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"reel/pkg/media"
	"reel/pkg/rtp"
)

// SessionConfig holds what a session needs besides its connection
type SessionConfig struct {
	Opener            media.Opener
	IDs               IDSource
	FrameInterval     time.Duration
	PayloadType       uint8
	SSRC              uint32
	MaxPayload        int
	DefaultClientPort int
	Timeout           time.Duration // idle timeout outside PLAYING, 0 disables
	Clock             Clock
	NewSink           func(addr *net.UDPAddr) (Sink, error)
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.IDs == nil {
		c.IDs = NewIDSource()
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 40 * time.Millisecond
	}
	if c.DefaultClientPort == 0 {
		c.DefaultClientPort = DefaultClientPort
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	if c.NewSink == nil {
		c.NewSink = func(addr *net.UDPAddr) (Sink, error) {
			return rtp.NewUDPSink(addr)
		}
	}
	return c
}

// Session represents one client connection and its RTSP session
type Session struct {
	conn            net.Conn
	reader          *MessageReader
	writer          *MessageWriter
	config          SessionConfig
	externalChannel chan<- interface{}

	// requests are handled one at a time
	reqMu sync.Mutex

	mu          sync.Mutex
	id          uint64
	state       SessionState
	cseq        int
	resource    string
	endpoint    *net.UDPAddr
	source      media.Source
	sink        Sink
	packetizer  *rtp.Packetizer
	pacer       *pacer
	deliveryErr error

	releaseOnce sync.Once
	closeOnce   sync.Once
}

// NewSession creates a session over conn. Events are sent to externalChannel
// without blocking; it may be nil.
func NewSession(conn net.Conn, config SessionConfig, externalChannel chan<- interface{}) *Session {
	config = config.withDefaults()

	return &Session{
		conn:            conn,
		reader:          NewMessageReader(conn),
		writer:          NewMessageWriter(conn),
		config:          config,
		externalChannel: externalChannel,
		id:              config.IDs.Next(),
		state:           StateInit,
		packetizer:      rtp.NewPacketizer(config.PayloadType, config.SSRC, config.MaxPayload),
	}
}

// Start starts the session handling
func (s *Session) Start() {
	slog.Info("RTSP session started", "remoteAddr", s.remoteAddr())

	go s.Serve()
}

// Serve reads requests until the connection fails or is closed, then
// releases the session
func (s *Session) Serve() {
	defer s.Close()

	for {
		s.setReadDeadline()

		request, err := s.reader.ReadRequest()
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				slog.Warn("Malformed RTSP request", "sessionId", s.ID(), "err", err)
				cseq := 0
				if request != nil {
					cseq = request.CSeq
				}
				if err := s.writer.WriteResponse(s.newResponse(cseq, StatusInternalServerError)); err != nil {
					slog.Error("Failed to write RTSP response", "sessionId", s.ID(), "err", err)
					return
				}
				continue
			}

			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				slog.Info("RTSP connection closed", "sessionId", s.ID(), "remoteAddr", s.remoteAddr())
			} else {
				slog.Error("Failed to read RTSP request", "sessionId", s.ID(), "err", err)
			}
			return
		}

		slog.Debug("RTSP request received", "sessionId", s.ID(), "method", request.Method, "uri", request.URI, "cseq", request.CSeq)

		response := s.HandleRequest(request)
		if err := s.writer.WriteResponse(response); err != nil {
			slog.Error("Failed to write RTSP response", "sessionId", s.ID(), "method", request.Method, "err", err)
			return
		}
	}
}

// setReadDeadline applies the idle timeout. A playing client has no reason
// to talk, so no deadline is set then.
func (s *Session) setReadDeadline() {
	if s.config.Timeout <= 0 {
		return
	}
	if s.State() == StatePlaying {
		s.conn.SetReadDeadline(time.Time{})
		return
	}
	s.conn.SetReadDeadline(time.Now().Add(s.config.Timeout))
}

// HandleRequest applies req to the session and returns the response to send.
// For PAUSE and TEARDOWN it returns only after the delivery loop has stopped.
func (s *Session) HandleRequest(req *Request) *Response {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	switch req.Method {
	case MethodOptions:
		return s.handleOptions(req)
	case MethodDescribe:
		return s.handleDescribe(req)
	case MethodSetup, MethodPlay, MethodPause, MethodTeardown:
		return s.handleTransition(req)
	default:
		slog.Warn("Unsupported RTSP method", "sessionId", s.ID(), "method", req.Method)
		return s.newResponse(req.CSeq, StatusNotImplemented)
	}
}

func (s *Session) handleTransition(req *Request) *Response {
	s.mu.Lock()

	s.cseq = req.CSeq
	if err := s.deliveryErr; err != nil {
		s.deliveryErr = nil
		// a failed delivery is reported once, TEARDOWN is never refused
		if req.Method != MethodTeardown {
			response := s.newResponseLocked(req.CSeq, StatusInternalServerError)
			id, state := s.id, s.state
			s.mu.Unlock()
			slog.Warn("Reporting halted delivery", "sessionId", id, "method", req.Method, "state", state, "err", err)
			return response
		}
	}

	current := s.state
	next, status, effect := Transition(current, req.Method)

	var stopping *pacer
	var rtpInfo string
	switch effect {
	case EffectOpen:
		if code := s.setupLocked(req); code != StatusOK {
			next, status = current, code
		}
	case EffectStart:
		// the packetizer belongs to the worker once it runs
		rtpInfo = fmt.Sprintf("url=%s;seq=%d;rtptime=%d",
			req.URI, s.packetizer.SequenceNumber()+1, s.packetizer.Timestamp()+1)
		s.startLocked()
	case EffectStop:
		stopping = s.pacer
		s.pacer = nil
	}
	if current == StateReady && req.Method == MethodSetup {
		s.resetupLocked(req)
	}
	s.state = next

	response := s.newResponseLocked(req.CSeq, status)
	if req.Method == MethodSetup && status == StatusOK {
		response.SetHeader(HeaderTransport, buildTransportResponse(s.endpoint.Port, s.serverPortLocked()))
	}
	if rtpInfo != "" {
		response.SetHeader(HeaderRTPInfo, rtpInfo)
	}
	id, resource := s.id, s.resource
	s.mu.Unlock()

	// the response goes out only once the worker has acknowledged the stop
	if stopping != nil {
		stopping.Stop()
	}
	if effect == EffectRelease {
		s.release()
	}

	switch {
	case effect == EffectStart:
		s.emit(PlayStarted{SessionId: id, Resource: resource})
	case effect == EffectStop || (effect == EffectRelease && current == StatePlaying):
		s.emit(PlayStopped{SessionId: id, Resource: resource, Method: req.Method})
	}

	if status == StatusOK {
		slog.Info("RTSP session transition", "sessionId", id, "method", req.Method, "from", current, "to", next, "cseq", req.CSeq)
	} else {
		slog.Warn("RTSP request rejected", "sessionId", id, "method", req.Method, "state", current, "status", status, "cseq", req.CSeq)
	}

	return response
}

// setupLocked opens the media resource and the sink for the first SETUP
func (s *Session) setupLocked(req *Request) int {
	if s.config.Opener == nil {
		return StatusNotFound
	}
	source, err := s.config.Opener.Open(req.URI)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			slog.Warn("Media resource not found", "sessionId", s.id, "resource", req.URI, "err", err)
			return StatusNotFound
		}
		slog.Error("Failed to open media resource", "sessionId", s.id, "resource", req.URI, "err", err)
		return StatusInternalServerError
	}

	endpoint := s.negotiateEndpoint(req)
	sink, err := s.config.NewSink(endpoint)
	if err != nil {
		slog.Error("Failed to open RTP sink", "sessionId", s.id, "endpoint", endpoint, "err", err)
		closeWithLog(source)
		return StatusInternalServerError
	}

	s.resource = req.URI
	s.source = source
	s.sink = sink
	s.endpoint = endpoint

	slog.Info("RTSP session set up", "sessionId", s.id, "resource", s.resource, "clientRTP", s.endpoint)
	return StatusOK
}

// resetupLocked answers a repeated SETUP. The transport endpoint is fixed by
// the first SETUP and is only reported back.
func (s *Session) resetupLocked(req *Request) {
	port, _ := NegotiateClientPort(req.GetHeader(HeaderTransport), s.config.DefaultClientPort)
	if port != s.endpoint.Port {
		slog.Warn("Ignoring transport change on re-SETUP", "sessionId", s.id, "current", s.endpoint.Port, "requested", port)
	}
}

func (s *Session) negotiateEndpoint(req *Request) *net.UDPAddr {
	port, ok := NegotiateClientPort(req.GetHeader(HeaderTransport), s.config.DefaultClientPort)
	if !ok {
		slog.Warn("No usable client_port in Transport, using default", "sessionId", s.id,
			"transport", req.GetHeader(HeaderTransport), "port", port)
	}

	ip := net.IPv4(127, 0, 0, 1)
	if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		ip = addr.IP
	}
	return &net.UDPAddr{IP: ip, Port: port}
}

func (s *Session) serverPortLocked() int {
	if lp, ok := s.sink.(interface{ LocalPort() int }); ok {
		return lp.LocalPort()
	}
	return 0
}

func (s *Session) startLocked() {
	p := newPacer(strconv.FormatUint(s.id, 10), s.source, s.sink, s.packetizer, s.config.FrameInterval, s.config.Clock)
	p.onExit = s.onDeliveryExit
	s.pacer = p
	p.start()
}

// onDeliveryExit runs on the delivery worker when it stops by itself
func (s *Session) onDeliveryExit(p *pacer, err error) {
	s.mu.Lock()
	if s.pacer != p {
		s.mu.Unlock()
		return
	}
	s.pacer = nil
	if s.state == StatePlaying {
		s.state = StateReady
	}
	if !errors.Is(err, ErrEndOfStream) {
		s.deliveryErr = err
	}
	id, resource := s.id, s.resource
	s.mu.Unlock()

	if errors.Is(err, ErrEndOfStream) {
		slog.Info("Media stream ended", "sessionId", id, "resource", resource, "frames", p.frames)
	} else {
		slog.Error("Delivery halted", "sessionId", id, "resource", resource, "err", err)
	}
	s.emit(DeliveryHalted{SessionId: id, Resource: resource, Frames: p.frames, Err: err})
}

// handleOptions handles OPTIONS request
func (s *Session) handleOptions(req *Request) *Response {
	response := s.newResponse(req.CSeq, StatusOK)
	response.SetHeader(HeaderPublic, strings.Join([]string{
		MethodOptions, MethodDescribe, MethodSetup, MethodPlay, MethodPause, MethodTeardown,
	}, ", "))
	response.SetHeader(HeaderServer, ServerName)
	return response
}

// handleDescribe handles DESCRIBE request
func (s *Session) handleDescribe(req *Request) *Response {
	if s.config.Opener == nil {
		return s.newResponse(req.CSeq, StatusNotFound)
	}
	source, err := s.config.Opener.Open(req.URI)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return s.newResponse(req.CSeq, StatusNotFound)
		}
		slog.Error("Failed to open media resource", "resource", req.URI, "err", err)
		return s.newResponse(req.CSeq, StatusInternalServerError)
	}
	closeWithLog(source)

	sdp := s.generateSDP(req.URI)

	response := s.newResponse(req.CSeq, StatusOK)
	response.SetHeader(HeaderContentBase, req.URI)
	response.SetHeader(HeaderContentType, "application/sdp")
	response.SetHeader(HeaderContentLength, strconv.Itoa(len(sdp)))
	response.Body = []byte(sdp)
	return response
}

// generateSDP describes the single video track
func (s *Session) generateSDP(uri string) string {
	lines := []string{
		"v=0",
		"o=- 0 0 IN IP4 127.0.0.1",
		"s=" + uri,
		"c=IN IP4 0.0.0.0",
		"t=0 0",
		fmt.Sprintf("m=video 0 RTP/AVP %d", s.config.PayloadType),
		"a=control:" + uri,
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (s *Session) newResponse(cseq, statusCode int) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newResponseLocked(cseq, statusCode)
}

// newResponseLocked echoes CSeq and the Session id
func (s *Session) newResponseLocked(cseq, statusCode int) *Response {
	response := NewResponse(statusCode)
	response.SetCSeq(cseq)
	response.SetHeader(HeaderSession, strconv.FormatUint(s.id, 10))
	return response
}

// release stops delivery and closes the media resource and the sink. Only the
// first call does anything.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.state = StateTornDown
		p := s.pacer
		s.pacer = nil
		source, sink := s.source, s.sink
		s.source, s.sink = nil, nil
		id := s.id
		s.mu.Unlock()

		if p != nil {
			p.Stop()
		}
		if source != nil {
			closeWithLog(source)
		}
		if sink != nil {
			closeWithLog(sink)
		}
		slog.Info("RTSP session resources released", "sessionId", id)
	})
}

// Close tears the session down and closes the connection. It follows the
// same cleanup path as TEARDOWN and is safe to call more than once. A request
// in progress, such as a PAUSE waiting for the delivery loop, completes first.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.reqMu.Lock()
		s.release()
		s.reqMu.Unlock()
		err = s.conn.Close()
		s.emit(SessionTerminated{Session: s, SessionId: s.ID(), RemoteAddr: s.remoteAddr()})
	})
	return err
}

// emit sends an event without blocking
func (s *Session) emit(event interface{}) {
	if s.externalChannel == nil {
		return
	}
	select {
	case s.externalChannel <- event:
	default:
		slog.Warn("Dropping RTSP session event", "event", fmt.Sprintf("%T", event))
	}
}

func (s *Session) remoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ID returns the session identifier
func (s *Session) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastCSeq returns the CSeq of the last SETUP/PLAY/PAUSE/TEARDOWN handled
func (s *Session) LastCSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cseq
}

// Endpoint returns the negotiated client RTP endpoint, nil before SETUP
func (s *Session) Endpoint() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// closeWithLog closes a resource with logging
func closeWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Error closing resource", "err", err)
	}
}
