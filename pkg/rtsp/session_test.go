package rtsp

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/pkg/rtp"
)

const movie = "movie.Mjpeg"

type sessionHarness struct {
	session *Session
	opener  *fakeOpener
	sink    *fakeSink
	events  chan interface{}
	peer    net.Conn
	cseq    int
}

func newSessionHarness(t *testing.T, newSource func() *fakeSource) *sessionHarness {
	t.Helper()

	h := &sessionHarness{
		opener: newFakeOpener(),
		sink:   newFakeSink(),
		events: make(chan interface{}, 64),
	}
	h.opener.Add(movie, newSource)

	server, client := net.Pipe()
	h.peer = client

	h.session = NewSession(server, SessionConfig{
		Opener:        h.opener,
		IDs:           &fixedIDs{next: 123455},
		FrameInterval: 2 * time.Millisecond,
		PayloadType:   rtp.PayloadTypeJPEG,
		NewSink: func(addr *net.UDPAddr) (Sink, error) {
			h.sink.addr = addr
			return h.sink, nil
		},
	}, h.events)

	t.Cleanup(func() {
		h.session.Close()
		client.Close()
	})
	return h
}

func endless() *fakeSource { return &fakeSource{endless: true} }

func (h *sessionHarness) do(method string, headers ...string) *Response {
	h.cseq++
	req := NewRequest(method, movie)
	req.SetCSeq(h.cseq)
	for i := 0; i+1 < len(headers); i += 2 {
		req.SetHeader(headers[i], headers[i+1])
	}
	return h.session.HandleRequest(req)
}

func (h *sessionHarness) setup(t *testing.T) {
	t.Helper()
	res := h.do(MethodSetup, HeaderTransport, "RTP/UDP; client_port= 25000")
	require.Equal(t, StatusOK, res.StatusCode)
}

func waitForEvent[T any](t *testing.T, events <-chan interface{}) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if ev, ok := e.(T); ok {
				return ev
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T event", zero)
			return zero
		}
	}
}

func TestSessionHappyPath(t *testing.T) {
	h := newSessionHarness(t, endless)

	res := h.do(MethodSetup, HeaderTransport, "RTP/UDP; client_port= 25000")
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "1", res.GetHeader(HeaderCSeq))
	assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	assert.Contains(t, res.GetHeader(HeaderTransport), "client_port=25000-25001")
	assert.Equal(t, StateReady, h.session.State())
	assert.Equal(t, 25000, h.session.Endpoint().Port)
	assert.Equal(t, 0, h.sink.Len())

	res = h.do(MethodPlay)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	assert.Equal(t, "url=movie.Mjpeg;seq=1;rtptime=1", res.GetHeader(HeaderRTPInfo))
	assert.Equal(t, StatePlaying, h.session.State())

	require.Eventually(t, func() bool { return h.sink.Len() >= 3 }, 5*time.Second, time.Millisecond)

	res = h.do(MethodPause)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, StateReady, h.session.State())

	sent := h.sink.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sent, h.sink.Len(), "packets sent after PAUSE was answered")

	for i, data := range h.sink.Packets() {
		pkt, err := rtp.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint16(i+1), pkt.Header.SequenceNumber)
		assert.Equal(t, uint32(i+1), pkt.Header.Timestamp)
		assert.Equal(t, []byte{byte(i + 1)}, pkt.Payload)
	}

	// PLAY resumes where PAUSE left off
	res = h.do(MethodPlay)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "url=movie.Mjpeg;seq="+strconv.Itoa(sent+1)+";rtptime="+strconv.Itoa(sent+1), res.GetHeader(HeaderRTPInfo))
	require.Eventually(t, func() bool { return h.sink.Len() > sent }, 5*time.Second, time.Millisecond)

	res = h.do(MethodTeardown)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	assert.Equal(t, StateTornDown, h.session.State())
	assert.Equal(t, 1, h.sink.Closes())
	assert.Equal(t, 1, h.opener.Last().Closes())

	pkt, err := rtp.Decode(h.sink.Packets()[sent])
	require.NoError(t, err)
	assert.Equal(t, uint16(sent+1), pkt.Header.SequenceNumber)

	started := waitForEvent[PlayStarted](t, h.events)
	assert.Equal(t, uint64(123456), started.SessionId)
	stopped := waitForEvent[PlayStopped](t, h.events)
	assert.Equal(t, MethodPause, stopped.Method)
}

func TestSessionSetupNotFound(t *testing.T) {
	h := newSessionHarness(t, endless)

	h.cseq++
	req := NewRequest(MethodSetup, "missing.Mjpeg")
	req.SetCSeq(h.cseq)
	res := h.session.HandleRequest(req)

	assert.Equal(t, StatusNotFound, res.StatusCode)
	assert.Equal(t, StateInit, h.session.State())
	assert.Nil(t, h.session.Endpoint())

	// the id is fixed for the whole connection
	res = h.do(MethodSetup)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	assert.Equal(t, StateReady, h.session.State())
}

func TestSessionTransportFallback(t *testing.T) {
	for _, transport := range []string{"", "garbage", "RTP/UDP; client_port=99999"} {
		t.Run(transport, func(t *testing.T) {
			h := newSessionHarness(t, endless)

			res := h.do(MethodSetup, HeaderTransport, transport)
			require.Equal(t, StatusOK, res.StatusCode)
			assert.Equal(t, DefaultClientPort, h.session.Endpoint().Port)
			assert.Equal(t, DefaultClientPort, h.sink.addr.Port)
		})
	}
}

func TestSessionResetupKeepsEndpoint(t *testing.T) {
	h := newSessionHarness(t, endless)
	h.setup(t)

	res := h.do(MethodSetup, HeaderTransport, "RTP/AVP;unicast;client_port=30000-30001")
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, 25000, h.session.Endpoint().Port)
	assert.Contains(t, res.GetHeader(HeaderTransport), "client_port=25000-25001")
	assert.Len(t, h.opener.opened, 1)
}

func TestSessionInvalidState(t *testing.T) {
	h := newSessionHarness(t, endless)

	for _, method := range []string{MethodPlay, MethodPause} {
		res := h.do(method)
		assert.Equal(t, StatusInternalServerError, res.StatusCode, method)
		assert.Equal(t, StateInit, h.session.State())
		assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	}
	assert.Equal(t, 0, h.sink.Len())

	h.setup(t)
	require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)

	res := h.do(MethodSetup)
	assert.Equal(t, StatusInternalServerError, res.StatusCode)
	assert.Equal(t, StatePlaying, h.session.State())

	// PLAY while playing is accepted and keeps the single delivery loop
	assert.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)
	assert.Equal(t, StatePlaying, h.session.State())
}

func TestSessionUnsupportedMethod(t *testing.T) {
	h := newSessionHarness(t, endless)

	res := h.do("RECORD")
	assert.Equal(t, StatusNotImplemented, res.StatusCode)
	assert.Equal(t, StateInit, h.session.State())
}

func TestSessionOptionsAndDescribe(t *testing.T) {
	h := newSessionHarness(t, endless)

	res := h.do(MethodOptions)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Contains(t, res.GetHeader(HeaderPublic), MethodTeardown)

	res = h.do(MethodDescribe)
	require.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, "application/sdp", res.GetHeader(HeaderContentType))
	assert.Contains(t, string(res.Body), "m=video 0 RTP/AVP 26")
	assert.Equal(t, 1, h.opener.Last().Closes())
	assert.Equal(t, StateInit, h.session.State())
}

func TestSessionTeardownFromEachState(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *sessionHarness)
	}{
		{"init", func(*testing.T, *sessionHarness) {}},
		{"ready", func(t *testing.T, h *sessionHarness) { h.setup(t) }},
		{"playing", func(t *testing.T, h *sessionHarness) {
			h.setup(t)
			require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)
			require.Eventually(t, func() bool { return h.sink.Len() > 0 }, 5*time.Second, time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSessionHarness(t, endless)
			tt.prepare(t, h)

			res := h.do(MethodTeardown)
			assert.Equal(t, StatusOK, res.StatusCode)
			assert.Equal(t, "123456", res.GetHeader(HeaderSession))
			assert.Equal(t, StateTornDown, h.session.State())

			sent := h.sink.Len()
			time.Sleep(10 * time.Millisecond)
			assert.Equal(t, sent, h.sink.Len())

			assert.Equal(t, StatusInternalServerError, h.do(MethodPlay).StatusCode)
			assert.Equal(t, StatusInternalServerError, h.do(MethodSetup).StatusCode)
		})
	}
}

func TestSessionDoubleTeardownReleasesOnce(t *testing.T) {
	h := newSessionHarness(t, endless)
	h.setup(t)
	require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)

	assert.Equal(t, StatusOK, h.do(MethodTeardown).StatusCode)
	assert.Equal(t, StatusOK, h.do(MethodTeardown).StatusCode)
	require.NoError(t, h.session.Close())

	assert.Equal(t, 1, h.sink.Closes())
	assert.Equal(t, 1, h.opener.Last().Closes())
	assert.Equal(t, 4, h.session.LastCSeq())
}

func TestSessionSendFailureReturnsToReady(t *testing.T) {
	h := newSessionHarness(t, endless)
	h.sink.failAfter = 2
	h.setup(t)

	require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)

	halted := waitForEvent[DeliveryHalted](t, h.events)
	assert.ErrorIs(t, halted.Err, errSendFailed)
	assert.Equal(t, 2, halted.Frames)
	assert.Equal(t, StateReady, h.session.State())

	// the failure is reported once on the next request, which is not applied
	res := h.do(MethodPlay)
	assert.Equal(t, StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "123456", res.GetHeader(HeaderSession))
	assert.Equal(t, StateReady, h.session.State())

	// the session stays usable
	assert.Equal(t, StatusOK, h.do(MethodPause).StatusCode)
	assert.Equal(t, StatusOK, h.do(MethodTeardown).StatusCode)
}

func TestSessionEndOfStream(t *testing.T) {
	h := newSessionHarness(t, func() *fakeSource { return &fakeSource{frames: frames(3)} })
	h.setup(t)

	require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)

	halted := waitForEvent[DeliveryHalted](t, h.events)
	assert.ErrorIs(t, halted.Err, ErrEndOfStream)
	assert.Equal(t, 3, halted.Frames)
	assert.Equal(t, 3, h.sink.Len())
	assert.Equal(t, StateReady, h.session.State())
}

func TestSessionServe(t *testing.T) {
	h := newSessionHarness(t, endless)
	h.session.Start()

	reader := NewMessageReader(h.peer)
	writer := NewMessageWriter(h.peer)

	// a request that cannot be parsed gets a 500 and the connection survives
	go h.peer.Write([]byte("GARBAGE\r\nCSeq: 7\r\n\r\n"))
	res, err := reader.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, StatusInternalServerError, res.StatusCode)
	assert.Equal(t, 7, res.CSeq)

	req := NewRequest(MethodSetup, movie)
	req.SetCSeq(8)
	req.SetHeader(HeaderTransport, "RTP/AVP;unicast;client_port=25000-25001")
	go writer.WriteRequest(req)
	res, err = reader.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.StatusCode)
	assert.Equal(t, 8, res.CSeq)

	// losing the connection releases everything
	require.NoError(t, h.peer.Close())

	terminated := waitForEvent[SessionTerminated](t, h.events)
	assert.Equal(t, uint64(123456), terminated.SessionId)
	assert.Equal(t, StateTornDown, h.session.State())
	assert.Equal(t, 1, h.sink.Closes())
}

func TestSessionTeardownAfterDeliveryFailure(t *testing.T) {
	h := newSessionHarness(t, endless)
	h.sink.failAfter = 1
	h.setup(t)

	require.Equal(t, StatusOK, h.do(MethodPlay).StatusCode)
	waitForEvent[DeliveryHalted](t, h.events)

	assert.Equal(t, StatusOK, h.do(MethodTeardown).StatusCode)
	assert.Equal(t, StateTornDown, h.session.State())
}

// stallingSink holds its first Send until release is closed
type stallingSink struct {
	fakeSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingSink) Send(packet []byte) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.fakeSink.Send(packet)
}

func TestSessionCloseWaitsForPause(t *testing.T) {
	sink := &stallingSink{
		fakeSink: fakeSink{failAfter: -1},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	opener := newFakeOpener()
	opener.Add(movie, endless)

	server, client := net.Pipe()
	defer client.Close()
	session := NewSession(server, SessionConfig{
		Opener:        opener,
		IDs:           &fixedIDs{},
		FrameInterval: time.Millisecond,
		NewSink:       func(*net.UDPAddr) (Sink, error) { return sink, nil },
	}, nil)

	request := func(method string, cseq int) *Response {
		req := NewRequest(method, movie)
		req.SetCSeq(cseq)
		return session.HandleRequest(req)
	}
	require.Equal(t, StatusOK, request(MethodSetup, 1).StatusCode)
	require.Equal(t, StatusOK, request(MethodPlay, 2).StatusCode)
	<-sink.entered

	paused := make(chan *Response, 1)
	go func() { paused <- request(MethodPause, 3) }()

	closed := make(chan struct{})
	go func() {
		session.Close()
		close(closed)
	}()

	// the worker is still inside Send: nothing may be released yet
	select {
	case <-closed:
		t.Fatal("Close returned while a packet was being sent")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, sink.Closes())
	assert.Equal(t, 0, opener.Last().Closes())

	close(sink.release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 1, sink.Closes())
	assert.Equal(t, 1, opener.Last().Closes())
	assert.Equal(t, StateTornDown, session.State())

	select {
	case res := <-paused:
		assert.Contains(t, []int{StatusOK, StatusInternalServerError}, res.StatusCode)
	case <-time.After(5 * time.Second):
		t.Fatal("PAUSE did not complete")
	}
}
