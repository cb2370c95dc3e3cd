package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrSessionClosed is returned by a client whose connection was closed
var ErrSessionClosed = errors.New("rtsp session closed")

// Client drives one RTSP session against a server
type Client struct {
	conn    net.Conn
	reader  *MessageReader
	writer  *MessageWriter
	mu      sync.Mutex
	cseq    int
	session string
	closed  bool
}

// Dial connects to an RTSP server
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established control connection
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: NewMessageReader(conn),
		writer: NewMessageWriter(conn),
	}
}

// Do sends req with the next CSeq and the current Session header, and
// waits for the matching response
func (c *Client) Do(req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSessionClosed
	}

	c.cseq++
	req.SetCSeq(c.cseq)
	if c.session != "" && req.GetHeader(HeaderSession) == "" {
		req.SetHeader(HeaderSession, c.session)
	}

	if err := c.writer.WriteRequest(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Method, err)
	}

	res, err := c.reader.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", req.Method, err)
	}
	if res.CSeq != c.cseq {
		return nil, fmt.Errorf("CSeq mismatch: sent %d, received %d", c.cseq, res.CSeq)
	}

	if session := res.GetHeader(HeaderSession); session != "" && c.session == "" {
		c.session = session
	}
	return res, nil
}

// Options sends OPTIONS
func (c *Client) Options(uri string) (*Response, error) {
	return c.Do(NewRequest(MethodOptions, uri))
}

// Describe sends DESCRIBE
func (c *Client) Describe(uri string) (*Response, error) {
	return c.Do(NewRequest(MethodDescribe, uri))
}

// Setup sends SETUP asking for RTP on rtpPort
func (c *Client) Setup(uri string, rtpPort int) (*Response, error) {
	req := NewRequest(MethodSetup, uri)
	req.SetHeader(HeaderTransport, fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", rtpPort, rtpPort+1))
	return c.Do(req)
}

// Play sends PLAY
func (c *Client) Play(uri string) (*Response, error) {
	return c.Do(NewRequest(MethodPlay, uri))
}

// Pause sends PAUSE
func (c *Client) Pause(uri string) (*Response, error) {
	return c.Do(NewRequest(MethodPause, uri))
}

// Teardown sends TEARDOWN
func (c *Client) Teardown(uri string) (*Response, error) {
	return c.Do(NewRequest(MethodTeardown, uri))
}

// Session returns the session id issued by the server
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close closes the control connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
