package rtsp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"reel/pkg/media"
)

// fakeSource yields frames[i] in order, then err (io.EOF when nil). With
// endless set it never runs out.
type fakeSource struct {
	mu      sync.Mutex
	frames  [][]byte
	endless bool
	err     error
	next    int
	closes  int
	onFrame func()
}

func (f *fakeSource) NextFrame() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onFrame != nil {
		f.onFrame()
	}
	if f.endless {
		f.next++
		return []byte{byte(f.next)}, nil
	}
	if f.next >= len(f.frames) {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	frame := f.frames[f.next]
	f.next++
	return frame, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeOpener serves the sources registered under a name
type fakeOpener struct {
	mu      sync.Mutex
	sources map[string]func() *fakeSource
	opened  []*fakeSource
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{sources: make(map[string]func() *fakeSource)}
}

func (o *fakeOpener) Add(name string, newSource func() *fakeSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[name] = newSource
}

func (o *fakeOpener) Open(resource string) (media.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	newSource, ok := o.sources[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrNotFound, resource)
	}
	src := newSource()
	o.opened = append(o.opened, src)
	return src, nil
}

func (o *fakeOpener) Last() *fakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

var errSendFailed = errors.New("send failed")

// fakeSink records packets. Once failAfter packets were accepted every Send
// fails; a negative failAfter never fails.
type fakeSink struct {
	mu        sync.Mutex
	packets   [][]byte
	failAfter int
	closes    int
	addr      *net.UDPAddr
}

func newFakeSink() *fakeSink {
	return &fakeSink{failAfter: -1}
}

func (s *fakeSink) Send(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAfter >= 0 && len(s.packets) >= s.failAfter {
		return errSendFailed
	}
	s.packets = append(s.packets, append([]byte(nil), packet...))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) Packets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.packets...)
}

func (s *fakeSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func (s *fakeSink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeClock never sleeps: After advances the clock by d and fires at once
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fixedIDs struct {
	next uint64
}

func (f *fixedIDs) Next() uint64 {
	f.next++
	return f.next
}
