package rtsp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"reel/pkg/media"
	"reel/pkg/rtp"
)

// ErrEndOfStream is reported when the media source runs out of frames
var ErrEndOfStream = errors.New("end of stream")

// Sink receives encoded RTP packets for one client endpoint
type Sink interface {
	Send(packet []byte) error
	Close() error
}

// Clock is the time source of the delivery loop. Tests inject a fake one.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// pacer delivers one frame per period from source to sink until it is
// stopped or the stream ends. Sequence numbers and timestamps come from the
// session's packetizer.
type pacer struct {
	sessionId  string
	source     media.Source
	sink       Sink
	packetizer *rtp.Packetizer
	period     time.Duration
	clock      Clock

	// onExit runs on the worker when the loop ends by itself, before done closes
	onExit func(p *pacer, err error)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	frames int
	err    error
}

func newPacer(sessionId string, source media.Source, sink Sink, packetizer *rtp.Packetizer, period time.Duration, clock Clock) *pacer {
	if clock == nil {
		clock = realClock{}
	}
	return &pacer{
		sessionId:  sessionId,
		source:     source,
		sink:       sink,
		packetizer: packetizer,
		period:     period,
		clock:      clock,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (p *pacer) start() {
	go p.run()
}

// Stop signals the worker and blocks until it has exited. No packet is sent
// after Stop returns.
func (p *pacer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	<-p.done
}

// Done is closed once the worker has exited
func (p *pacer) Done() <-chan struct{} {
	return p.done
}

// Err returns why the loop ended by itself; nil when it was stopped.
// Only valid after Done is closed.
func (p *pacer) Err() error {
	return p.err
}

func (p *pacer) run() {
	slog.Debug("Delivery loop started", "sessionId", p.sessionId, "period", p.period)

	err := p.loop()

	p.err = err
	if err != nil && p.onExit != nil {
		p.onExit(p, err)
	}
	slog.Debug("Delivery loop stopped", "sessionId", p.sessionId, "frames", p.frames, "err", err)
	close(p.done)
}

func (p *pacer) loop() error {
	deadline := p.clock.Now()

	for {
		select {
		case <-p.stop:
			return nil
		default:
		}

		frame, err := p.source.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrEndOfStream
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		for _, packet := range p.packetizer.Packetize(frame) {
			if err := p.sink.Send(packet); err != nil {
				return err
			}
		}
		p.frames++

		// next deadline is relative to the previous one, not to now
		deadline = deadline.Add(p.period)
		now := p.clock.Now()
		wait := deadline.Sub(now)
		if wait <= 0 {
			// overran the period: fire at once, the lost time is not made up
			deadline = now
			continue
		}

		select {
		case <-p.stop:
			return nil
		case <-p.clock.After(wait):
		}
	}
}
