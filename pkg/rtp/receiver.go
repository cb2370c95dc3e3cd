package rtp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// FrameHandler receives complete frames from a Receiver
type FrameHandler func(frame []byte, pkt Packet)

// Receiver listens on a local UDP port and reassembles incoming frames
type Receiver struct {
	conn      *net.UDPConn
	assembler *FrameAssembler
	handler   FrameHandler
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the RTP port. Use port 0 to pick a free one.
func Listen(port int, handler FrameHandler) (*Receiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind RTP port %d: %w", port, err)
	}

	return &Receiver{
		conn:      conn,
		assembler: NewFrameAssembler(),
		handler:   handler,
	}, nil
}

// Port returns the bound local port
func (r *Receiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start runs the read loop in the background
func (r *Receiver) Start() {
	r.wg.Add(1)
	go r.loop()
}

func (r *Receiver) loop() {
	defer r.wg.Done()

	buf := make([]byte, 0x10000)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("RTP read failed", "err", err)
			}
			return
		}

		pkt, err := Decode(buf[:n])
		if err != nil {
			slog.Warn("Dropping invalid RTP datagram", "size", n, "err", err)
			continue
		}

		if frame, ok := r.assembler.Push(pkt); ok && r.handler != nil {
			r.handler(frame, pkt)
		}
	}
}

// Close stops the read loop and waits for it to exit
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
		r.wg.Wait()
	})
	return err
}
