package rtp

// FrameAssembler rebuilds frames from packets produced by a Packetizer.
// Fragments of one frame share a timestamp; the marker bit closes the frame.
type FrameAssembler struct {
	buf       []byte
	timestamp uint32
	active    bool
	dropped   int
}

// NewFrameAssembler creates an empty assembler
func NewFrameAssembler() *FrameAssembler {
	return &FrameAssembler{}
}

// Push adds a packet. It returns the completed frame and true when pkt
// carries the marker bit.
func (a *FrameAssembler) Push(pkt Packet) ([]byte, bool) {
	if a.active && pkt.Header.Timestamp != a.timestamp {
		// a fragment went missing; the partial frame is unusable
		a.dropped++
		a.buf = a.buf[:0]
	}
	a.timestamp = pkt.Header.Timestamp
	a.active = true
	a.buf = append(a.buf, pkt.Payload...)

	if !pkt.Header.Marker {
		return nil, false
	}

	frame := make([]byte, len(a.buf))
	copy(frame, a.buf)
	a.buf = a.buf[:0]
	a.active = false
	return frame, true
}

// Dropped returns the number of partial frames discarded so far
func (a *FrameAssembler) Dropped() int {
	return a.dropped
}
