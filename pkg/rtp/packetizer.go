package rtp

// Packetizer turns media frames into RTP datagrams for one outgoing stream.
// It owns the stream's sequence counter and frame-count timestamp, so each
// session keeps its own instance. It is not safe for concurrent use.
type Packetizer struct {
	PayloadType uint8
	SSRC        uint32

	// MaxPayload splits frames into fragments of at most this many bytes.
	// Zero sends every frame as a single packet.
	MaxPayload int

	sequenceNumber uint16
	timestamp      uint32
}

// NewPacketizer creates a packetizer whose first packet carries sequence
// number 1 and timestamp 1.
func NewPacketizer(payloadType uint8, ssrc uint32, maxPayload int) *Packetizer {
	return &Packetizer{
		PayloadType: payloadType,
		SSRC:        ssrc,
		MaxPayload:  maxPayload,
	}
}

// Packetize advances the timestamp by one frame tick and returns the encoded
// packets for frame. The marker bit is set on the last packet of the frame.
func (p *Packetizer) Packetize(frame []byte) [][]byte {
	p.timestamp++

	chunks := p.split(frame)
	packets := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		p.sequenceNumber++
		pkt := NewPacket(p.PayloadType, p.sequenceNumber, p.timestamp, p.SSRC, chunk).
			WithMarker(i == len(chunks)-1)
		packets = append(packets, pkt.Marshal())
	}
	return packets
}

// SequenceNumber returns the sequence number of the last packet produced
func (p *Packetizer) SequenceNumber() uint16 {
	return p.sequenceNumber
}

// Timestamp returns the timestamp of the last frame produced
func (p *Packetizer) Timestamp() uint32 {
	return p.timestamp
}

func (p *Packetizer) split(frame []byte) [][]byte {
	if p.MaxPayload <= 0 || len(frame) <= p.MaxPayload {
		return [][]byte{frame}
	}

	chunks := make([][]byte, 0, (len(frame)+p.MaxPayload-1)/p.MaxPayload)
	for start := 0; start < len(frame); start += p.MaxPayload {
		end := min(start+p.MaxPayload, len(frame))
		chunks = append(chunks, frame[start:end])
	}
	return chunks
}
