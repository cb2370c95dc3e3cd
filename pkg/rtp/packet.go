package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header represents the fixed RTP packet header
type Header struct {
	Version        uint8  // 2 bits: Version (V)
	Padding        bool   // 1 bit: Padding (P)
	Extension      bool   // 1 bit: Extension (X)
	CSRCCount      uint8  // 4 bits: CSRC count (CC)
	Marker         bool   // 1 bit: Marker (M)
	PayloadType    uint8  // 7 bits: Payload type (PT)
	SequenceNumber uint16 // 16 bits: Sequence number
	Timestamp      uint32 // 32 bits: Timestamp
	SSRC           uint32 // 32 bits: SSRC identifier
}

// Packet is one RTP datagram. It is built once and not modified afterwards.
type Packet struct {
	Header  Header
	Payload []byte
}

// Constants for RTP
const (
	HeaderSize = 12 // Fixed RTP header size in bytes
	Version    = 2
)

// Common payload types
const (
	PayloadTypeJPEG = 26 // MJPEG (static, RFC 3551)
	PayloadTypeH264 = 96 // H.264 (dynamic)
)

// ErrShortPacket is returned by Decode when the input cannot hold a header.
var ErrShortPacket = errors.New("rtp packet too short")

// NewPacket creates a new RTP packet with no padding, extension or CSRC list
func NewPacket(payloadType uint8, sequenceNumber uint16, timestamp uint32, ssrc uint32, payload []byte) Packet {
	return Packet{
		Header: Header{
			Version:        Version,
			PayloadType:    payloadType,
			SequenceNumber: sequenceNumber,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

// Encode builds the 12-byte header followed by payload.
func Encode(payloadType uint8, sequenceNumber uint16, timestamp uint32, ssrc uint32, payload []byte) []byte {
	return NewPacket(payloadType, sequenceNumber, timestamp, ssrc, payload).Marshal()
}

// Decode parses an RTP datagram. The returned payload does not alias data.
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := p.Unmarshal(data); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// Marshal serializes the RTP packet to bytes
func (p Packet) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))

	// First byte: V(2) + P(1) + X(1) + CC(4)
	buf[0] = (p.Header.Version&0x03)<<6 |
		boolToBit(p.Header.Padding)<<5 |
		boolToBit(p.Header.Extension)<<4 |
		p.Header.CSRCCount&0x0F

	// Second byte: M(1) + PT(7)
	buf[1] = boolToBit(p.Header.Marker)<<7 | p.Header.PayloadType&0x7F

	binary.BigEndian.PutUint16(buf[2:4], p.Header.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], p.Header.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], p.Header.SSRC)

	copy(buf[HeaderSize:], p.Payload)

	return buf
}

// Unmarshal deserializes bytes to RTP packet
func (p *Packet) Unmarshal(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes (min: %d)", ErrShortPacket, len(data), HeaderSize)
	}

	firstByte := data[0]
	p.Header.Version = (firstByte >> 6) & 0x03
	p.Header.Padding = (firstByte>>5)&0x01 == 1
	p.Header.Extension = (firstByte>>4)&0x01 == 1
	p.Header.CSRCCount = firstByte & 0x0F

	secondByte := data[1]
	p.Header.Marker = (secondByte>>7)&0x01 == 1
	p.Header.PayloadType = secondByte & 0x7F

	p.Header.SequenceNumber = binary.BigEndian.Uint16(data[2:4])
	p.Header.Timestamp = binary.BigEndian.Uint32(data[4:8])
	p.Header.SSRC = binary.BigEndian.Uint32(data[8:12])

	p.Payload = make([]byte, len(data)-HeaderSize)
	copy(p.Payload, data[HeaderSize:])

	return nil
}

// WithMarker returns a copy of the packet with the marker bit set to marker
func (p Packet) WithMarker(marker bool) Packet {
	p.Header.Marker = marker
	return p
}

// String returns a string representation of the RTP packet
func (p Packet) String() string {
	return fmt.Sprintf("RTP{V:%d PT:%d M:%t Seq:%d TS:%d SSRC:%d PayloadLen:%d}",
		p.Header.Version,
		p.Header.PayloadType,
		p.Header.Marker,
		p.Header.SequenceNumber,
		p.Header.Timestamp,
		p.Header.SSRC,
		len(p.Payload))
}

// boolToBit converts boolean to bit (0 or 1)
func boolToBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
