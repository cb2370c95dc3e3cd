// Package media reads pre-recorded video files as a sequence of discrete frames.
package media

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Source hands out frames in file order. NextFrame returns io.EOF once no
// further frame can be read.
type Source interface {
	NextFrame() ([]byte, error)
	io.Closer
}

// Frame formats
const (
	FormatLengthPrefixed = "length-prefixed"
	FormatJPEGMarkers    = "jpeg-markers"
)

const (
	// LengthFieldSize is the width of the ASCII decimal frame length
	LengthFieldSize = 5
	// MaxFrameSize bounds a single frame
	MaxFrameSize = 2_000_000
)

var (
	// ErrMalformedFrame reports a frame header or body that cannot be read
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownFormat is returned for an unsupported frame format name
	ErrUnknownFormat = errors.New("unknown frame format")
)

// ValidFormat reports whether format names a supported frame format
func ValidFormat(format string) bool {
	switch format {
	case FormatLengthPrefixed, FormatJPEGMarkers, "":
		return true
	}
	return false
}

// NewSource wraps rc in the reader for format
func NewSource(rc io.ReadCloser, format string) (Source, error) {
	switch format {
	case FormatLengthPrefixed, "":
		return NewLengthPrefixedReader(rc), nil
	case FormatJPEGMarkers:
		return NewJPEGMarkerReader(rc), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// LengthPrefixedReader reads frames stored as a fixed-width ASCII decimal
// length followed by that many bytes.
type LengthPrefixedReader struct {
	reader *bufio.Reader
	closer io.Closer
	frames int
}

// NewLengthPrefixedReader creates a reader over rc
func NewLengthPrefixedReader(rc io.ReadCloser) *LengthPrefixedReader {
	return &LengthPrefixedReader{
		reader: bufio.NewReader(rc),
		closer: rc,
	}
}

// NextFrame reads the next frame
func (r *LengthPrefixedReader) NextFrame() ([]byte, error) {
	var header [LengthFieldSize]byte
	if _, err := io.ReadFull(r.reader, header[:]); err != nil {
		// a truncated length field ends the stream as well
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	size, err := strconv.Atoi(string(bytes.TrimSpace(header[:])))
	if err != nil || size <= 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: invalid length field %q at frame %d", ErrMalformedFrame, header[:], r.frames)
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(r.reader, frame); err != nil {
		return nil, fmt.Errorf("%w: frame %d truncated: %v", ErrMalformedFrame, r.frames, err)
	}

	r.frames++
	return frame, nil
}

// Close closes the underlying file
func (r *LengthPrefixedReader) Close() error {
	return r.closer.Close()
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// JPEGMarkerReader splits a concatenated MJPEG file on JPEG start/end of
// image markers.
type JPEGMarkerReader struct {
	reader *bufio.Reader
	closer io.Closer
	frames int
}

// NewJPEGMarkerReader creates a reader over rc
func NewJPEGMarkerReader(rc io.ReadCloser) *JPEGMarkerReader {
	return &JPEGMarkerReader{
		reader: bufio.NewReaderSize(rc, 64*1024),
		closer: rc,
	}
}

// NextFrame returns the bytes from the next FFD8 up to and including FFD9
func (r *JPEGMarkerReader) NextFrame() ([]byte, error) {
	if err := r.skipToSOI(); err != nil {
		return nil, err
	}

	frame := append([]byte(nil), jpegSOI...)
	for {
		b, err := r.reader.ReadByte()
		if err != nil {
			// no end marker: the trailing partial image is dropped
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if len(frame) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame %d exceeds %d bytes", ErrMalformedFrame, r.frames, MaxFrameSize)
		}
		if bytes.HasSuffix(frame, jpegEOI) {
			r.frames++
			return frame, nil
		}
	}
}

func (r *JPEGMarkerReader) skipToSOI() error {
	var prev byte
	for {
		b, err := r.reader.ReadByte()
		if err != nil {
			return err
		}
		if prev == jpegSOI[0] && b == jpegSOI[1] {
			return nil
		}
		prev = b
	}
}

// Close closes the underlying file
func (r *JPEGMarkerReader) Close() error {
	return r.closer.Close()
}
