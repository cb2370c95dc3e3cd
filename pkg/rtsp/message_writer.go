package rtsp

import (
	"bufio"
	"io"
	"sync"
)

// MessageWriter serializes RTSP messages onto a connection
type MessageWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

// NewMessageWriter creates a new RTSP message writer
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{
		writer: bufio.NewWriter(w),
	}
}

// WriteRequest writes an RTSP request
func (mw *MessageWriter) WriteRequest(req *Request) error {
	return mw.write(req.Bytes())
}

// WriteResponse writes an RTSP response
func (mw *MessageWriter) WriteResponse(resp *Response) error {
	return mw.write(resp.Bytes())
}

func (mw *MessageWriter) write(data []byte) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if _, err := mw.writer.Write(data); err != nil {
		return err
	}
	return mw.writer.Flush()
}
