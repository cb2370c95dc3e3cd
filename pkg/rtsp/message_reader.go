package rtsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxContentLength = 64 * 1024

// ErrMalformedRequest marks a complete message that could not be understood.
// The connection can keep reading after it.
var ErrMalformedRequest = errors.New("malformed RTSP request")

// MessageReader handles RTSP message parsing
type MessageReader struct {
	reader *bufio.Reader
}

// NewMessageReader creates a new RTSP message reader
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{
		reader: bufio.NewReader(r),
	}
}

// ReadRequest reads and parses an RTSP request. When the error wraps
// ErrMalformedRequest the returned request holds whatever could be parsed,
// including the CSeq when it was readable.
func (mr *MessageReader) ReadRequest() (*Request, error) {
	line, err := mr.readStartLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read request line: %w", err)
	}

	request := &Request{
		Headers: make(map[string]string),
	}

	if err := mr.readHeaders(request.Headers); err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	if err := mr.readBody(request.Headers, &request.Body); err != nil {
		return nil, err
	}

	cseqStr, hasCSeq := request.Headers[HeaderCSeq]
	cseq, cseqErr := strconv.Atoi(cseqStr)
	if cseqErr == nil {
		request.CSeq = cseq
	}

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return request, fmt.Errorf("%w: invalid request line: %q", ErrMalformedRequest, line)
	}
	request.Method = parts[0]
	request.URI = parts[1]
	request.Version = parts[2]

	if !strings.HasPrefix(request.Version, "RTSP/") {
		return request, fmt.Errorf("%w: invalid protocol version: %q", ErrMalformedRequest, request.Version)
	}
	if !hasCSeq {
		return request, fmt.Errorf("%w: missing CSeq", ErrMalformedRequest)
	}
	if cseqErr != nil || cseq < 0 {
		return request, fmt.Errorf("%w: invalid CSeq: %q", ErrMalformedRequest, cseqStr)
	}

	return request, nil
}

// ReadResponse reads and parses an RTSP response
func (mr *MessageReader) ReadResponse() (*Response, error) {
	line, err := mr.readStartLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read status line: %w", err)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line: %s", line)
	}

	statusCode, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid status code: %s", parts[1])
	}

	statusText := ""
	if len(parts) == 3 {
		statusText = parts[2]
	}

	response := &Response{
		Version:    parts[0],
		StatusCode: statusCode,
		StatusText: statusText,
		Headers:    make(map[string]string),
	}

	if err := mr.readHeaders(response.Headers); err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	if cseqStr := response.Headers[HeaderCSeq]; cseqStr != "" {
		if cseq, err := strconv.Atoi(cseqStr); err == nil {
			response.CSeq = cseq
		}
	}

	if err := mr.readBody(response.Headers, &response.Body); err != nil {
		return nil, err
	}

	return response, nil
}

// readStartLine skips blank lines left between messages
func (mr *MessageReader) readStartLine() (string, error) {
	for {
		line, err := mr.readLine()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
}

// readLine reads a line from the reader (removes \r\n or \n)
func (mr *MessageReader) readLine() (string, error) {
	line, err := mr.reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// readHeaders reads headers until an empty line
func (mr *MessageReader) readHeaders(headers map[string]string) error {
	for {
		line, err := mr.readLine()
		if err != nil {
			return err
		}

		if line == "" {
			break
		}

		colonIndex := strings.Index(line, ":")
		if colonIndex == -1 {
			continue // Skip invalid header lines
		}

		key := normalizeHeaderKey(strings.TrimSpace(line[:colonIndex]))
		value := strings.TrimSpace(line[colonIndex+1:])
		headers[key] = value
	}

	return nil
}

// readBody reads Content-Length bytes when the header is present
func (mr *MessageReader) readBody(headers map[string]string, body *[]byte) error {
	contentLengthStr := headers[HeaderContentLength]
	if contentLengthStr == "" {
		return nil
	}

	contentLength, err := strconv.Atoi(contentLengthStr)
	if err != nil || contentLength < 0 || contentLength > maxContentLength {
		// without a usable length the stream cannot be resynchronised
		return fmt.Errorf("invalid content length: %s", contentLengthStr)
	}

	if contentLength > 0 {
		*body = make([]byte, contentLength)
		if _, err := io.ReadFull(mr.reader, *body); err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
	}
	return nil
}
