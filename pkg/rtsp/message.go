package rtsp

import (
	"fmt"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// Request represents an RTSP request
type Request struct {
	Method  string
	URI     string
	Version string
	Headers map[string]string
	Body    []byte
	CSeq    int
}

// Response represents an RTSP response
type Response struct {
	Version    string
	StatusCode int
	StatusText string
	Headers    map[string]string
	Body       []byte
	CSeq       int
}

// NewRequest creates a new RTSP request
func NewRequest(method, uri string) *Request {
	return &Request{
		Method:  method,
		URI:     uri,
		Version: RTSPVersion,
		Headers: make(map[string]string),
	}
}

// NewResponse creates a new RTSP response
func NewResponse(statusCode int) *Response {
	return &Response{
		Version:    RTSPVersion,
		StatusCode: statusCode,
		StatusText: StatusText(statusCode),
		Headers:    make(map[string]string),
	}
}

// SetHeader sets a header value
func (r *Request) SetHeader(key, value string) {
	r.Headers[normalizeHeaderKey(key)] = value
}

// GetHeader gets a header value
func (r *Request) GetHeader(key string) string {
	return r.Headers[normalizeHeaderKey(key)]
}

// SetCSeq sets the CSeq header and field
func (r *Request) SetCSeq(cseq int) {
	r.CSeq = cseq
	r.Headers[HeaderCSeq] = strconv.Itoa(cseq)
}

// SetHeader sets a header value
func (r *Response) SetHeader(key, value string) {
	r.Headers[normalizeHeaderKey(key)] = value
}

// GetHeader gets a header value
func (r *Response) GetHeader(key string) string {
	return r.Headers[normalizeHeaderKey(key)]
}

// SetCSeq sets the CSeq header and field
func (r *Response) SetCSeq(cseq int) {
	r.CSeq = cseq
	r.Headers[HeaderCSeq] = strconv.Itoa(cseq)
}

// String returns the string representation of the request
func (r *Request) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s %s\r\n", r.Method, r.URI, r.Version))
	writeHeaders(&sb, r.Headers)
	sb.WriteString("\r\n")

	if len(r.Body) > 0 {
		sb.Write(r.Body)
	}

	return sb.String()
}

// String returns the string representation of the response
func (r *Response) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %d %s\r\n", r.Version, r.StatusCode, r.StatusText))
	writeHeaders(&sb, r.Headers)
	sb.WriteString("\r\n")

	if len(r.Body) > 0 {
		sb.Write(r.Body)
	}

	return sb.String()
}

// Bytes returns the byte representation of the request
func (r *Request) Bytes() []byte {
	return []byte(r.String())
}

// Bytes returns the byte representation of the response
func (r *Response) Bytes() []byte {
	return []byte(r.String())
}

// writeHeaders writes CSeq and Session first, then the rest in key order
func writeHeaders(sb *strings.Builder, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		if key != HeaderCSeq && key != HeaderSession {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range append([]string{HeaderCSeq, HeaderSession}, keys...) {
		if value, ok := headers[key]; ok {
			sb.WriteString(fmt.Sprintf("%s: %s\r\n", key, value))
		}
	}
}

func normalizeHeaderKey(key string) string {
	switch strings.ToLower(key) {
	case "cseq":
		return HeaderCSeq
	case "rtp-info":
		return HeaderRTPInfo
	}
	return textproto.CanonicalMIMEHeaderKey(key)
}

// StatusText returns the standard status text for a status code
func StatusText(statusCode int) string {
	switch statusCode {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "Bad Request"
	case StatusNotFound:
		return "Not Found"
	case StatusMethodNotAllowed:
		return "Method Not Allowed"
	case StatusSessionNotFound:
		return "Session Not Found"
	case StatusMethodNotValidInThisState:
		return "Method Not Valid in This State"
	case StatusUnsupportedTransport:
		return "Unsupported transport"
	case StatusInternalServerError:
		return "Internal Server Error"
	case StatusNotImplemented:
		return "Not Implemented"
	case StatusRTSPVersionNotSupported:
		return "RTSP Version not supported"
	default:
		return "Unknown"
	}
}
