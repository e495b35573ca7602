package synctree

import (
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Method is an HTTP request method.
type Method string

// Accepted HTTP methods (§6).
const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodPatch   Method = "PATCH"
)

var acceptedMethods = map[Method]bool{
	MethodGet: true, MethodHead: true, MethodPost: true, MethodPut: true,
	MethodDelete: true, MethodConnect: true, MethodOptions: true,
	MethodTrace: true, MethodPatch: true,
}

// Accepted HTTP versions (§6). Only HTTP/0.9-2.0 tokens are recognized; HTTP/2
// is parsed as a version token only, no framing is implemented.
var acceptedVersions = map[string]bool{
	"HTTP/0.9": true, "HTTP/1.0": true, "HTTP/1.1": true, "HTTP/2.0": true, "HTTP/2": true,
}

var (
	rxRequestLine  = regexp.MustCompile(`^\s*([A-Z]+)\s+(\S+)\s+(HTTP\S+)\s*$`)
	rxResponseLine = regexp.MustCompile(`^\s*(HTTP\S+)\s+(\d+)\s+(.+?)\s*$`)
	rxHeaderLine   = regexp.MustCompile(`^\s*([A-Za-z0-9_\-]+)\s*:\s*([[:print:]]+?)\s*$`)
)

// Content is a polymorphic byte sink/source backing a message body.
type Content interface {
	Size() int64
	Append(p []byte) error
	CopyTo(dest []byte, from int64) (int, error)
	Close() error
}

// InMemoryContent is an in-memory Content backed by a growable byte buffer.
type InMemoryContent struct {
	buf []byte
}

// NewInMemoryContent returns an empty InMemoryContent.
func NewInMemoryContent() *InMemoryContent { return &InMemoryContent{} }

func (c *InMemoryContent) Size() int64 { return int64(len(c.buf)) }

func (c *InMemoryContent) Append(p []byte) error {
	c.buf = append(c.buf, p...)
	return nil
}

func (c *InMemoryContent) CopyTo(dest []byte, from int64) (int, error) {
	if from >= int64(len(c.buf)) {
		return 0, nil
	}
	return copy(dest, c.buf[from:]), nil
}

func (c *InMemoryContent) Close() error { return nil }

// Bytes returns the accumulated content verbatim.
func (c *InMemoryContent) Bytes() []byte { return c.buf }

// SpillContent is a temp-file-backed Content, used when the declared
// Content-Length exceeds a server's MaxInMemContentLen (§9 spill-to-disk
// extension point).
type SpillContent struct {
	f    *os.File
	size int64
}

// NewSpillContent creates a temp file to back a large content body.
func NewSpillContent() (*SpillContent, error) {
	f, err := os.CreateTemp("", "synctree-content-*")
	if err != nil {
		return nil, err
	}
	return &SpillContent{f: f}, nil
}

func (c *SpillContent) Size() int64 { return c.size }

func (c *SpillContent) Append(p []byte) error {
	n, err := c.f.Write(p)
	c.size += int64(n)
	return err
}

func (c *SpillContent) CopyTo(dest []byte, from int64) (int, error) {
	n, err := c.f.ReadAt(dest, from)
	if err == io.EOF && n > 0 {
		// ReadAt's last partial read at end-of-file is not a failure here;
		// the Content interface's CopyTo never returns EOF, matching
		// InMemoryContent's never-erroring slice copy.
		err = nil
	}
	return n, err
}

// Close closes and removes the backing temp file.
func (c *SpillContent) Close() error {
	name := c.f.Name()
	err := c.f.Close()
	os.Remove(name)
	return err
}

// Msg carries the attributes shared by requests and responses.
type Msg struct {
	Version string
	headers Headers
	content Content
}

func newMsg() Msg {
	return Msg{Version: "HTTP/1.1", headers: newHeaders()}
}

// GetHeader returns the value of key or def if unset (case insensitive).
func (m *Msg) GetHeader(key, def string) string { return m.headers.Get(key, def) }

// SetHeader stores value under key (case insensitive).
func (m *Msg) SetHeader(key, value string) { m.headers.Set(key, value) }

// Headers exposes the underlying header map for iteration.
func (m *Msg) Headers() Headers { return m.headers }

// HasContent reports whether the message carries a non-nil Content.
func (m *Msg) HasContent() bool { return m.content != nil }

// Content returns the message's Content, or nil.
func (m *Msg) Content() Content { return m.content }

// SetContent replaces the message's Content.
func (m *Msg) SetContent(c Content) { m.content = c }

// headerBlock renders the CRLF-joined header lines followed by the mandatory
// blank-line terminator. firstLine is the request-line or status-line.
func (m *Msg) headerBlock(firstLine string) []byte {
	var b strings.Builder
	b.WriteString(firstLine)
	b.WriteString("\r\n")
	for k, v := range m.headers {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// RequestMsg is an HTTP request.
type RequestMsg struct {
	Msg
	Method   Method
	Target   string
	URI      *URI
	ClientIP string
}

// ResponseMsg is an HTTP response.
type ResponseMsg struct {
	Msg
	Status int
	Reason string
}

// NewResponseMsg builds a response with the given status and no content.
func NewResponseMsg(status int) *ResponseMsg {
	return &ResponseMsg{Msg: newMsg(), Status: status, Reason: reasonPhrase(status)}
}

// Finalize sets the content-length header from the current content, if any.
// Must be called before Dispatch.
func (r *ResponseMsg) Finalize() {
	if r.content != nil {
		r.SetHeader("Content-Length", strconv.FormatInt(r.content.Size(), 10))
	}
}

func (r *RequestMsg) requestLine() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.Target, r.Version)
}

func (r *ResponseMsg) statusLine() string {
	return fmt.Sprintf("%s %d %s", r.Version, r.Status, r.Reason)
}

// Dispatch writes the message's header block then its content, in slices no
// larger than ioBufSize. Short writes on the header block are fatal; EAGAIN
// is retried by net.Conn's blocking semantics (Go sockets block by default,
// so no explicit EAGAIN handling is required here).
func dispatch(conn net.Conn, firstLine string, m *Msg, ioBufSize int) error {
	hdr := m.headerBlock(firstLine)
	if n, err := conn.Write(hdr); err != nil {
		return &ClientSocketError{Err: err}
	} else if n != len(hdr) {
		return &ClientSocketError{Err: fmt.Errorf("short write on header block: %d/%d", n, len(hdr))}
	}

	if m.content == nil {
		return nil
	}

	buf := make([]byte, ioBufSize)
	var off int64
	size := m.content.Size()
	for off < size {
		n, err := m.content.CopyTo(buf, off)
		if err != nil {
			return &ClientSocketError{Err: err}
		}
		if n == 0 {
			break
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return &ClientSocketError{Err: err}
		}
		off += int64(n)
	}
	return nil
}

// Dispatch writes r to conn.
func (r *RequestMsg) Dispatch(conn net.Conn, ioBufSize int) error {
	return dispatch(conn, r.requestLine(), &r.Msg, ioBufSize)
}

// Dispatch writes r to conn. Finalize should be called first if content was
// set after construction.
func (r *ResponseMsg) Dispatch(conn net.Conn, ioBufSize int) error {
	return dispatch(conn, r.statusLine(), &r.Msg, ioBufSize)
}

// receiveLines reads from conn into buf (capacity ioBufSize) until the
// end-of-headers marker ("\r\n\r\n" or "\n\n") is found, returning the raw
// header bytes and any bytes read past the marker (the start of the body).
func receiveLines(conn net.Conn, buf []byte) (headerBytes, spill []byte, err error) {
	var n int
	total := 0
	for {
		if total >= len(buf) {
			return nil, nil, RequestHeaderIsTooLong{}
		}
		m, rerr := conn.Read(buf[total:])
		if rerr != nil {
			if m == 0 && total == 0 {
				return nil, nil, ClientClosedConnection{}
			}
			if m == 0 {
				return nil, nil, &ClientSocketError{Err: rerr}
			}
		}
		total += m
		n = total

		if m == 0 && rerr != nil {
			break
		}

		if idx := findHeaderEnd(buf[:n]); idx >= 0 {
			return buf[:idx], buf[idx:n], nil
		}

		if m == 0 {
			return nil, nil, ClientClosedConnection{}
		}
	}
	return nil, nil, &ClientSocketError{Err: fmt.Errorf("connection ended mid-headers")}
}

// findHeaderEnd returns the offset just past the end-of-headers marker
// ("\r\n\r\n" or "\n\n"), or -1 if not yet present.
func findHeaderEnd(b []byte) int {
	if i := strings.Index(string(b), "\r\n\r\n"); i >= 0 {
		return i + 4
	}
	if i := strings.Index(string(b), "\n\n"); i >= 0 {
		return i + 2
	}
	return -1
}

// parseHeaderBlock splits raw header bytes into its first line and the
// parsed Headers map, returning a RequestError on any malformed line.
func parseHeaderBlock(raw []byte) (first string, h Headers, err error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\r\n"), "\n")
	if len(lines) == 0 {
		return "", nil, NewRequestError("empty header block")
	}

	first = strings.TrimRight(lines[0], "\r")
	h = newHeaders()
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := rxHeaderLine.FindStringSubmatch(line)
		if m == nil {
			return "", nil, NewRequestError(fmt.Sprintf("malformed header line: %q", line))
		}
		h.Set(m[1], m[2])
	}
	return first, h, nil
}

// receiveContent accumulates exactly contentLength bytes into a Content,
// choosing SpillContent when contentLength exceeds maxInMemContentLen.
func receiveContent(conn net.Conn, already []byte, contentLength int64, ioBufSize int, maxInMemContentLen int64) (Content, error) {
	var content Content
	var err error
	if contentLength > maxInMemContentLen {
		content, err = NewSpillContent()
		if err != nil {
			return nil, err
		}
	} else {
		content = NewInMemoryContent()
	}

	if len(already) > 0 {
		n := int64(len(already))
		if n > contentLength {
			n = contentLength
		}
		if err := content.Append(already[:n]); err != nil {
			return nil, err
		}
	}

	remaining := contentLength - content.Size()
	buf := make([]byte, ioBufSize)
	for remaining > 0 {
		toRead := int64(len(buf))
		if remaining < toRead {
			toRead = remaining
		}
		n, rerr := conn.Read(buf[:toRead])
		if n > 0 {
			if err := content.Append(buf[:n]); err != nil {
				return nil, err
			}
			remaining -= int64(n)
		}
		if rerr != nil {
			if n == 0 {
				return nil, &ClientSocketError{Err: rerr}
			}
		}
	}
	return content, nil
}

// ReceiveRequest reads one HTTP request from conn using buf as the bounded
// receive buffer (capacity == io_buf_size).
func ReceiveRequest(conn net.Conn, buf []byte, maxInMemContentLen int64, clientIP string) (*RequestMsg, error) {
	headerBytes, spill, err := receiveLines(conn, buf)
	if err != nil {
		return nil, err
	}

	first, h, err := parseHeaderBlock(headerBytes)
	if err != nil {
		return nil, err
	}

	m := rxRequestLine.FindStringSubmatch(first)
	if m == nil {
		return nil, NewRequestError(fmt.Sprintf("malformed request line: %q", first))
	}
	method, target, version := Method(m[1]), m[2], m[3]

	if !acceptedMethods[method] {
		return nil, &HTTPUnsupportedMethod{Method: string(method)}
	}
	if !acceptedVersions[version] {
		return nil, &HTTPUnsupportedVersion{Version: version}
	}

	u, err := NewURI(target)
	if err != nil {
		return nil, err
	}

	req := &RequestMsg{
		Msg:      Msg{Version: version, headers: h},
		Method:   method,
		Target:   target,
		URI:      u,
		ClientIP: clientIP,
	}

	contentLength := parseContentLength(h)
	if contentLength > 0 {
		ioBufSize := len(buf)
		content, err := receiveContent(conn, spill, contentLength, ioBufSize, maxInMemContentLen)
		if err != nil {
			return nil, err
		}
		req.content = content
	}

	return req, nil
}

// ReceiveResponse reads one HTTP response from conn (used by the forwarding
// endpoint when reading a downstream child's reply).
func ReceiveResponse(conn net.Conn, buf []byte, maxInMemContentLen int64) (*ResponseMsg, error) {
	headerBytes, spill, err := receiveLines(conn, buf)
	if err != nil {
		return nil, err
	}

	first, h, err := parseHeaderBlock(headerBytes)
	if err != nil {
		return nil, err
	}

	m := rxResponseLine.FindStringSubmatch(first)
	if m == nil {
		return nil, NewRequestError(fmt.Sprintf("malformed status line: %q", first))
	}
	version := m[1]
	status, _ := strconv.Atoi(m[2])
	reason := m[3]

	if !acceptedVersions[version] {
		return nil, &HTTPUnsupportedVersion{Version: version}
	}

	resp := &ResponseMsg{
		Msg:    Msg{Version: version, headers: h},
		Status: status,
		Reason: reason,
	}

	contentLength := parseContentLength(h)
	if contentLength > 0 {
		ioBufSize := len(buf)
		content, err := receiveContent(conn, spill, contentLength, ioBufSize, maxInMemContentLen)
		if err != nil {
			return nil, err
		}
		resp.content = content
	}

	return resp, nil
}

func parseContentLength(h Headers) int64 {
	v := h.Get("Content-Length", "")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

var reasonPhrases = map[int]string{
	100: "Continue", 101: "Switching Protocols", 103: "Early Hints",
	200: "OK", 201: "Created", 202: "Accepted", 203: "Non-Authoritative Information",
	204: "No Content", 205: "Reset Content", 206: "Partial Content",
	300: "Multiple Choices", 301: "Moved Permanently", 302: "Found", 304: "Not Modified", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 410: "Gone", 418: "I'm a Teapot",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway",
	503: "Service Unavailable", 504: "Gateway Timeout", 505: "HTTP Version Not Supported",
}

func reasonPhrase(status int) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return "Unknown"
}
