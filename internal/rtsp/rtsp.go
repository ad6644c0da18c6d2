// Package rtsp builds RTSP/1.0 request text and tracks the per-worker
// CSeq counter and DESCRIBE rate window.
package rtsp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"

	// DescribeWindow is the rolling window for DescribeLimit.
	DescribeWindow = 60 * time.Second
	DescribeLimit  = 2
)

// Request is a minimal RTSP request.
type Request struct {
	Method    string
	URL       string
	CSeq      int
	UserAgent string
	Accept    string // empty omits the header
}

// String renders the request line, headers and terminating blank line.
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Method + " " + r.URL + " RTSP/1.0\r\n")
	b.WriteString("CSeq: " + strconv.Itoa(r.CSeq) + "\r\n")
	b.WriteString("User-Agent: " + r.UserAgent + "\r\n")
	if r.Accept != "" {
		b.WriteString("Accept: " + r.Accept + "\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

// URL joins host, port and path into an rtsp:// URL.
func URL(host string, port int, path string) string {
	return "rtsp://" + host + ":" + strconv.Itoa(port) + path
}

// Session is the RTSP worker's request state. It is owned by one worker.
type Session struct {
	cseq      int
	describes []time.Time
}

// NewSession returns a session whose first CSeq is 1.
func NewSession() *Session {
	return &Session{cseq: 1}
}

// NextCSeq returns the current sequence number and advances it.
func (s *Session) NextCSeq() int {
	n := s.cseq
	s.cseq++
	return n
}

// CanDescribe prunes timestamps older than the window and reports whether
// another DESCRIBE fits. The limit is best-effort: it is checked before
// the send and recorded after it.
func (s *Session) CanDescribe(now time.Time) bool {
	i := 0
	for i < len(s.describes) && now.Sub(s.describes[i]) > DescribeWindow {
		i++
	}
	s.describes = s.describes[i:]
	return len(s.describes) < DescribeLimit
}

// MarkDescribe records a DESCRIBE sent at t.
func (s *Session) MarkDescribe(t time.Time) {
	s.describes = append(s.describes, t)
}

var statusRe = regexp.MustCompile(`^RTSP/1\.[01]\s+(\d{3})`)

// ParseStatus extracts the status code from the start of a response, or
// returns "?" when there is none.
func ParseStatus(data []byte) string {
	m := statusRe.FindSubmatch(data)
	if m == nil {
		return "?"
	}
	return string(m[1])
}
