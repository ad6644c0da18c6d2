package errors

// Short names for socket failures, used in activity log details.

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

const (
	KindTimeout     = "timeout"
	KindRefused     = "refused"
	KindReset       = "reset"
	KindUnreachable = "unreachable"
	KindClosed      = "closed"
	KindError       = "error"
)

// Kind classifies err into one of the Kind* names. nil yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var ne net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, os.ErrDeadlineExceeded) ||
		(stderrors.As(err, &ne) && ne.Timeout()) {
		return KindTimeout
	}
	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case stderrors.Is(err, syscall.ECONNRESET), stderrors.Is(err, syscall.EPIPE):
		return KindReset
	case stderrors.Is(err, syscall.EHOSTUNREACH), stderrors.Is(err, syscall.ENETUNREACH):
		return KindUnreachable
	case stderrors.Is(err, net.ErrClosed), stderrors.Is(err, io.EOF), stderrors.Is(err, io.ErrUnexpectedEOF):
		return KindClosed
	}

	// Fall back to message matching for errors that lost their chain.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "connection refused"):
		return KindRefused
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return KindReset
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
		return KindUnreachable
	}
	return KindError
}
