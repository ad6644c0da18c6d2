package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "connection failed",
				Reason:  "timeout",
				Hint:    "check network",
				Try:     "ping host",
				Err:     fmt.Errorf("dial tcp: timeout"),
			},
			contains: []string{"connection failed", "Reason: timeout", "Hint: check network", "Try: ping host", "Details: dial tcp: timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	msg := UserFriendlyError{Message: "msg"}.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}
}

func TestWrapNetworkError(t *testing.T) {
	if WrapNetworkError(nil, "10.10.0.3", 80) != nil {
		t.Fatal("expected nil")
	}
	err := WrapNetworkError(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), "10.10.0.3", 80)
	var ufe UserFriendlyError
	if !errors.As(err, &ufe) {
		t.Fatalf("expected UserFriendlyError, got %T", err)
	}
	if !strings.Contains(ufe.Message, "10.10.0.3:80") {
		t.Errorf("Message = %q", ufe.Message)
	}
	if !strings.Contains(ufe.Reason, "refused") {
		t.Errorf("Reason = %q", ufe.Reason)
	}
}

func TestWrapConfigError(t *testing.T) {
	if WrapConfigError(nil, "x.yaml") != nil {
		t.Fatal("expected nil")
	}
	err := WrapConfigError(fmt.Errorf("rate must be positive"), "noise.yaml")
	if !strings.Contains(err.Error(), "noise.yaml") || !strings.Contains(err.Error(), "rate must be positive") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapRulesError(t *testing.T) {
	err := WrapRulesError(fmt.Errorf("open x: no such file or directory"), "x.rules")
	var ufe UserFriendlyError
	if !errors.As(err, &ufe) || ufe.Reason != "File does not exist" {
		t.Fatalf("unexpected error %#v", err)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, KindTimeout},
		{"context", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindRefused},
		{"reset", fmt.Errorf("write: %w", syscall.ECONNRESET), KindReset},
		{"pipe", fmt.Errorf("write: %w", syscall.EPIPE), KindReset},
		{"unreachable", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), KindUnreachable},
		{"closed", fmt.Errorf("read: %w", net.ErrClosed), KindClosed},
		{"eof", io.EOF, KindClosed},
		{"message only", errors.New("connection refused by peer"), KindRefused},
		{"other", errors.New("boom"), KindError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindRealDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		t.Skip("port unexpectedly reused")
	}
	if got := Kind(err); got != KindRefused {
		t.Fatalf("Kind(%v) = %q, want refused", err, got)
	}
}
