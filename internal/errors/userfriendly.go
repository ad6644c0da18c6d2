package errors

import (
	"fmt"
	"strings"
)

// UserFriendlyError carries a message plus the context an operator needs to fix it.
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapNetworkError wraps a failure to reach a decoy endpoint.
func WrapNetworkError(err error, host string, port int) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to reach decoy at %s:%d", host, port),
		Reason:  extractNetworkReason(err),
		Hint:    "Check that the decoy container is up and the target map points at it",
		Try:     fmt.Sprintf("iotnoise run --duration 5 --targets router=%s:%d", host, port),
		Err:     err,
	}
}

// WrapConfigError wraps run profile errors.
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Run 'iotnoise init' to generate a profile with every field filled in",
		Try:     fmt.Sprintf("iotnoise run --config %s --duration 5", configPath),
		Err:     err,
	}
}

// WrapRulesError wraps a failure to read detection rules or the attack scenario.
func WrapRulesError(err error, path string) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Could not load %s", path),
		Reason:  extractFileReason(err),
		Hint:    "Runs continue with a partial denylist, but noise may then trip rules it should avoid",
		Try:     fmt.Sprintf("iotnoise avoid --rules %s", path),
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	switch Kind(err) {
	case KindTimeout:
		return "Connection timeout - decoy may be offline or unreachable"
	case KindRefused:
		return "Connection refused - nothing is listening on this port"
	case KindUnreachable:
		return "No route to host - network routing issue or decoy unreachable"
	case KindReset:
		return "Connection reset - decoy closed the connection unexpectedly"
	}
	return "Network communication failed"
}

func extractFileReason(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "no such file") {
		return "File does not exist"
	}
	if strings.Contains(errStr, "permission denied") {
		return "Permission denied"
	}
	if strings.Contains(errStr, "JSON") || strings.Contains(errStr, "invalid character") {
		return "File is not valid JSON"
	}
	return "File could not be read"
}
