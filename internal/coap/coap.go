// Package coap builds confirmable CoAP GET requests for short URI paths.
package coap

import "strings"

// Header constants for a version 1 confirmable GET with no token.
const (
	HeaderConGet byte = 0x40 // ver=1, type=CON, tkl=0
	CodeGet      byte = 0x01

	OptionURIPath = 11
	// Options with a larger delta or length need the extended forms, which
	// this encoder does not emit.
	maxNibble = 12
)

// EncodeURIPathOptions encodes each non-empty segment of path as a Uri-Path
// option. Segments that would need an extended delta or length are skipped.
func EncodeURIPathOptions(path string) []byte {
	var out []byte
	prev := 0
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		delta := OptionURIPath - prev
		prev = OptionURIPath
		if delta > maxNibble || len(seg) > maxNibble {
			continue
		}
		out = append(out, byte(delta<<4|len(seg)))
		out = append(out, seg...)
	}
	return out
}

// NewGet builds a confirmable GET for path with the given message ID.
func NewGet(messageID uint16, path string) []byte {
	out := []byte{HeaderConGet, CodeGet, byte(messageID >> 8), byte(messageID)}
	return append(out, EncodeURIPathOptions(path)...)
}
