package avoid

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	contentRe = regexp.MustCompile(`(?i)\b(?:content|uricontent)\s*:\s*"([^"]*)"`)
	pcreRe    = regexp.MustCompile(`(?i)\bpcre\s*:\s*"([^"]+)"`)
	ruleRe    = regexp.MustCompile(`(?i)^(alert|drop|reject|pass|log)\s+`)
	delimRe   = regexp.MustCompile(`^m?/(.*)/([A-Za-z]*)$`)
	cgiPathRe = regexp.MustCompile(`/[^ \r\n]{1,80}\.(cgi|ini|php)\b`)
)

// DecodeContent expands |xx xx| hex spans in a rule content value into raw
// bytes. Everything outside a span is copied as-is. A span that does not
// decode is copied byte-for-byte including its delimiters, and an unclosed
// span copies the remainder of the value.
func DecodeContent(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '|' {
			out.WriteByte(s[i])
			i++
			continue
		}
		j := strings.IndexByte(s[i+1:], '|')
		if j < 0 {
			out.WriteString(s[i:])
			break
		}
		j += i + 1
		if decoded, ok := decodeHexSpan(s[i+1 : j]); ok {
			out.Write(decoded)
		} else {
			out.WriteString(s[i : j+1])
		}
		i = j + 1
	}
	return out.String()
}

// decodeHexSpan decodes whitespace-separated hex fields. Each field must hold
// whole byte pairs, so "41 42" and "4142" both decode while "4" does not.
func decodeHexSpan(blob string) ([]byte, bool) {
	var out []byte
	for _, field := range strings.Fields(blob) {
		if len(field)%2 != 0 {
			return nil, false
		}
		for k := 0; k < len(field); k += 2 {
			v, err := strconv.ParseUint(field[k:k+2], 16, 8)
			if err != nil {
				return nil, false
			}
			out = append(out, byte(v))
		}
	}
	return out, true
}

// TranslatePCRE strips the /.../flags (or m/.../flags) delimiters of a pcre
// option value and maps the i, m and s modifiers. Values without delimiters
// are returned unchanged with no flags.
func TranslatePCRE(expr string) (string, Flags) {
	m := delimRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return expr, 0
	}
	var flags Flags
	if strings.Contains(m[2], "i") {
		flags |= FlagIgnoreCase
	}
	if strings.Contains(m[2], "m") {
		flags |= FlagMultiline
	}
	if strings.Contains(m[2], "s") {
		flags |= FlagDotAll
	}
	return m[1], flags
}

// Vocabulary of exploit paths and parameters on the impersonated devices.
var suspiciousTokens = []string{
	"/cgi-bin/", "/shell", "/system.ini", "/login.cgi", "/onvif/", "/res.php",
	"authorization", "newntpserver", "timezone=", "country=", "?images",
	"exec/server", "debug", "createusers", "usernametoken",
}

var traversalTokens = []string{"../", "..\\", "%2e%2e", "%2f", "%5c"}

// Suspicious reports whether a rule value or scenario fragment touches the
// device surface being impersonated. Generic rule content that fails this
// test is not learned.
func Suspicious(s string) bool {
	l := foldASCII(s)
	for _, t := range suspiciousTokens {
		if strings.Contains(l, t) {
			return true
		}
	}
	for _, t := range traversalTokens {
		if strings.Contains(l, t) {
			return true
		}
	}
	return cgiPathRe.MatchString(l)
}

// foldASCII lowercases ASCII letters only. Decoded content may hold bytes
// that are not valid UTF-8 and must survive unchanged.
func foldASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if 'A' <= s[i] && s[i] <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
