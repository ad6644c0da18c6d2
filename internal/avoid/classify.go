package avoid

import "strings"

const forbiddenChars = "`|;"

// Traversal encodings, shell sequences and injection parameter markers that
// are never allowed in generated noise.
var forbiddenSubstrings = []string{
	"../", "..\\", "%2e%2e", "%2f", "%5c",
	"payload=", "cmd=", "cli=", "&&", "$(", "${",
}

// Classify returns the first reason text would be blocked, checked in order:
// forbidden characters, forbidden substrings, learned literals, learned
// patterns. A nil database only applies the fixed checks.
func (d *Database) Classify(text string) (reason string, blocked bool) {
	if i := strings.IndexAny(text, forbiddenChars); i >= 0 {
		return string(text[i]), true
	}
	l := foldASCII(text)
	for _, s := range forbiddenSubstrings {
		if strings.Contains(l, s) {
			return s, true
		}
	}
	if d == nil {
		return "", false
	}
	for _, s := range d.literals {
		if strings.Contains(l, s) {
			return s, true
		}
	}
	for _, p := range d.patterns {
		// A match that errors out (timeout) is treated as no match.
		if ok, err := p.re.MatchString(text); err == nil && ok {
			return "pcre", true
		}
	}
	return "", false
}

// Blocked reports whether text would be refused.
func (d *Database) Blocked(text string) bool {
	_, blocked := d.Classify(text)
	return blocked
}
