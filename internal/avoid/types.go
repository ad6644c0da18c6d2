package avoid

// Avoidance database types.
//
// The database is a denylist learned from IDS rule files and attack scenario
// definitions. Generated noise is checked against it before it goes on the
// wire so background traffic never fires the signatures that deliberate
// attack traffic is expected to fire.

import (
	"time"

	"github.com/dlclark/regexp2"
)

// Flags are the pattern modifiers carried over from a pcre option.
type Flags uint8

const (
	// FlagIgnoreCase corresponds to the pcre "i" modifier.
	FlagIgnoreCase Flags = 1 << iota
	// FlagMultiline corresponds to the pcre "m" modifier.
	FlagMultiline
	// FlagDotAll corresponds to the pcre "s" modifier.
	FlagDotAll
)

// String renders the flags in pcre modifier notation.
func (f Flags) String() string {
	out := ""
	if f&FlagIgnoreCase != 0 {
		out += "i"
	}
	if f&FlagMultiline != 0 {
		out += "m"
	}
	if f&FlagDotAll != 0 {
		out += "s"
	}
	return out
}

func (f Flags) options() regexp2.RegexOptions {
	var opts regexp2.RegexOptions
	if f&FlagIgnoreCase != 0 {
		opts |= regexp2.IgnoreCase
	}
	if f&FlagMultiline != 0 {
		opts |= regexp2.Multiline
	}
	if f&FlagDotAll != 0 {
		opts |= regexp2.Singleline
	}
	return opts
}

// PatternMatchTimeout bounds a single learned-pattern evaluation.
const PatternMatchTimeout = 50 * time.Millisecond

// Pattern is a compiled pcre expression learned from a rule.
type Pattern struct {
	Source string
	Flags  Flags
	re     *regexp2.Regexp
}

// BuildStats describes what went into a database.
type BuildStats struct {
	RuleFiles       int // rule files that were readable
	SkippedFiles    int // rule files that could not be read
	RuleLines       int // lines starting with a rule action
	Literals        int
	Patterns        int
	DroppedPatterns int // pcre values that did not compile
	Attacks         int // scenario descriptors scanned
}

// Database is the frozen, read-only denylist shared by all workers.
// It is safe for concurrent use.
type Database struct {
	literals []string
	patterns []*Pattern
}

// LiteralCount returns the number of learned literal substrings.
func (d *Database) LiteralCount() int {
	return len(d.literals)
}

// PatternCount returns the number of learned patterns.
func (d *Database) PatternCount() int {
	return len(d.patterns)
}

// Literals returns a copy of the learned literals in insertion order.
func (d *Database) Literals() []string {
	out := make([]string, len(d.literals))
	copy(out, d.literals)
	return out
}

// Patterns returns the learned pattern sources in insertion order.
func (d *Database) Patterns() []string {
	out := make([]string, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p.Source)
	}
	return out
}
