package avoid

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"

	nerrors "github.com/tturner/iotnoise/internal/errors"
)

// Markers that are always denied regardless of rule or scenario content:
// the attack tool's name, the alarm trigger parameter, and base64 admin:admin.
var fixedMarkers = []string{"ba-attackrunner", "action=alarm", "ywrtaw46ywrtaw4="}

// Literal tokens lifted from scenario commands when present.
var scenarioMarkers = []string{
	"BA-AttackRunner", "payload=", "cmd=", "cli=", "action=alarm", "/system.ini", "/shell",
}

var (
	httpPathRe  = regexp.MustCompile(`(?i)https?://[0-9.]+(?::\d+)?(/[A-Za-z0-9._/\-]+)`)
	rtspPathRe  = regexp.MustCompile(`(?i)rtsp://[0-9.]+(?::\d+)?(/[A-Za-z0-9._/\-]+)`)
	queryFragRe = regexp.MustCompile(`\?[A-Za-z0-9._%=&/\-]{1,80}`)
)

// Builder accumulates denylist entries. It is not safe for concurrent use;
// call Database once loading is done and share the result.
type Builder struct {
	literals []string
	seen     map[string]struct{}
	patterns []*Pattern
	stats    BuildStats
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]struct{})}
}

// AddLiteral adds a case-folded literal. Blank and duplicate values are
// ignored; the return value reports whether the literal was new.
func (b *Builder) AddLiteral(s string) bool {
	s = foldASCII(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	if _, ok := b.seen[s]; ok {
		return false
	}
	b.seen[s] = struct{}{}
	b.literals = append(b.literals, s)
	b.stats.Literals++
	return true
}

// AddPattern compiles and adds a pattern. A pattern that does not compile is
// dropped and false is returned.
func (b *Builder) AddPattern(expr string, flags Flags) bool {
	re, err := regexp2.Compile(expr, flags.options())
	if err != nil {
		b.stats.DroppedPatterns++
		return false
	}
	re.MatchTimeout = PatternMatchTimeout
	b.patterns = append(b.patterns, &Pattern{Source: expr, Flags: flags, re: re})
	b.stats.Patterns++
	return true
}

// LoadRules reads detection rules, one per line, and learns every
// suspicious content, uricontent and pcre value.
func (b *Builder) LoadRules(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || !ruleRe.MatchString(line) {
			continue
		}
		b.stats.RuleLines++
		for _, m := range contentRe.FindAllStringSubmatch(line, -1) {
			decoded := DecodeContent(m[1])
			if Suspicious(decoded) {
				b.AddLiteral(decoded)
			}
		}
		for _, m := range pcreRe.FindAllStringSubmatch(line, -1) {
			pat, flags := TranslatePCRE(m[1])
			if Suspicious(pat) {
				b.AddPattern(pat, flags)
			}
		}
	}
	return sc.Err()
}

// LoadRuleFile loads a rule file from disk.
func (b *Builder) LoadRuleFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		b.stats.SkippedFiles++
		return fmt.Errorf("open rule file: %w", err)
	}
	defer f.Close()
	b.stats.RuleFiles++
	if err := b.LoadRules(f); err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}
	return nil
}

type attackDescriptor struct {
	Command json.RawMessage `json:"command"`
}

func (a attackDescriptor) command() string {
	if len(a.Command) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Command, &s); err == nil {
		return s
	}
	return string(a.Command)
}

// LoadScenario reads an attack scenario document, either a top-level array of
// descriptors or an object with an "attacks" array, and learns the marker
// tokens, URL paths and query fragments its commands use.
func (b *Builder) LoadScenario(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	attacks, err := parseAttacks(data)
	if err != nil {
		return err
	}
	for _, a := range attacks {
		b.stats.Attacks++
		b.learnCommand(a.command())
	}
	return nil
}

// LoadScenarioFile loads a scenario document from disk.
func (b *Builder) LoadScenarioFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return b.LoadScenario(f)
}

func parseAttacks(data []byte) ([]attackDescriptor, error) {
	var list []attackDescriptor
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Attacks []attackDescriptor `json:"attacks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario JSON: %w", err)
	}
	return doc.Attacks, nil
}

func (b *Builder) learnCommand(cmd string) {
	if cmd == "" {
		return
	}
	for _, tok := range scenarioMarkers {
		if strings.Contains(cmd, tok) {
			b.AddLiteral(tok)
		}
	}
	for _, re := range []*regexp.Regexp{httpPathRe, rtspPathRe} {
		for _, m := range re.FindAllStringSubmatch(cmd, -1) {
			if Suspicious(m[1]) {
				b.AddLiteral(m[1])
			}
		}
	}
	for _, frag := range queryFragRe.FindAllString(cmd, -1) {
		if Suspicious(frag) {
			b.AddLiteral(frag)
		}
	}
}

// AddFixedMarkers adds the markers that are denied in every run.
func (b *Builder) AddFixedMarkers() {
	for _, tok := range fixedMarkers {
		b.AddLiteral(tok)
	}
}

// Stats returns the counters accumulated so far.
func (b *Builder) Stats() BuildStats {
	return b.stats
}

// Database freezes the current entries into a read-only database. Later
// builder calls do not affect databases already returned.
func (b *Builder) Database() *Database {
	db := &Database{
		literals: make([]string, len(b.literals)),
		patterns: make([]*Pattern, len(b.patterns)),
	}
	copy(db.literals, b.literals)
	copy(db.patterns, b.patterns)
	return db
}

// Build learns from every readable rule file and the optional scenario file,
// then adds the fixed markers. Unreadable files and unparsable scenarios are
// skipped and reported in the returned slice; the database is usable either way.
func Build(rulePaths []string, scenarioPath string) (*Database, BuildStats, []error) {
	b := NewBuilder()
	var errs []error
	for _, p := range rulePaths {
		if err := b.LoadRuleFile(p); err != nil {
			errs = append(errs, nerrors.WrapRulesError(err, p))
		}
	}
	if scenarioPath != "" {
		if err := b.LoadScenarioFile(scenarioPath); err != nil {
			errs = append(errs, nerrors.WrapRulesError(err, scenarioPath))
		}
	}
	b.AddFixedMarkers()
	return b.Database(), b.Stats(), errs
}
