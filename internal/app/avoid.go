package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tturner/iotnoise/internal/avoid"
	"github.com/tturner/iotnoise/internal/config"
	nerrors "github.com/tturner/iotnoise/internal/errors"
)

// AvoidOptions configures the avoidance pre-flight check.
type AvoidOptions struct {
	Rules       []string
	AttacksJSON string
	List        bool     // print learned literals and patterns
	Texts       []string // read from Stdin when empty

	Stdin  io.Reader
	Stdout io.Writer
}

// RunAvoidCheck builds the avoidance database the way a run would and
// reports, for each text, whether the generator would refuse to send it.
func RunAvoidCheck(opts AvoidOptions) error {
	stdin, stdout := opts.Stdin, opts.Stdout
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	rulePaths := config.ExpandRuleGlobs(opts.Rules)
	db, stats, loadErrs := avoid.Build(rulePaths, opts.AttacksJSON)
	fmt.Fprintf(stdout, "rules=%d read=%d skipped=%d rule_lines=%d attacks=%d\n",
		len(rulePaths), stats.RuleFiles, stats.SkippedFiles, stats.RuleLines, stats.Attacks)
	for _, err := range loadErrs {
		var ufe nerrors.UserFriendlyError
		if errors.As(err, &ufe) {
			fmt.Fprintf(stdout, "skip %s (%s)\n", ufe.Message, ufe.Reason)
			continue
		}
		fmt.Fprintf(stdout, "skip %v\n", err)
	}
	fmt.Fprintf(stdout, "sub=%d rx=%d dropped=%d\n", db.LiteralCount(), db.PatternCount(), stats.DroppedPatterns)

	if opts.List {
		for _, l := range db.Literals() {
			fmt.Fprintf(stdout, "  sub %q\n", l)
		}
		for _, p := range db.Patterns() {
			fmt.Fprintf(stdout, "  rx  %s\n", p)
		}
	}

	check := func(text string) {
		if reason, blocked := db.Classify(text); blocked {
			fmt.Fprintf(stdout, "BLOCK %-12q %s\n", reason, text)
			return
		}
		fmt.Fprintf(stdout, "PASS  %-12s %s\n", "", text)
	}
	if len(opts.Texts) > 0 {
		for _, t := range opts.Texts {
			check(t)
		}
		return nil
	}
	if opts.List {
		return nil
	}

	sc := bufio.NewScanner(stdin)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			check(line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
