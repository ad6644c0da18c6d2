package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tturner/iotnoise/internal/config"
)

func TestNoiseOptionsOnlyOverridesGivenFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		duration *int
		rate     *float64
		seed     *int64
	}{
		{name: "none", args: nil},
		{name: "rate", args: []string{"--rate", "90"}, rate: ptr(90.0)},
		{name: "all", args: []string{"--duration", "5", "--rate", "0", "--seed", "42"}, duration: ptr(5), rate: ptr(0.0), seed: ptr(int64(42))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &runFlags{}
			cmd := &cobra.Command{Use: "run"}
			addRunFlags(cmd, flags)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}
			opts := noiseOptions(cmd, flags)
			checkPtr(t, "duration", opts.Duration, tt.duration)
			checkPtr(t, "rate", opts.Rate, tt.rate)
			checkPtr(t, "seed", opts.Seed, tt.seed)
		})
	}
}

func TestRunFlagsRepeatableRules(t *testing.T) {
	flags := &runFlags{}
	cmd := &cobra.Command{Use: "run"}
	addRunFlags(cmd, flags)
	if err := cmd.ParseFlags([]string{"--rules", "a.rules", "--rules", "b/*.rules", "--targets", "mqtt=h:1", "--tui"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	opts := noiseOptions(cmd, flags)
	if len(opts.Rules) != 2 || opts.Rules[1] != "b/*.rules" {
		t.Fatalf("rules = %v", opts.Rules)
	}
	if opts.Targets != "mqtt=h:1" || !opts.TUI {
		t.Fatalf("opts = %+v", opts)
	}
	if flags.durationSec != config.DefaultDuration || flags.rate != config.DefaultRate {
		t.Fatalf("flag defaults = %d/%g", flags.durationSec, flags.rate)
	}
}

func TestRunRejectsTUIWithQuiet(t *testing.T) {
	cmd := newRunCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--tui", "--quiet"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "cannot be combined") {
		t.Fatalf("err = %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "iotnoise version dev\n") {
		t.Fatalf("output %q", out.String())
	}
}

func TestInitDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lab.yaml")

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := newInitCmd()
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("--defaults", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Fatalf("output %q", out)
	}
	cfg, err := config.LoadConfig(path, false)
	if err != nil {
		t.Fatalf("load written profile: %v", err)
	}
	if cfg.Rate != config.DefaultRate || cfg.Duration != config.DefaultDuration {
		t.Fatalf("profile = %+v", cfg)
	}

	if _, err := run("--defaults", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second init should refuse to overwrite, got %v", err)
	}
	if _, err := run("--defaults", "--force", path); err != nil {
		t.Fatalf("forced init: %v", err)
	}
}

func TestAvoidCmd(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "x.rules")
	if err := os.WriteFile(rules, []byte(`alert http any any -> any any (content:"/cgi-bin/probe.cgi"; sid:1;)`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	cmd := newAvoidCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--rules", rules, "GET /cgi-bin/probe.cgi", "GET /"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "BLOCK") || !strings.Contains(s, "PASS") {
		t.Fatalf("output:\n%s", s)
	}
}

func TestRootListsCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "init", "avoid", "pcap-summary", "version"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func checkPtr[T comparable](t *testing.T, name string, got, want *T) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s: got %v, want unset", name, *got)
	case want != nil && got == nil:
		t.Errorf("%s: unset, want %v", name, *want)
	case want != nil && *got != *want:
		t.Errorf("%s: got %v, want %v", name, *got, *want)
	}
}
