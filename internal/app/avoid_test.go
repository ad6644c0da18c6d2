package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "local.rules")
	rules := `alert http any any -> any any (msg:"probe"; content:"/cgi-bin/hidden.cgi"; sid:10;)
alert tcp any any -> any any (msg:"rx"; pcre:"/debug[0-9]+/i"; sid:11;)
`
	if err := os.WriteFile(path, []byte(rules), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunAvoidCheckTexts(t *testing.T) {
	var out bytes.Buffer
	err := RunAvoidCheck(AvoidOptions{
		Rules:  []string{writeRules(t)},
		Texts:  []string{"GET /status", "GET /Cgi-Bin/hidden.cgi?x", "DEBUG42", "a;b"},
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("RunAvoidCheck: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("output:\n%s", out.String())
	}
	if !strings.HasPrefix(lines[0], "rules=1 read=1 skipped=0 rule_lines=2") {
		t.Errorf("stats line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "sub=4 rx=1") {
		t.Errorf("db line = %q", lines[1])
	}
	want := []string{"PASS", "BLOCK", "BLOCK", "BLOCK"}
	for i, w := range want {
		if !strings.HasPrefix(lines[i+2], w) {
			t.Errorf("line %d = %q, want %s", i+2, lines[i+2], w)
		}
	}
	if !strings.Contains(lines[4], `"pcre"`) {
		t.Errorf("pattern reason missing: %q", lines[4])
	}
}

func TestRunAvoidCheckStdin(t *testing.T) {
	var out bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing.rules")
	err := RunAvoidCheck(AvoidOptions{
		Rules:  []string{missing},
		Stdin:  strings.NewReader("hello\r\n\nBA-AttackRunner ping\n"),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("RunAvoidCheck: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "skipped=1") {
		t.Errorf("missing rule file should be skipped:\n%s", s)
	}
	if !strings.Contains(s, "skip Could not load "+missing+" (File does not exist)") {
		t.Errorf("skipped file should be named:\n%s", s)
	}
	if !strings.Contains(s, "PASS") || !strings.Contains(s, "hello") {
		t.Errorf("hello should pass:\n%s", s)
	}
	if !strings.Contains(s, `BLOCK "ba-attackrunner"`) {
		t.Errorf("fixed marker should block:\n%s", s)
	}
}

func TestRunAvoidCheckList(t *testing.T) {
	var out bytes.Buffer
	err := RunAvoidCheck(AvoidOptions{
		Rules:  []string{writeRules(t)},
		List:   true,
		Stdin:  strings.NewReader("never read"),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("RunAvoidCheck: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, `sub "/cgi-bin/hidden.cgi"`) || !strings.Contains(s, "rx  ") {
		t.Errorf("list output:\n%s", s)
	}
	if strings.Contains(s, "never read") {
		t.Error("stdin should not be read with --list")
	}
}
