package logging

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local)
	got := FormatLine(ts, "HTTP:http", "10.10.0.3:80", true, "router GET / 200")
	want := "2024-03-05T07:08:09 HTTP:http      10.10.0.3:80          OK router GET / 200"
	if got != want {
		t.Fatalf("FormatLine =\n%q\nwant\n%q", got, want)
	}

	got = FormatLine(ts, "COAP:coap", "-", false, "")
	want = "2024-03-05T07:08:09 COAP:coap      -                     ERR"
	if got != want {
		t.Fatalf("FormatLine =\n%q\nwant\n%q", got, want)
	}
}

func TestActivityLogWritesConsoleFileAndTaps(t *testing.T) {
	var console, file bytes.Buffer
	a := NewActivityLog(ActivityOptions{Console: &console, File: &file})
	a.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) }

	var tapped []string
	a.AddTap(func(line string) { tapped = append(tapped, line) })

	a.Log("START", "-", true, "duration=2s rate=240.0/min seed=1")
	a.Print("====\nSUMMARY")

	if console.String() != file.String() {
		t.Fatalf("console and file differ without color:\n%q\n%q", console.String(), file.String())
	}
	if !strings.HasPrefix(console.String(), "2024-01-01T00:00:00 START") {
		t.Fatalf("console = %q", console.String())
	}
	if !strings.HasSuffix(console.String(), "====\nSUMMARY\n") {
		t.Fatalf("summary block missing: %q", console.String())
	}
	if len(tapped) != 1 || a.Lines() != 1 {
		t.Fatalf("taps = %v, lines = %d", tapped, a.Lines())
	}
}

func TestActivityLogColorOnlyOnConsole(t *testing.T) {
	var console, file bytes.Buffer
	a := NewActivityLog(ActivityOptions{Console: &console, File: &file, Color: true})
	line := FormatLine(time.Now(), "RTSP:rtsp", "10.10.0.6:8554", false, "refused OK")
	a.WriteLine(line)

	if file.String() != line+"\n" {
		t.Fatalf("file copy must be plain: %q", file.String())
	}
	if !strings.Contains(console.String(), "\x1b[") {
		t.Fatalf("console copy should carry color codes: %q", console.String())
	}
	// Only the status column is colored, not the OK inside the detail.
	if !strings.HasSuffix(console.String(), " refused OK\n") {
		t.Fatalf("detail altered: %q", console.String())
	}
}

func TestActivityLogConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	a := NewActivityLog(ActivityOptions{Console: &buf})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.Log(fmt.Sprintf("W:%d", w), "-", true, strings.Repeat("x", 64))
			}
		}(w)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 800 || a.Lines() != 800 {
		t.Fatalf("got %d lines, counter %d", len(lines), a.Lines())
	}
	for _, l := range lines {
		if !strings.HasSuffix(l, " OK "+strings.Repeat("x", 64)) {
			t.Fatalf("corrupted line %q", l)
		}
	}
}

func TestStatusSpan(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 0, time.Local)
	tests := []struct {
		line   string
		status string
	}{
		{FormatLine(ts, "HTTP:http", "10.10.0.3:80", true, "router GET / 200"), "OK"},
		{FormatLine(ts, "MQTT:mqtt", "10.10.0.5:1883", false, "PUB t OK"), "ERR"},
		{FormatLine(ts, "COAP:coap", "-", false, ""), "ERR"},
		{"START duration=2s", ""},
	}
	for _, tt := range tests {
		i, j, ok := StatusSpan(tt.line)
		if tt.status == "" {
			if ok {
				t.Errorf("StatusSpan(%q) found %q", tt.line, tt.line[i:j])
			}
			continue
		}
		if !ok || tt.line[i:j] != tt.status {
			t.Errorf("StatusSpan(%q) = %d,%d,%v; want %s", tt.line, i, j, ok, tt.status)
		}
	}
}
