package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		l, err := NewLogger(LogLevelInfo, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.level != LogLevelInfo {
			t.Errorf("level = %d, want %d", l.level, LogLevelInfo)
		}
		if l.file != nil {
			t.Error("file should be nil when no path given")
		}
	})

	t.Run("with file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		l, err := NewLogger(LogLevelDebug, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer l.Close()
		if l.file == nil || l.fileLog == nil {
			t.Error("file logger should be set")
		}
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := NewLogger(LogLevelInfo, "/nonexistent/dir/test.log")
		if err == nil {
			t.Error("expected error for invalid path")
		}
	})
}

func TestLoggerLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(LogLevelInfo, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Error("error msg")
	l.Info("info msg")
	l.Verbose("verbose msg")
	l.Debug("debug msg")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "ERROR: error msg") {
		t.Error("log should contain error message")
	}
	if !strings.Contains(content, "INFO: info msg") {
		t.Error("log should contain info message")
	}
	if strings.Contains(content, "verbose msg") || strings.Contains(content, "debug msg") {
		t.Error("log should not contain messages above its level")
	}
}

func TestLoggerStderrOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(LogLevelInfo, &buf)
	l.Info("quiet")
	l.Error("loud")
	if strings.Contains(buf.String(), "quiet") {
		t.Error("info should not reach the console below verbose")
	}
	if !strings.Contains(buf.String(), "ERROR: loud") {
		t.Error("errors should always reach the console")
	}

	buf.Reset()
	l = NewLoggerTo(LogLevelVerbose, &buf)
	l.Info("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("info should reach the console at verbose")
	}
}

func TestGetLevel(t *testing.T) {
	l := NewLoggerTo(LogLevelDebug, &bytes.Buffer{})
	if l.GetLevel() != LogLevelDebug {
		t.Errorf("GetLevel = %d", l.GetLevel())
	}
}

func TestLogAction(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(LogLevelVerbose, &buf)
	l.LogAction("HTTP", "10.10.0.3:80", true, 1234*time.Microsecond, "router GET / 200")
	l.LogAction("MQTT", "10.10.0.5:1883", false, 0, "PUB home/telemetry/dev1 connect")

	out := buf.String()
	for _, want := range []string{"OK HTTP to 10.10.0.3:80", "1.234ms", "FAILED MQTT", "connect"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogStartup(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(LogLevelVerbose, &buf)
	l.LogStartup(3*time.Minute, 60, 1, "router=10.10.0.3:80", 2, "noise.yaml")
	out := buf.String()
	for _, want := range []string{"Starting iotnoise run", "Rate: 60.0/min", "Seed: 1", "Config: noise.yaml"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLogHex(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(LogLevelDebug, &buf)
	l.LogHex("packet", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if !strings.Contains(buf.String(), "packet: de ad be ef") {
		t.Errorf("should contain hex dump, got: %s", buf.String())
	}

	buf.Reset()
	l = NewLoggerTo(LogLevelVerbose, &buf)
	l.LogHex("packet", []byte{0xDE})
	if buf.Len() != 0 {
		t.Error("LogHex below debug should produce no output")
	}
}

func TestClose_NilFile(t *testing.T) {
	l, _ := NewLogger(LogLevelInfo, "")
	if err := l.Close(); err != nil {
		t.Errorf("Close with nil file should not error: %v", err)
	}
}
