package logging

// Leveled diagnostics for iotnoise. Action lines go through ActivityLog.

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// Logger writes diagnostics to stderr and optionally a file. Stdout is left
// to the activity log.
type Logger struct {
	mu      sync.Mutex
	level   LogLevel
	file    *os.File
	fileLog *log.Logger
	stderr  *log.Logger
}

// NewLogger creates a new logger
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	l := &Logger{
		level:  level,
		stderr: log.New(os.Stderr, "", 0),
	}
	if logFile != "" {
		file, err := os.Create(logFile)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		l.fileLog = log.New(file, "", log.LstdFlags)
	}
	return l, nil
}

// NewLoggerTo creates a logger writing to w instead of stderr.
func NewLoggerTo(level LogLevel, w io.Writer) *Logger {
	return &Logger{level: level, stderr: log.New(w, "", 0)}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileLog = nil
		return err
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelError {
		l.write(fmt.Sprintf("ERROR: "+format, v...), true)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelInfo {
		l.write(fmt.Sprintf("INFO: "+format, v...), false)
	}
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelVerbose {
		l.write(fmt.Sprintf("VERBOSE: "+format, v...), false)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.GetLevel() >= LogLevelDebug {
		l.write(fmt.Sprintf("DEBUG: "+format, v...), false)
	}
}

func (l *Logger) write(msg string, isError bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLog != nil {
		l.fileLog.Println(msg)
	}
	// Info lines stay in the file unless verbose; errors always surface.
	if isError || l.level >= LogLevelVerbose {
		l.stderr.Println(msg)
	}
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogAction records one worker action at verbose level, or info level when
// it failed.
func (l *Logger) LogAction(protocol, target string, ok bool, rtt time.Duration, detail string) {
	status := "OK"
	if !ok {
		status = "FAILED"
	}
	msg := fmt.Sprintf("%s %s to %s (RTT: %.3fms) %s", status, protocol, target, float64(rtt)/float64(time.Millisecond), detail)
	if ok {
		l.Verbose("%s", msg)
	} else {
		l.Info("%s", msg)
	}
}

// LogStartup logs the run parameters.
func (l *Logger) LogStartup(duration time.Duration, rate float64, seed int64, targets string, ruleFiles int, configPath string) {
	l.Info("Starting iotnoise run")
	l.Verbose("  Duration: %s", duration)
	l.Verbose("  Rate: %.1f/min", rate)
	l.Verbose("  Seed: %d", seed)
	l.Verbose("  Targets: %s", targets)
	l.Verbose("  Rule files: %d", ruleFiles)
	if configPath != "" {
		l.Verbose("  Config: %s", configPath)
	}
}

// LogHex logs bytes as space-separated hex pairs at debug level.
func (l *Logger) LogHex(label string, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	l.Debug("%s: %s", label, b.String())
}
