package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TimestampLayout is the activity line timestamp format, local time.
const TimestampLayout = "2006-01-02T15:04:05"

// LineSink accepts finished activity lines.
type LineSink interface {
	WriteLine(line string)
}

// FormatLine renders one activity line:
//
//	<timestamp> <actor padded to 14> <target padded to 21> OK|ERR[ detail]
func FormatLine(ts time.Time, actor, target string, ok bool, detail string) string {
	status := "ERR"
	if ok {
		status = "OK"
	}
	line := fmt.Sprintf("%s %-14s %-21s %s", ts.Format(TimestampLayout), actor, target, status)
	if detail != "" {
		line += " " + detail
	}
	return line
}

// ActivityOptions configures an ActivityLog.
type ActivityOptions struct {
	Console io.Writer // usually stdout; nil disables
	File    io.Writer // plain copy; nil disables
	Color   bool      // color OK/ERR on Console
}

// ActivityLog serializes activity lines to the console, an optional file,
// and any taps. One mutex covers each whole line.
type ActivityLog struct {
	mu      sync.Mutex
	console io.Writer
	file    io.Writer
	taps    []func(string)
	now     func() time.Time
	ok      *color.Color
	err     *color.Color
	lines   int
}

// NewActivityLog creates an activity log.
func NewActivityLog(opts ActivityOptions) *ActivityLog {
	a := &ActivityLog{
		console: opts.Console,
		file:    opts.File,
		now:     time.Now,
		ok:      color.New(color.FgGreen),
		err:     color.New(color.FgRed, color.Bold),
	}
	if opts.Color {
		a.ok.EnableColor()
		a.err.EnableColor()
	} else {
		a.ok.DisableColor()
		a.err.DisableColor()
	}
	return a
}

// AddTap registers fn to receive every plain line. Taps run under the log
// mutex and must not block.
func (a *ActivityLog) AddTap(fn func(string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taps = append(a.taps, fn)
}

// Log formats and writes one line stamped with the current time.
func (a *ActivityLog) Log(actor, target string, ok bool, detail string) {
	a.WriteLine(FormatLine(a.now(), actor, target, ok, detail))
}

// WriteLine writes a preformatted line. When color is enabled the status
// column is colored on the console copy only.
func (a *ActivityLog) WriteLine(line string) {
	a.emit(line, a.colorize(line))
}

// StatusSpan locates the OK/ERR column of a formatted line: the fourth
// field, since timestamp, actor and target carry no spaces. ok is false when
// that field is neither.
func StatusSpan(line string) (start, end int, ok bool) {
	i, field := 0, 0
	for field < 3 {
		for i < len(line) && line[i] != ' ' {
			i++
		}
		for i < len(line) && line[i] == ' ' {
			i++
		}
		field++
	}
	j := i
	for j < len(line) && line[j] != ' ' {
		j++
	}
	switch line[i:j] {
	case "OK", "ERR":
		return i, j, true
	}
	return 0, 0, false
}

func (a *ActivityLog) colorize(line string) string {
	i, j, ok := StatusSpan(line)
	if !ok {
		return line
	}
	c := a.err
	if line[i:j] == "OK" {
		c = a.ok
	}
	return line[:i] + c.Sprint(line[i:j]) + line[j:]
}

func (a *ActivityLog) emit(plain, console string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines++
	if a.file != nil {
		io.WriteString(a.file, plain+"\n")
	}
	if a.console != nil {
		io.WriteString(a.console, console+"\n")
	}
	for _, fn := range a.taps {
		fn(plain)
	}
}

// Print writes a raw block (the summary) to console and file without
// counting it or passing it to taps.
func (a *ActivityLog) Print(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if a.file != nil {
		io.WriteString(a.file, text)
	}
	if a.console != nil {
		io.WriteString(a.console, text)
	}
}

// Lines returns how many lines have been written.
func (a *ActivityLog) Lines() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lines
}
