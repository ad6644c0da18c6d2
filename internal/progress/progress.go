package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const barWidth = 40

// RunBar shows how far a timed run has progressed and how many actions it
// has produced. It renders on stderr so stdout stays free for the activity
// log.
type RunBar struct {
	mu          sync.Mutex
	total       time.Duration
	actions     int
	startTime   time.Time
	lastUpdate  time.Time
	output      io.Writer
	enabled     bool
	description string
	now         func() time.Time
}

// NewRunBar creates a bar for a run of the given length.
func NewRunBar(total time.Duration, description string) *RunBar {
	return &RunBar{
		total:       total,
		startTime:   time.Now(),
		output:      os.Stderr,
		enabled:     true,
		description: description,
		now:         time.Now,
	}
}

// Disable disables the bar
func (p *RunBar) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// SetActions updates the action count and redraws.
func (p *RunBar) SetActions(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = n
	p.render(false)
}

// Watch redraws every interval from count until ctx ends, then finishes.
func (p *RunBar) Watch(ctx context.Context, interval time.Duration, count func() int) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Finish(count())
			return
		case <-t.C:
			p.SetActions(count())
		}
	}
}

// Finish draws the final state and ends the line.
func (p *RunBar) Finish(actions int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.actions = actions
	p.render(true)
	fmt.Fprint(p.output, "\n")
	p.enabled = false
}

func (p *RunBar) render(force bool) {
	if !p.enabled {
		return
	}
	now := p.now()
	// Throttle updates to avoid too much output
	if !force && now.Sub(p.lastUpdate) < 100*time.Millisecond {
		return
	}
	p.lastUpdate = now

	elapsed := now.Sub(p.startTime)
	if elapsed > p.total {
		elapsed = p.total
	}
	var percent float64
	if p.total > 0 {
		percent = float64(elapsed) / float64(p.total) * 100
	}
	if force {
		percent = 100
	}

	filled := min(int(float64(barWidth)*percent/100), barWidth)
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat("-", barWidth-filled-1)
	}

	out := "\r"
	if p.description != "" {
		out += p.description + " "
	}
	out += fmt.Sprintf("[%s] %.0f%% | %d actions | Elapsed: %s", bar, percent, p.actions, formatDuration(elapsed))
	if left := p.total - elapsed; left > 0 && !force {
		out += fmt.Sprintf(" | Left: %s", formatDuration(left))
	}
	fmt.Fprint(p.output, out)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}
