package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tturner/iotnoise/internal/logging"
)

const (
	defaultMaxLines = 200
	historyLen      = 120
	tickInterval    = time.Second
)

// Source supplies live counters; *metrics.Sink satisfies it.
type Source interface {
	Counts() map[string]int
	Total() int
}

// Options configures the dashboard.
type Options struct {
	Title     string
	Protocols []string
	Targets   []string // "key=host:port" entries
	Start     time.Time
	Deadline  time.Time
	Source    Source
	Cancel    func()        // called when the user quits early
	Summary   func() string // text copied by 'c'
	MaxLines  int
}

// LineMsg carries one activity line.
type LineMsg string

// DoneMsg tells the dashboard the run has ended.
type DoneMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model of the live dashboard.
type Model struct {
	opts      Options
	styles    Styles
	lines     []string
	history   []float64
	lastTotal int
	now       time.Time
	width     int
	height    int
	status    string
	done      bool
	cancelled bool
}

// NewModel creates the dashboard model.
func NewModel(opts Options) Model {
	if opts.MaxLines <= 0 {
		opts.MaxLines = defaultMaxLines
	}
	if opts.Title == "" {
		opts.Title = "iotnoise"
	}
	return Model{opts: opts, styles: DefaultStyles, now: opts.Start, width: 100, height: 30}
}

// Cancelled reports whether the user stopped the run.
func (m Model) Cancelled() bool {
	return m.cancelled
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles input, activity lines and ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.done {
				m.cancelled = true
				if m.opts.Cancel != nil {
					m.opts.Cancel()
				}
			}
			return m, tea.Quit
		case "c":
			if m.opts.Summary == nil {
				return m, nil
			}
			return m, copyToClipboard(m.opts.Summary())
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case LineMsg:
		m.lines = append(m.lines, string(msg))
		if over := len(m.lines) - m.opts.MaxLines; over > 0 {
			m.lines = m.lines[over:]
		}
	case tickMsg:
		m.now = time.Time(msg)
		if m.opts.Source != nil {
			total := m.opts.Source.Total()
			m.history = append(m.history, float64(total-m.lastTotal))
			if len(m.history) > historyLen {
				m.history = m.history[1:]
			}
			m.lastTotal = total
		}
		if m.done {
			return m, nil
		}
		return m, tick()
	case DoneMsg:
		m.done = true
		return m, tea.Quit
	case clipboardCopyMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			m.status = "Summary copied to clipboard"
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	s := m.styles
	width := max(m.width, 40)
	inner := width - 4

	var sections []string
	sections = append(sections, s.Title.Render(m.opts.Title)+s.Dim.Render(strings.Join(m.opts.Targets, "  ")))

	// Run time
	total := m.opts.Deadline.Sub(m.opts.Start)
	elapsed := min(max(m.now.Sub(m.opts.Start), 0), total)
	timeLine := Gauge("time", elapsed.Seconds(), total.Seconds(), inner-14, s) +
		s.Dim.Render(fmt.Sprintf("  %s left", (total-elapsed).Round(time.Second)))
	sections = append(sections, s.Box.Width(inner).Render(timeLine))

	// Counters
	var counts map[string]int
	sum := 0
	if m.opts.Source != nil {
		counts = m.opts.Source.Counts()
		sum = m.opts.Source.Total()
	}
	items := make([]BarChartItem, 0, len(m.opts.Protocols))
	for _, p := range m.opts.Protocols {
		items = append(items, BarChartItem{Label: p, Value: float64(counts[p]), Color: ProtocolColors[p]})
	}
	counters := s.Header.Render(fmt.Sprintf("Actions  total=%d", sum)) + "\n" +
		BarChart(items, inner-2, s) + "\n" +
		s.Dim.Render("rate ") + Sparkline(m.history, inner-7, s)
	sections = append(sections, s.Box.Width(inner).Render(counters))

	// Recent lines
	room := max(m.height-lipgloss.Height(strings.Join(sections, "\n"))-5, 3)
	recent := m.lines
	if len(recent) > room {
		recent = recent[len(recent)-room:]
	}
	rendered := make([]string, 0, len(recent))
	for _, l := range recent {
		rendered = append(rendered, m.renderLine(truncate(l, inner-2)))
	}
	sections = append(sections, s.BoxFocused.Width(inner).Render(strings.Join(rendered, "\n")))

	footer := s.KeyBinding.Render("q") + s.KeyHint.Render(" stop  ") +
		s.KeyBinding.Render("c") + s.KeyHint.Render(" copy summary")
	if m.status != "" {
		footer += "  " + s.Info.Render(m.status)
	}
	sections = append(sections, s.Footer.Render(footer))
	return strings.Join(sections, "\n")
}

// renderLine colors the status field of an activity line.
func (m Model) renderLine(line string) string {
	i, j, ok := logging.StatusSpan(line)
	if !ok {
		return line
	}
	return line[:i] + StatusWord(line[i:j] == "OK", m.styles) + line[j:]
}
