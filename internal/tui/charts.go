package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline renders a mini line chart using braille characters, scaled to
// the largest value.
func Sparkline(values []float64, width int, s Styles) string {
	if len(values) == 0 || width < 1 {
		return ""
	}
	blocks := []rune{'⣀', '⣤', '⣶', '⣿'}

	maxVal := 0.0
	for _, v := range values {
		maxVal = max(maxVal, v)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	// Keep the newest values; pad on the left.
	if len(values) > width {
		values = values[len(values)-width:]
	}
	var b strings.Builder
	b.WriteString(strings.Repeat(string(blocks[0]), width-len(values)))
	for _, v := range values {
		level := int(v / maxVal * float64(len(blocks)-1))
		level = min(max(level, 0), len(blocks)-1)
		b.WriteRune(blocks[level])
	}
	return s.Info.Render(b.String())
}

// BarChartItem is a single bar in the chart.
type BarChartItem struct {
	Label string
	Value float64
	Color lipgloss.Color
}

// BarChart renders horizontal bars scaled to the largest item.
func BarChart(items []BarChartItem, width int, s Styles) string {
	if len(items) == 0 {
		return ""
	}
	maxVal := 0.0
	maxLabelLen := 0
	for _, item := range items {
		maxVal = max(maxVal, item.Value)
		maxLabelLen = max(maxLabelLen, len(item.Label))
	}
	if maxVal == 0 {
		maxVal = 1
	}
	barWidth := max(width-maxLabelLen-8, 10)

	lines := make([]string, 0, len(items))
	for _, item := range items {
		filled := int(item.Value / maxVal * float64(barWidth))
		bar := lipgloss.NewStyle().Foreground(item.Color).Render(strings.Repeat("█", filled)) +
			s.Muted.Render(strings.Repeat("░", barWidth-filled))
		lines = append(lines, fmt.Sprintf("%s %s %s",
			s.Dim.Render(padRight(item.Label, maxLabelLen)), bar, s.Bold.Render(fmt.Sprintf("%6.0f", item.Value))))
	}
	return strings.Join(lines, "\n")
}

// Gauge renders label, a filled bar and the percentage.
func Gauge(label string, value, maxValue float64, width int, s Styles) string {
	if maxValue <= 0 {
		maxValue = 1
	}
	percent := min(max(value/maxValue*100, 0), 100)
	barWidth := max(width-len(label)-8, 5)
	filled := int(percent / 100 * float64(barWidth))

	bar := lipgloss.NewStyle().Foreground(DefaultTheme.Accent).Render(strings.Repeat("━", filled)) +
		s.Muted.Render(strings.Repeat("━", barWidth-filled))
	return fmt.Sprintf("%s %s %s", s.Dim.Render(label), bar, s.Dim.Render(fmt.Sprintf("%5.1f%%", percent)))
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return string(r[:min(len(r), width)])
	}
	return string(r[:width-1]) + "…"
}
