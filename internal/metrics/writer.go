package metrics

// Metrics output (CSV/JSON) and summary formatting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tturner/iotnoise/internal/traffic"
)

// SummaryRule frames the end-of-run block.
var SummaryRule = strings.Repeat("=", 54)

var csvHeader = []string{
	"timestamp",
	"protocol",
	"target",
	"success",
	"outcome",
	"rtt_ms",
	"detail",
}

// Writer handles writing metrics to files.
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonFile  *os.File
	jsonCount int
}

// NewWriter creates a new metrics writer. Either path may be empty.
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}

	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create CSV file: %w", err)
		}
		w.csvFile = file
		w.csvWriter = csv.NewWriter(file)
		if err := w.csvWriter.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.csvWriter.Flush()
	}

	if jsonPath != "" {
		file, err := os.Create(jsonPath)
		if err != nil {
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("create JSON file: %w", err)
		}
		w.jsonFile = file
		if _, err := file.WriteString("[\n"); err != nil {
			file.Close()
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("write JSON start: %w", err)
		}
	}

	return w, nil
}

type jsonMetric struct {
	Timestamp time.Time `json:"timestamp"`
	Protocol  string    `json:"protocol"`
	Target    string    `json:"target"`
	Success   bool      `json:"success"`
	Outcome   string    `json:"outcome"`
	RTTMs     float64   `json:"rtt_ms,omitempty"`
	Detail    string    `json:"detail"`
}

// WriteMetric writes a single metric.
func (w *Writer) WriteMetric(m Metric) error {
	if w.csvWriter != nil {
		record := []string{
			m.Timestamp.Format(time.RFC3339Nano),
			m.Protocol,
			m.Target,
			fmt.Sprintf("%t", m.Success),
			m.Outcome,
			formatRTT(m.RTTMs),
			m.Detail,
		}
		if err := w.csvWriter.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csvWriter.Flush()
	}

	if w.jsonFile != nil {
		data, err := json.Marshal(jsonMetric(m))
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if w.jsonCount > 0 {
			if _, err := w.jsonFile.WriteString(",\n"); err != nil {
				return fmt.Errorf("write JSON comma: %w", err)
			}
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("indent JSON: %w", err)
		}
		if _, err := w.jsonFile.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		w.jsonCount++
	}

	return nil
}

// Close flushes and closes the writer.
func (w *Writer) Close() error {
	var errs []error

	if w.csvWriter != nil {
		w.csvWriter.Flush()
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.jsonFile != nil {
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
		if err := w.jsonFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close writer: %v", errs)
	}
	return nil
}

// formatRTT formats RTT value for CSV (empty string if 0)
func formatRTT(rtt float64) string {
	if rtt == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", rtt)
}

// FormatRunSummary renders the block printed when a run ends:
//
//	======...
//	<ts> SUMMARY  total=N
//	HTTP: n
//	...
//	======...
func FormatRunSummary(ts time.Time, layout string, counts map[string]int) string {
	total := 0
	for _, p := range traffic.Protocols {
		total += counts[p]
	}
	var b strings.Builder
	b.WriteString("\n" + SummaryRule + "\n")
	fmt.Fprintf(&b, "%s SUMMARY  total=%d\n", ts.Format(layout), total)
	for _, p := range traffic.Protocols {
		fmt.Fprintf(&b, "%4s: %d\n", p, counts[p])
	}
	b.WriteString(SummaryRule + "\n")
	return b.String()
}

// FormatSummary formats a summary for human-readable output.
func FormatSummary(summary *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total Actions: %d\n", summary.TotalOperations)
	if summary.TotalOperations == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Successful: %d (%.1f%%)\n",
		summary.SuccessfulOps,
		float64(summary.SuccessfulOps)/float64(summary.TotalOperations)*100)
	fmt.Fprintf(&b, "Failed: %d (%.1f%%)\n",
		summary.FailedOps,
		float64(summary.FailedOps)/float64(summary.TotalOperations)*100)
	if summary.Blocked > 0 {
		fmt.Fprintf(&b, "Blocked by avoidance: %d\n", summary.Blocked)
	}
	if summary.NoTarget > 0 {
		fmt.Fprintf(&b, "No target: %d\n", summary.NoTarget)
	}

	if summary.AvgRTT > 0 {
		b.WriteString("\nRTT Statistics (completed actions):\n")
		fmt.Fprintf(&b, "  Min: %.3f ms\n", summary.MinRTT)
		fmt.Fprintf(&b, "  Max: %.3f ms\n", summary.MaxRTT)
		fmt.Fprintf(&b, "  Avg: %.3f ms\n", summary.AvgRTT)
		fmt.Fprintf(&b, "  P50: %.3f ms  P90: %.3f ms  P95: %.3f ms  P99: %.3f ms\n",
			summary.P50RTT, summary.P90RTT, summary.P95RTT, summary.P99RTT)
		if len(summary.RTTBuckets) > 0 {
			fmt.Fprintf(&b, "  Buckets: <1ms=%d 1-5ms=%d 5-10ms=%d 10-50ms=%d 50-100ms=%d 100-500ms=%d >500ms=%d\n",
				summary.RTTBuckets["lt_1ms"],
				summary.RTTBuckets["1_5ms"],
				summary.RTTBuckets["5_10ms"],
				summary.RTTBuckets["10_50ms"],
				summary.RTTBuckets["50_100ms"],
				summary.RTTBuckets["100_500ms"],
				summary.RTTBuckets["gt_500ms"],
			)
		}
	}

	b.WriteString("\nPer-Protocol Statistics:\n")
	for _, p := range traffic.Protocols {
		stats, ok := summary.ByProtocol[p]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s: %d actions (%d ok, %d failed)", p, stats.Count, stats.Success, stats.Failed)
		if stats.AvgRTT > 0 {
			fmt.Fprintf(&b, " - RTT: min=%.3fms, max=%.3fms, avg=%.3fms", stats.MinRTT, stats.MaxRTT, stats.AvgRTT)
		}
		b.WriteString("\n")
	}

	if len(summary.ByOutcome) > 0 {
		outcomes := make([]string, 0, len(summary.ByOutcome))
		for k := range summary.ByOutcome {
			outcomes = append(outcomes, k)
		}
		sort.Strings(outcomes)
		b.WriteString("\nOutcomes:")
		for _, k := range outcomes {
			fmt.Fprintf(&b, " %s=%d", k, summary.ByOutcome[k])
		}
		b.WriteString("\n")
	}

	return b.String()
}
