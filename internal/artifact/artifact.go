// Package artifact writes the structured record of a noise run.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tturner/iotnoise/internal/metrics"
)

// RunMetadata contains metadata about a run.
type RunMetadata struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	// Configuration
	Device      string            `json:"device,omitempty"`
	Seed        int64             `json:"seed"`
	RatePerMin  float64           `json:"rate_per_min"`
	DurationSec int               `json:"duration_sec"`
	Targets     map[string]string `json:"targets"`
	RuleFiles   []string          `json:"rule_files,omitempty"`
	AttacksJSON string            `json:"attacks_json,omitempty"`
	Avoidance   AvoidanceStats    `json:"avoidance"`

	// Results
	Stats       RunStats `json:"stats"`
	Interrupted bool     `json:"interrupted,omitempty"`
	ExitCode    int      `json:"exit_code"`
	Error       string   `json:"error,omitempty"`

	Artifacts ArtifactPaths `json:"artifacts"`
}

// AvoidanceStats mirrors the AVOID startup line.
type AvoidanceStats struct {
	Literals  int `json:"literals"`
	Patterns  int `json:"patterns"`
	RuleLines int `json:"rule_lines"`
}

// RunStats contains statistics from a run.
type RunStats struct {
	TotalActions int            `json:"total_actions"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	Blocked      int            `json:"blocked"`
	ByProtocol   map[string]int `json:"by_protocol"`
	ByOutcome    map[string]int `json:"by_outcome,omitempty"`
	// RTT in milliseconds
	AvgRTTMs float64 `json:"avg_rtt_ms"`
	P50RTTMs float64 `json:"p50_rtt_ms"`
	P95RTTMs float64 `json:"p95_rtt_ms"`
	P99RTTMs float64 `json:"p99_rtt_ms"`
	MaxRTTMs float64 `json:"max_rtt_ms"`
}

// ArtifactPaths contains relative paths to generated artifacts.
type ArtifactPaths struct {
	RunJSON     string `json:"run_json"`
	MetricsCSV  string `json:"metrics_csv,omitempty"`
	SummaryTxt  string `json:"summary_txt,omitempty"`
	PCAPFile    string `json:"pcap_file,omitempty"`
	ActivityLog string `json:"activity_log,omitempty"`
}

// OutputManager manages artifact output for a run.
type OutputManager struct {
	outputDir string
	runID     string
	metadata  *RunMetadata
}

// NewOutputManager creates the directory and assigns a fresh run id.
func NewOutputManager(outputDir string) (*OutputManager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	runID := uuid.NewString()
	return &OutputManager{
		outputDir: outputDir,
		runID:     runID,
		metadata: &RunMetadata{
			RunID:     runID,
			StartTime: time.Now(),
			Targets:   map[string]string{},
			Artifacts: ArtifactPaths{RunJSON: "run.json"},
		},
	}, nil
}

// OutputDir returns the output directory path.
func (m *OutputManager) OutputDir() string {
	return m.outputDir
}

// RunID returns the run identifier.
func (m *OutputManager) RunID() string {
	return m.runID
}

// Metadata exposes the metadata for inspection.
func (m *OutputManager) Metadata() *RunMetadata {
	return m.metadata
}

// SetRun records the effective run parameters.
func (m *OutputManager) SetRun(durationSec int, ratePerMin float64, seed int64, device string) {
	m.metadata.DurationSec = durationSec
	m.metadata.RatePerMin = ratePerMin
	m.metadata.Seed = seed
	m.metadata.Device = device
}

// SetTargets records the resolved targets as key -> host:port ("-" if unset).
func (m *OutputManager) SetTargets(targets map[string]string) {
	for k, v := range targets {
		m.metadata.Targets[k] = v
	}
}

// SetAvoidance records the avoidance inputs and database size.
func (m *OutputManager) SetAvoidance(ruleFiles []string, attacksJSON string, stats AvoidanceStats) {
	m.metadata.RuleFiles = append([]string(nil), ruleFiles...)
	m.metadata.AttacksJSON = attacksJSON
	m.metadata.Avoidance = stats
}

// SetPCAPFile sets the PCAP file path (relative to output directory).
func (m *OutputManager) SetPCAPFile(filename string) {
	m.metadata.Artifacts.PCAPFile = filename
}

// SetMetricsFile sets the metrics file path (relative to output directory).
func (m *OutputManager) SetMetricsFile(filename string) {
	m.metadata.Artifacts.MetricsCSV = filename
}

// SetActivityLog sets the activity log path (relative to output directory).
func (m *OutputManager) SetActivityLog(filename string) {
	m.metadata.Artifacts.ActivityLog = filename
}

// PCAPPath returns the full path for the PCAP file.
func (m *OutputManager) PCAPPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("capture_%s.pcap", m.runID))
}

// MetricsPath returns the full path for the metrics file.
func (m *OutputManager) MetricsPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("metrics_%s.csv", m.runID))
}

// ActivityPath returns the full path for the activity log copy.
func (m *OutputManager) ActivityPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("activity_%s.log", m.runID))
}

// SummaryPath returns the full path for the summary file.
func (m *OutputManager) SummaryPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("summary_%s.txt", m.runID))
}

// RunJSONPath returns the full path for the run.json file.
func (m *OutputManager) RunJSONPath() string {
	return filepath.Join(m.outputDir, "run.json")
}

// Finalize completes the run and writes summary_<id>.txt and run.json.
func (m *OutputManager) Finalize(summary *metrics.Summary, interrupted bool, exitCode int, runErr error) error {
	m.metadata.EndTime = time.Now()
	m.metadata.Duration = m.metadata.EndTime.Sub(m.metadata.StartTime).Round(time.Millisecond).String()
	m.metadata.Interrupted = interrupted
	m.metadata.ExitCode = exitCode
	if runErr != nil {
		m.metadata.Error = runErr.Error()
	}

	if summary != nil {
		byProto := make(map[string]int, len(summary.ByProtocol))
		for p, st := range summary.ByProtocol {
			byProto[p] = st.Count
		}
		m.metadata.Stats = RunStats{
			TotalActions: summary.TotalOperations,
			Successful:   summary.SuccessfulOps,
			Failed:       summary.FailedOps,
			Blocked:      summary.Blocked,
			ByProtocol:   byProto,
			ByOutcome:    summary.ByOutcome,
			AvgRTTMs:     summary.AvgRTT,
			P50RTTMs:     summary.P50RTT,
			P95RTTMs:     summary.P95RTT,
			P99RTTMs:     summary.P99RTT,
			MaxRTTMs:     summary.MaxRTT,
		}
	}

	m.metadata.Artifacts.SummaryTxt = filepath.Base(m.SummaryPath())
	if err := m.writeSummary(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := m.writeRunJSON(); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

func (m *OutputManager) writeSummary(summary *metrics.Summary) error {
	f, err := os.Create(m.SummaryPath())
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "iotnoise Run Summary\n")
	fmt.Fprintf(f, "====================\n\n")
	fmt.Fprintf(f, "Run ID:     %s\n", m.metadata.RunID)
	fmt.Fprintf(f, "Start Time: %s\n", m.metadata.StartTime.Format(time.RFC3339))
	fmt.Fprintf(f, "End Time:   %s\n", m.metadata.EndTime.Format(time.RFC3339))
	fmt.Fprintf(f, "Duration:   %s", m.metadata.Duration)
	if m.metadata.Interrupted {
		fmt.Fprintf(f, " (interrupted)")
	}
	fmt.Fprintf(f, "\n\n")

	fmt.Fprintf(f, "Seed: %d  Rate: %.1f/min  Device: %s\n", m.metadata.Seed, m.metadata.RatePerMin, m.metadata.Device)
	fmt.Fprintf(f, "Avoidance: %d literals, %d patterns from %d rule lines\n\n",
		m.metadata.Avoidance.Literals, m.metadata.Avoidance.Patterns, m.metadata.Avoidance.RuleLines)

	if summary != nil {
		fmt.Fprintf(f, "Results\n")
		fmt.Fprintf(f, "-------\n")
		fmt.Fprint(f, metrics.FormatSummary(summary))
		fmt.Fprintln(f)
	}
	if m.metadata.Error != "" {
		fmt.Fprintf(f, "Error: %s\n\n", m.metadata.Error)
	}

	fmt.Fprintf(f, "Artifacts\n")
	fmt.Fprintf(f, "---------\n")
	if m.metadata.Artifacts.PCAPFile != "" {
		fmt.Fprintf(f, "PCAP:     %s\n", m.metadata.Artifacts.PCAPFile)
	}
	if m.metadata.Artifacts.MetricsCSV != "" {
		fmt.Fprintf(f, "Metrics:  %s\n", m.metadata.Artifacts.MetricsCSV)
	}
	if m.metadata.Artifacts.ActivityLog != "" {
		fmt.Fprintf(f, "Activity: %s\n", m.metadata.Artifacts.ActivityLog)
	}
	fmt.Fprintf(f, "Summary:  %s\n", m.metadata.Artifacts.SummaryTxt)
	fmt.Fprintf(f, "Run JSON: %s\n", m.metadata.Artifacts.RunJSON)
	return nil
}

func (m *OutputManager) writeRunJSON() error {
	data, err := json.MarshalIndent(m.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.RunJSONPath(), data, 0644)
}
