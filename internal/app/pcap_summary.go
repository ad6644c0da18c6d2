package app

import (
	"fmt"
	"io"
	"os"

	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/pcap"
)

// PcapSummaryOptions configures the capture summary command.
type PcapSummaryOptions struct {
	Input      string // file or directory
	ConfigPath string
	Targets    string
	Stdout     io.Writer
}

// RunPcapSummary prints per-protocol counts for each capture under Input,
// using the same target resolution as a run.
func RunPcapSummary(opts PcapSummaryOptions) error {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	cfg := config.CreateDefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.ConfigPath, false); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	targets := cfg.ResolveTargets()
	targets.Apply(opts.Targets)

	entries, err := pcap.BuildSummaryEntries(opts.Input, targets)
	if err != nil {
		return err
	}
	failed := 0
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "== %s\n", e.Path)
		if e.Err != nil {
			failed++
			fmt.Fprintf(stdout, "error: %v\n", e.Err)
			continue
		}
		fmt.Fprint(stdout, pcap.FormatCaptureSummary(e.Summary))
	}
	if len(entries) == 0 {
		return fmt.Errorf("no capture files under %s", opts.Input)
	}
	if failed == len(entries) {
		return fmt.Errorf("no capture could be read")
	}
	return nil
}
