package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tturner/iotnoise/internal/app"
	"github.com/tturner/iotnoise/internal/config"
)

type runFlags struct {
	durationSec      int
	rate             float64
	seed             int64
	targets          string
	attacksJSON      string
	rules            []string
	config           string
	logFile          string
	metricsFile      string
	outputDir        string
	pcapFile         string
	captureInterface string
	statusAddr       string
	tui              bool
	quiet            bool
	verbose          bool
	debug            bool
	noColor          bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate background noise against the decoys",
		Long: `Run four protocol workers until the duration elapses or Ctrl+C is pressed.

Each worker fires on exponential inter-arrival times drawn from its share of
the aggregate rate (HTTP 35%, MQTT 45%, RTSP 17%, CoAP 3%):

  HTTP  GET/HEAD of common status pages on the router and camera web UIs
  MQTT  QoS 0 telemetry publishes from one simulated sensor session
  RTSP  OPTIONS, sometimes DESCRIBE, against the camera stream paths
  CoAP  confirmable GETs of sensor resources

Every request is checked against the avoidance database first. The database is
learned from the IDS rule files (--rules, default *.rules and suricata.rules)
and the attack scenario JSON (--attacks-json); anything that matches is not
sent and is logged as "blocked".

Each action prints one line:

  <timestamp> <PROTO:worker> <target> OK|ERR <detail>

and the run ends with a per-protocol summary. The same seed reproduces the
device id and the request sequence.

Values from --config are used unless the matching flag is given.`,
		Example: `  # Three minutes at the default 60 requests/minute
  iotnoise run

  # Ten minutes at 120/min against a custom router and broker
  iotnoise run --duration 600 --rate 120 --targets router=192.168.1.1,mqtt=192.168.1.20:1883

  # Avoid a rule set and an attack plan, keep artifacts
  iotnoise run --rules 'rules/*.rules' --attacks-json attacks.json --output-dir runs/

  # Live dashboard plus a status endpoint for scraping
  iotnoise run --tui --status-addr 127.0.0.1:9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.tui && flags.quiet {
				return fmt.Errorf("--tui and --quiet cannot be combined")
			}
			err := app.RunNoise(noiseOptions(cmd, flags))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			return nil
		},
	}

	addRunFlags(cmd, flags)
	return cmd
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().IntVar(&flags.durationSec, "duration", config.DefaultDuration, "Run time in seconds (minimum 1)")
	cmd.Flags().Float64Var(&flags.rate, "rate", config.DefaultRate, fmt.Sprintf("Aggregate requests per minute (<=0 uses %.0f, capped at %.0f)", config.FallbackRate, config.MaxRate))
	cmd.Flags().Int64Var(&flags.seed, "seed", config.DefaultSeed, "Random seed for the device id and request sequence")
	cmd.Flags().StringVar(&flags.targets, "targets", "", "Decoy overrides: key=host[:port],... (keys: router, camera, mqtt, rtsp, coap)")
	cmd.Flags().StringVar(&flags.attacksJSON, "attacks-json", "", "Attack scenario JSON whose commands must never be sent")
	cmd.Flags().StringArrayVar(&flags.rules, "rules", nil, "IDS rule file or glob (repeatable; default *.rules and suricata.rules)")
	cmd.Flags().StringVar(&flags.config, "config", "", "YAML run profile (see 'iotnoise init')")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Diagnostic log file path (default: stderr only)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Per-action CSV output file")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Output directory for artifacts (run.json, summary, activity log, metrics)")
	cmd.Flags().StringVar(&flags.pcapFile, "pcap", "", "Capture the generated traffic to a PCAP file")
	cmd.Flags().StringVar(&flags.captureInterface, "capture-interface", "", "Network interface for PCAP capture (auto-detected if not specified)")
	cmd.Flags().StringVar(&flags.statusAddr, "status-addr", "", "Serve /status, /metrics and /healthz on this address during the run")
	cmd.Flags().BoolVar(&flags.tui, "tui", false, "Show the live dashboard instead of raw lines")
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, "Show a progress bar instead of raw lines")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable verbose output")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Enable debug output (includes packet hex)")
	cmd.Flags().BoolVar(&flags.noColor, "no-color", false, "Disable colored OK/ERR")
}

// noiseOptions maps flags to options. Run values are only overridden when
// the flag was given, so a profile's values survive.
func noiseOptions(cmd *cobra.Command, flags *runFlags) app.NoiseOptions {
	opts := app.NoiseOptions{
		ConfigPath:       flags.config,
		Targets:          flags.targets,
		AttacksJSON:      flags.attacksJSON,
		Rules:            flags.rules,
		LogFile:          flags.logFile,
		MetricsFile:      flags.metricsFile,
		OutputDir:        flags.outputDir,
		PCAPFile:         flags.pcapFile,
		CaptureInterface: flags.captureInterface,
		StatusAddr:       flags.statusAddr,
		TUI:              flags.tui,
		Quiet:            flags.quiet,
		Verbose:          flags.verbose,
		Debug:            flags.debug,
		NoColor:          flags.noColor,
	}
	if cmd.Flags().Changed("duration") {
		opts.Duration = &flags.durationSec
	}
	if cmd.Flags().Changed("rate") {
		opts.Rate = &flags.rate
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = &flags.seed
	}
	return opts
}
