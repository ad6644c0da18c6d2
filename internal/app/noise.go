package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/tturner/iotnoise/internal/artifact"
	"github.com/tturner/iotnoise/internal/avoid"
	"github.com/tturner/iotnoise/internal/capture"
	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/logging"
	"github.com/tturner/iotnoise/internal/metrics"
	"github.com/tturner/iotnoise/internal/pcap"
	"github.com/tturner/iotnoise/internal/progress"
	"github.com/tturner/iotnoise/internal/scheduler"
	"github.com/tturner/iotnoise/internal/status"
	"github.com/tturner/iotnoise/internal/traffic"
	"github.com/tturner/iotnoise/internal/tui"
)

// NoiseOptions carries the run command's flags. Nil overrides keep the
// profile's value.
type NoiseOptions struct {
	ConfigPath       string
	Duration         *int
	Rate             *float64
	Seed             *int64
	Targets          string
	AttacksJSON      string
	Rules            []string
	LogFile          string
	MetricsFile      string
	OutputDir        string
	PCAPFile         string
	CaptureInterface string
	StatusAddr       string
	TUI              bool
	Quiet            bool
	Verbose          bool
	Debug            bool
	NoColor          bool

	// Stdout receives activity lines and the summary; nil means os.Stdout.
	Stdout io.Writer
}

// RunNoise runs until the deadline or SIGINT/SIGTERM.
func RunNoise(opts NoiseOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return RunNoiseContext(ctx, opts)
}

// RunNoiseContext is RunNoise with the stop signal supplied by ctx.
func RunNoiseContext(ctx context.Context, opts NoiseOptions) error {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	logLevel := logging.LogLevelInfo
	if opts.Debug {
		logLevel = logging.LogLevelDebug
	} else if opts.Verbose {
		logLevel = logging.LogLevelVerbose
	}
	logger, err := logging.NewLogger(logLevel, opts.LogFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	cfg, err := loadProfile(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return fmt.Errorf("load config: %w", err)
	}

	duration := cfg.EffectiveDuration()
	requested := cfg.EffectiveRate()
	ratePerMin, capped := scheduler.ClampRate(requested)
	targets := cfg.ResolveTargets()
	targets.Apply(opts.Targets)

	rulePatterns := opts.Rules
	if len(rulePatterns) == 0 {
		rulePatterns = cfg.Rules
	}
	rulePaths := config.ExpandRuleGlobs(rulePatterns)
	attacksJSON := opts.AttacksJSON
	if attacksJSON == "" {
		attacksJSON = cfg.AttacksJSON
	}
	db, stats, loadErrs := avoid.Build(rulePaths, attacksJSON)
	for _, err := range loadErrs {
		logger.Verbose("%v", err)
	}
	logger.Verbose("Avoidance: %d rule files read, %d skipped, %d rule lines, %d attacks, %d patterns dropped",
		stats.RuleFiles, stats.SkippedFiles, stats.RuleLines, stats.Attacks, stats.DroppedPatterns)

	seeds := scheduler.DeriveSeeds(cfg.Seed)

	var outputMgr *artifact.OutputManager
	if opts.OutputDir != "" {
		outputMgr, err = artifact.NewOutputManager(opts.OutputDir)
		if err != nil {
			return fmt.Errorf("create output manager: %w", err)
		}
		if opts.MetricsFile == "" {
			opts.MetricsFile = outputMgr.MetricsPath()
			outputMgr.SetMetricsFile(filepath.Base(opts.MetricsFile))
		}
		outputMgr.SetRun(int(duration/time.Second), ratePerMin, cfg.Seed, seeds.Device)
		outputMgr.SetTargets(targetMap(targets))
		outputMgr.SetAvoidance(rulePaths, attacksJSON, artifact.AvoidanceStats{
			Literals:  db.LiteralCount(),
			Patterns:  db.PatternCount(),
			RuleLines: stats.RuleLines,
		})
		if opts.PCAPFile != "" && !filepath.IsAbs(opts.PCAPFile) && filepath.Dir(opts.PCAPFile) == "." {
			opts.PCAPFile = filepath.Join(opts.OutputDir, opts.PCAPFile)
		}
	}

	// Activity lines go to stdout unless the dashboard or the progress bar
	// owns the terminal.
	consoleOwned := opts.TUI || opts.Quiet
	activityOpts := logging.ActivityOptions{
		Color: !opts.NoColor && !color.NoColor && stdout == os.Stdout,
	}
	if !consoleOwned {
		activityOpts.Console = stdout
	}
	if outputMgr != nil {
		f, err := os.Create(outputMgr.ActivityPath())
		if err != nil {
			return fmt.Errorf("create activity log: %w", err)
		}
		defer f.Close()
		activityOpts.File = f
		outputMgr.SetActivityLog(filepath.Base(outputMgr.ActivityPath()))
	}
	activity := logging.NewActivityLog(activityOpts)

	sink := metrics.NewSink()
	if opts.MetricsFile != "" {
		w, err := metrics.NewWriter(opts.MetricsFile, "")
		if err != nil {
			return fmt.Errorf("create metrics writer: %w", err)
		}
		defer w.Close()
		sink.SetWriter(w)
	}

	if capped {
		activity.Log("WARN", "-", true, fmt.Sprintf("rate capped %s->%d", formatRate(requested), int(config.MaxRate)))
	}
	activity.Log("START", "-", true, fmt.Sprintf("duration=%ds rate=%.1f/min seed=%d", int(duration/time.Second), ratePerMin, cfg.Seed))
	activity.Log("TARGETS", "-", true, targets.String())
	activity.Log("AVOID", "-", true, fmt.Sprintf("sub=%d rx=%d rules=%d", db.LiteralCount(), db.PatternCount(), len(rulePaths)))
	logger.LogStartup(duration, ratePerMin, cfg.Seed, targets.String(), len(rulePaths), opts.ConfigPath)

	httpAct := traffic.NewHTTP(cfg.HTTP, targets, db, logger)
	mqttAct := traffic.NewMQTT(cfg.MQTT, targets[config.TargetMQTT], seeds.Device, db, logger)
	rtspAct := traffic.NewRTSP(cfg.RTSP, targets[config.TargetRTSP], db, logger)
	coapAct := traffic.NewCoAP(cfg.CoAP, targets[config.TargetCoAP], db, logger)
	workers := []scheduler.WorkerConfig{
		{Name: "http", Protocol: traffic.ProtoHTTP, Rate: scheduler.WorkerRate(ratePerMin, cfg.Weights.HTTP), Seed: seeds.HTTP, Action: httpAct.Act},
		{Name: "mqtt", Protocol: traffic.ProtoMQTT, Rate: scheduler.WorkerRate(ratePerMin, cfg.Weights.MQTT), Seed: seeds.MQTT, Action: mqttAct.Act},
		{Name: "rtsp", Protocol: traffic.ProtoRTSP, Rate: scheduler.WorkerRate(ratePerMin, cfg.Weights.RTSP), Seed: seeds.RTSP, Action: rtspAct.Act},
		{Name: "coap", Protocol: traffic.ProtoCoAP, Rate: scheduler.WorkerRate(ratePerMin, cfg.Weights.CoAP), Seed: seeds.CoAP, Action: coapAct.Act},
	}

	start := time.Now()
	deadline := start.Add(duration)

	if opts.StatusAddr != "" {
		exporter := metrics.NewExporter()
		sink.SetExporter(exporter)
		info := status.Info{
			Device:     seeds.Device,
			Seed:       cfg.Seed,
			RatePerMin: ratePerMin,
			Start:      start,
			Deadline:   deadline,
			Targets:    targetMap(targets),
		}
		if outputMgr != nil {
			info.RunID = outputMgr.RunID()
		}
		srv, err := status.Start(opts.StatusAddr, status.NewRouter(sink, exporter, info))
		if err != nil {
			return err
		}
		logger.Info("Status server listening on http://%s", srv.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var pcapCapture *capture.Capture
	if opts.PCAPFile != "" {
		pcapCapture, err = capture.StartCaptureForTargets(opts.PCAPFile, targets, opts.CaptureInterface)
		if err != nil {
			return fmt.Errorf("start packet capture: %w", err)
		}
		logger.Info("Capturing on %s to %s", pcapCapture.Interface(), opts.PCAPFile)
		if outputMgr != nil {
			outputMgr.SetPCAPFile(filepath.Base(opts.PCAPFile))
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	schedOpts := scheduler.Options{
		Deadline:    deadline,
		Sink:        activity,
		Recorder:    sink,
		Logger:      logger,
		Limiter:     scheduler.NewLimiter(),
		JoinTimeout: cfg.JoinTimeout,
		Cleanup:     []func(){mqttAct.Close},
	}

	var report scheduler.Report
	switch {
	case opts.TUI:
		report, err = runWithDashboard(runCtx, cancelRun, workers, schedOpts, activity, sink, targets, start, deadline)
		if err != nil {
			logger.Error("Dashboard failed: %v", err)
		}
	case opts.Quiet:
		bar := progress.NewRunBar(duration, "iotnoise")
		watchCtx, stopWatch := context.WithCancel(context.Background())
		watched := make(chan struct{})
		go func() {
			bar.Watch(watchCtx, 200*time.Millisecond, sink.Total)
			close(watched)
		}()
		report = scheduler.Run(runCtx, workers, schedOpts)
		stopWatch()
		<-watched
	default:
		report = scheduler.Run(runCtx, workers, schedOpts)
	}
	if report.Interrupted {
		logger.Info("Run interrupted, %d actions recorded", sink.Total())
	}
	if report.Stragglers {
		logger.Verbose("Some actions were still in flight after the join timeout")
	}

	if pcapCapture != nil {
		if err := pcapCapture.Stop(); err != nil {
			logger.Error("Stop capture: %v", err)
		} else {
			logger.Info("Captured %d packets", pcapCapture.GetPacketCount())
			if cs, err := pcap.SummarizeCapture(opts.PCAPFile, targets); err == nil {
				logger.Verbose("Capture summary:\n%s", pcap.FormatCaptureSummary(cs))
			}
		}
	}

	block := metrics.FormatRunSummary(time.Now(), logging.TimestampLayout, sink.Counts())
	activity.Print(block)
	if consoleOwned {
		fmt.Fprint(stdout, block)
	}
	summary := sink.GetSummary()
	if opts.Verbose || opts.Debug {
		fmt.Fprintf(os.Stderr, "\n%s", metrics.FormatSummary(summary))
	}

	if outputMgr != nil {
		if err := outputMgr.Finalize(summary, report.Interrupted, 0, nil); err != nil {
			logger.Error("Failed to finalize artifacts: %v", err)
		} else {
			logger.Info("Artifacts written to: %s", opts.OutputDir)
		}
	}
	return nil
}

func loadProfile(opts NoiseOptions) (*config.Config, error) {
	cfg := config.CreateDefaultConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadConfig(opts.ConfigPath, false); err != nil {
			return nil, err
		}
	}
	if opts.Duration != nil {
		cfg.Duration = *opts.Duration
	}
	if opts.Rate != nil {
		cfg.Rate = *opts.Rate
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	return cfg, nil
}

func runWithDashboard(ctx context.Context, cancel context.CancelFunc, workers []scheduler.WorkerConfig, opts scheduler.Options,
	activity *logging.ActivityLog, sink *metrics.Sink, targets config.Targets, start, deadline time.Time) (scheduler.Report, error) {
	labels := make([]string, 0, len(targets))
	for _, k := range targets.Keys() {
		labels = append(labels, k+"="+targets[k].String())
	}
	dash := tui.NewDashboard(tui.Options{
		Protocols: traffic.Protocols,
		Targets:   labels,
		Start:     start,
		Deadline:  deadline,
		Source:    sink,
		Cancel:    cancel,
		Summary: func() string {
			return metrics.FormatRunSummary(time.Now(), logging.TimestampLayout, sink.Counts())
		},
	})
	activity.AddTap(dash.Tap)

	done := make(chan scheduler.Report, 1)
	go func() {
		report := scheduler.Run(ctx, workers, opts)
		done <- report
		dash.Done()
	}()
	_, err := dash.Run(ctx)
	return <-done, err
}

func targetMap(targets config.Targets) map[string]string {
	out := make(map[string]string, len(targets))
	for k, t := range targets {
		if t.Host == "" {
			out[k] = "-"
			continue
		}
		out[k] = t.String()
	}
	return out
}

// formatRate prints a rate the way the WARN line expects: always with a
// fractional part.
func formatRate(r float64) string {
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if r == float64(int64(r)) {
		s += ".0"
	}
	return s
}
