// Package scheduler drives protocol workers on exponential inter-arrival
// times until a shared deadline.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tturner/iotnoise/internal/config"
	"github.com/tturner/iotnoise/internal/logging"
	"github.com/tturner/iotnoise/internal/traffic"
)

const (
	// MaxDelay caps a single inter-arrival gap.
	MaxDelay = 2 * time.Second
	// IdleDelay is used by workers whose rate is zero.
	IdleDelay = 250 * time.Millisecond
	// DefaultJoinTimeout bounds the wait for in-flight actions after the deadline.
	DefaultJoinTimeout = time.Second
)

// Action performs one protocol action.
type Action func(ctx context.Context, rng *rand.Rand) traffic.Result

// Recorder receives every action result.
type Recorder interface {
	Record(res traffic.Result)
}

// WorkerConfig describes one worker. Rate is in events per second.
type WorkerConfig struct {
	Name     string
	Protocol string
	Rate     float64
	Seed     int64
	Action   Action
}

// Actor is the label used in activity lines, e.g. "HTTP:http".
func (w WorkerConfig) Actor() string {
	return w.Protocol + ":" + w.Name
}

// Options are shared by all workers of a run.
type Options struct {
	Deadline    time.Time
	Sink        logging.LineSink
	Recorder    Recorder
	Logger      *logging.Logger // optional per-action diagnostics
	Limiter     *rate.Limiter   // optional aggregate ceiling
	JoinTimeout time.Duration
	Cleanup     []func()
	Now         func() time.Time

	gate *emitGate
}

// emitGate serializes result delivery and refuses it once Run has returned,
// so counters and activity lines always agree with the final summary.
type emitGate struct {
	mu     sync.Mutex
	closed bool
}

func (g *emitGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Report describes how a run ended.
type Report struct {
	Interrupted bool // parent context cancelled before the deadline
	Stragglers  bool // join timeout expired with workers still running
}

// NextDelay draws the gap before the next action.
func NextDelay(rng *rand.Rand, eventsPerSecond float64) time.Duration {
	if eventsPerSecond <= 0 {
		return IdleDelay
	}
	d := time.Duration(rng.ExpFloat64() / eventsPerSecond * float64(time.Second))
	if d > MaxDelay {
		d = MaxDelay
	}
	return d
}

// ClampRate caps a per-minute rate at config.MaxRate and reports whether it did.
func ClampRate(perMinute float64) (float64, bool) {
	if perMinute > config.MaxRate {
		return config.MaxRate, true
	}
	return perMinute, false
}

// WorkerRate converts the aggregate per-minute rate into a worker's
// events per second.
func WorkerRate(perMinute, weight float64) float64 {
	return perMinute / 60 * weight
}

// NewLimiter returns the aggregate ceiling shared by all workers.
func NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(config.MaxRate/60), 4)
}

// Seeds are the per-run values derived from the master seed.
type Seeds struct {
	Device string
	HTTP   int64
	MQTT   int64
	RTSP   int64
	CoAP   int64
}

// DeriveSeeds draws the device suffix first, then one seed per worker in
// HTTP, MQTT, RTSP, CoAP order.
func DeriveSeeds(seed int64) Seeds {
	rng := rand.New(rand.NewSource(seed))
	s := Seeds{Device: fmt.Sprintf("dev%d", 100+rng.Intn(900))}
	s.HTTP = rng.Int63n(1 << 31)
	s.MQTT = rng.Int63n(1 << 31)
	s.RTSP = rng.Int63n(1 << 31)
	s.CoAP = rng.Int63n(1 << 31)
	return s
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RunWorker loops sleep, act, record until loopCtx ends. Actions run under
// actCtx so that one already started may finish after the deadline.
func RunWorker(loopCtx, actCtx context.Context, w WorkerConfig, opts Options) {
	rng := rand.New(rand.NewSource(w.Seed))
	actor := w.Actor()
	for {
		if !sleep(loopCtx, NextDelay(rng, w.Rate)) || loopCtx.Err() != nil {
			return
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(loopCtx); err != nil {
				return
			}
		}
		res := w.Action(actCtx, rng)
		if !opts.emit(actor, res) {
			return
		}
	}
}

// emit hands one result to the recorder and the line sink. It reports false
// when the run has already been closed and the result was dropped.
func (o *Options) emit(actor string, res traffic.Result) bool {
	if o.gate != nil {
		o.gate.mu.Lock()
		defer o.gate.mu.Unlock()
		if o.gate.closed {
			return false
		}
	}
	if o.Recorder != nil {
		o.Recorder.Record(res)
	}
	if o.Sink != nil {
		o.Sink.WriteLine(logging.FormatLine(o.now(), actor, res.Target, res.OK, res.Message))
	}
	if o.Logger != nil {
		o.Logger.LogAction(res.Protocol, res.Target, res.OK, res.RTT, res.Message)
	}
	return true
}

// Run starts one goroutine per worker and blocks until the deadline or
// cancellation of ctx, then waits at most JoinTimeout for in-flight actions.
// Results of actions still running after that are discarded. Cleanup hooks
// run in every case.
func Run(ctx context.Context, workers []WorkerConfig, opts Options) Report {
	opts.gate = &emitGate{}
	defer opts.gate.close()
	defer func() {
		for _, fn := range opts.Cleanup {
			fn()
		}
	}()
	join := opts.JoinTimeout
	if join <= 0 {
		join = DefaultJoinTimeout
	}

	loopCtx, cancelLoop := context.WithDeadline(ctx, opts.Deadline)
	defer cancelLoop()
	actCtx, cancelAct := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelAct()
	stopAct := context.AfterFunc(ctx, cancelAct)
	defer stopAct()

	g, gctx := errgroup.WithContext(loopCtx)
	for _, w := range workers {
		g.Go(func() error {
			RunWorker(gctx, actCtx, w, opts)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	var report Report
	select {
	case <-done:
	case <-loopCtx.Done():
		report.Interrupted = ctx.Err() != nil
		t := time.NewTimer(join)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			report.Stragglers = true
			opts.gate.close()
			cancelAct()
		}
	}
	if ctx.Err() != nil {
		report.Interrupted = true
	}
	return report
}
