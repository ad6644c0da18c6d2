// Package traffic crafts, gates and sends one benign request per call for
// each simulated device protocol.
package traffic

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/tturner/iotnoise/internal/config"
	nerrors "github.com/tturner/iotnoise/internal/errors"
	"github.com/tturner/iotnoise/internal/logging"
)

// Protocol labels used in results, counters and log lines.
const (
	ProtoHTTP = "HTTP"
	ProtoMQTT = "MQTT"
	ProtoRTSP = "RTSP"
	ProtoCoAP = "COAP"
)

// Protocols lists the labels in summary order.
var Protocols = []string{ProtoHTTP, ProtoMQTT, ProtoRTSP, ProtoCoAP}

// Outcome classifies a Result for metrics.
const (
	OutcomeOK         = "ok"
	OutcomeDrop       = "drop"
	OutcomeDisconnect = "disconnect"
	OutcomeBlocked    = "blocked"
	OutcomeNoTarget   = "no-target"
	OutcomeError      = "error"
)

// Result is the outcome of one action. Failures never escape as errors.
type Result struct {
	Protocol string
	Target   string // host:port, or "-" when unconfigured
	OK       bool
	Message  string
	Outcome  string
	RTT      time.Duration
}

// Gate decides whether crafted text may be sent.
type Gate interface {
	Classify(text string) (reason string, blocked bool)
}

type openGate struct{}

func (openGate) Classify(string) (string, bool) { return "", false }

// base holds what every action shares.
type base struct {
	gate   Gate
	logger *logging.Logger
	dialer net.Dialer
}

func newBase(gate Gate, logger *logging.Logger, dialTimeout time.Duration) base {
	if gate == nil {
		gate = openGate{}
	}
	return base{gate: gate, logger: logger, dialer: net.Dialer{Timeout: dialTimeout}}
}

func (b *base) hex(label string, data []byte) {
	if b.logger != nil {
		b.logger.LogHex(label, data)
	}
}

// dial connects to tgt, logging a failure with operator hints at debug level.
func (b *base) dial(ctx context.Context, network string, tgt config.Target) (net.Conn, error) {
	conn, err := b.dialer.DialContext(ctx, network, tgt.Addr())
	if err != nil && b.logger != nil && ctx.Err() == nil {
		b.logger.Debug("%v", nerrors.WrapNetworkError(err, tgt.Host, tgt.Port))
	}
	return conn, err
}

// closeOnCancel closes conn as soon as ctx is done so a blocked read or
// write returns. The returned func detaches the hook.
func closeOnCancel(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() { _ = conn.Close() })
}

func noTarget(protocol string) Result {
	return Result{Protocol: protocol, Target: "-", Message: OutcomeNoTarget, Outcome: OutcomeNoTarget}
}

func choose(rng *rand.Rand, items []string) string {
	return items[rng.Intn(len(items))]
}
