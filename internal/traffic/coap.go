package traffic

import (
	"context"
	"math/rand"
	"time"

	"github.com/tturner/iotnoise/internal/coap"
	"github.com/tturner/iotnoise/internal/config"
	nerrors "github.com/tturner/iotnoise/internal/errors"
	"github.com/tturner/iotnoise/internal/logging"
)

const coapPeek = 64

// CoAP sends confirmable GETs to the sensor endpoint. There is no
// retransmission; a reply only adds "resp" to the message.
type CoAP struct {
	base
	cfg    config.CoAPConfig
	target config.Target
}

// NewCoAP creates the CoAP action.
func NewCoAP(cfg config.CoAPConfig, target config.Target, gate Gate, logger *logging.Logger) *CoAP {
	return &CoAP{base: newBase(gate, logger, cfg.Timeout), cfg: cfg, target: target}
}

// Act sends one GET.
func (c *CoAP) Act(ctx context.Context, rng *rand.Rand) Result {
	if !c.target.Configured() {
		return noTarget(ProtoCoAP)
	}
	res := Result{Protocol: ProtoCoAP, Target: c.target.String()}
	path := choose(rng, c.cfg.Paths)
	if _, blocked := c.gate.Classify(path); blocked {
		res.Message, res.Outcome = "blocked(path)", OutcomeBlocked
		return res
	}
	pkt := coap.NewGet(uint16(rng.Intn(0x10000)), path)

	start := time.Now()
	replied, err := c.send(ctx, pkt)
	res.RTT = time.Since(start)
	if err != nil {
		res.Message, res.Outcome = nerrors.Kind(err), OutcomeError
		return res
	}
	res.OK, res.Outcome = true, OutcomeOK
	res.Message = "GET " + path
	if replied {
		res.Message += " resp"
	}
	return res
}

func (c *CoAP) send(ctx context.Context, pkt []byte) (bool, error) {
	conn, err := c.dial(ctx, "udp", c.target)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	c.hex("coap tx", pkt)
	if _, err := conn.Write(pkt); err != nil {
		return false, err
	}
	buf := make([]byte, coapPeek)
	n, err := conn.Read(buf)
	return err == nil && n > 0, nil
}
