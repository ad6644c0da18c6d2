package traffic

import (
	"context"
	"math/rand"
	"time"

	"github.com/tturner/iotnoise/internal/config"
	nerrors "github.com/tturner/iotnoise/internal/errors"
	"github.com/tturner/iotnoise/internal/logging"
	"github.com/tturner/iotnoise/internal/rtsp"
)

const (
	rtspFallbackUA = "smart-noise-rtsp/1.0"
	rtspAccept     = "application/sdp"
	rtspPeek       = 128
)

// RTSP sends OPTIONS and the occasional DESCRIBE to the camera stream,
// one fresh TCP connection per request.
type RTSP struct {
	base
	cfg     config.RTSPConfig
	target  config.Target
	session *rtsp.Session
	now     func() time.Time
}

// NewRTSP creates the RTSP action.
func NewRTSP(cfg config.RTSPConfig, target config.Target, gate Gate, logger *logging.Logger) *RTSP {
	return &RTSP{
		base:    newBase(gate, logger, cfg.DialTimeout),
		cfg:     cfg,
		target:  target,
		session: rtsp.NewSession(),
		now:     time.Now,
	}
}

// Act performs one request.
func (r *RTSP) Act(ctx context.Context, rng *rand.Rand) Result {
	if !r.target.Configured() {
		return noTarget(ProtoRTSP)
	}
	res := Result{Protocol: ProtoRTSP, Target: r.target.String()}

	canDescribe := r.session.CanDescribe(r.now())
	describe := rng.Float64() < r.cfg.DescribeProbability && canDescribe
	method := rtsp.MethodOptions
	if describe {
		method = rtsp.MethodDescribe
	}
	path := choose(rng, r.cfg.Paths)
	req := rtsp.Request{
		Method:    method,
		URL:       rtsp.URL(r.target.Host, r.target.Port, path),
		CSeq:      r.session.NextCSeq(),
		UserAgent: choose(rng, r.cfg.UserAgents),
	}
	if describe {
		req.Accept = rtspAccept
	}

	text := req.String()
	if reason, blocked := r.gate.Classify(text); blocked {
		method, path, describe = rtsp.MethodOptions, "/", false
		req = rtsp.Request{
			Method:    method,
			URL:       rtsp.URL(r.target.Host, r.target.Port, path),
			CSeq:      r.session.NextCSeq(),
			UserAgent: rtspFallbackUA,
		}
		text = req.String()
		if _, blocked := r.gate.Classify(text); blocked {
			res.Message = "blocked(" + reason + ")"
			res.Outcome = OutcomeBlocked
			return res
		}
	}
	prefix := method + " " + path

	start := time.Now()
	code, dropped, err := r.send(ctx, rng, text)
	res.RTT = time.Since(start)
	if err != nil {
		res.Message = prefix + " " + nerrors.Kind(err)
		res.Outcome = OutcomeError
		return res
	}
	if describe {
		r.session.MarkDescribe(r.now())
	}
	res.OK = true
	if dropped {
		res.Message, res.Outcome = prefix+" drop", OutcomeDrop
	} else {
		res.Message, res.Outcome = prefix+" "+code, OutcomeOK
	}
	return res
}

func (r *RTSP) send(ctx context.Context, rng *rand.Rand, text string) (string, bool, error) {
	conn, err := r.dial(ctx, "tcp", r.target)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()

	r.hex("rtsp tx", []byte(text))
	_ = conn.SetWriteDeadline(time.Now().Add(r.cfg.IOTimeout))
	if _, err := conn.Write([]byte(text)); err != nil {
		return "", false, err
	}
	if rng.Float64() < r.cfg.DropProbability {
		return "", true, nil
	}
	// Degraded read: no reply, a timeout or a reset all leave the status "?".
	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.IOTimeout))
	buf := make([]byte, rtspPeek)
	n, _ := conn.Read(buf)
	return rtsp.ParseStatus(buf[:n]), false, nil
}
