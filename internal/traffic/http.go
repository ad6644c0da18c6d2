package traffic

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/tturner/iotnoise/internal/config"
	nerrors "github.com/tturner/iotnoise/internal/errors"
	"github.com/tturner/iotnoise/internal/logging"
)

const (
	httpFallbackPath = "/"
	httpFallbackUA   = "smart-noise/1.0"
	httpBodyPeek     = 128
)

// HTTP sends GET/HEAD requests to the router or camera web UI.
type HTTP struct {
	base
	cfg     config.HTTPConfig
	targets config.Targets
}

// NewHTTP creates the HTTP action.
func NewHTTP(cfg config.HTTPConfig, targets config.Targets, gate Gate, logger *logging.Logger) *HTTP {
	return &HTTP{base: newBase(gate, logger, cfg.Timeout), cfg: cfg, targets: targets}
}

// HTTPRequest renders the exact request bytes that are checked and sent.
func HTTPRequest(method, path, host, userAgent string) string {
	return method + " " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"User-Agent: " + userAgent + "\r\n" +
		"Connection: close\r\n\r\n"
}

func randomPath(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	n := 4 + rng.Intn(7)
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return "/" + string(b)
}

// Act performs one request.
func (h *HTTP) Act(ctx context.Context, rng *rand.Rand) Result {
	key := config.TargetCamera
	if rng.Float64() < h.cfg.RouterShare {
		key = config.TargetRouter
	}
	tgt := h.targets[key]
	if !tgt.Configured() {
		return noTarget(ProtoHTTP)
	}
	method := "GET"
	if rng.Float64() < h.cfg.HeadProbability {
		method = "HEAD"
	}
	var path string
	if rng.Float64() < h.cfg.RandomPathProbability {
		path = randomPath(rng)
	} else {
		path = choose(rng, h.cfg.Paths)
	}
	ua := choose(rng, h.cfg.UserAgents)

	res := Result{Protocol: ProtoHTTP, Target: tgt.String()}
	req := HTTPRequest(method, path, tgt.Host, ua)
	if reason, blocked := h.gate.Classify(req); blocked {
		path, ua = httpFallbackPath, httpFallbackUA
		req = HTTPRequest(method, path, tgt.Host, ua)
		if _, blocked := h.gate.Classify(req); blocked {
			res.Message = "blocked(" + reason + ")"
			res.Outcome = OutcomeBlocked
			return res
		}
	}
	prefix := key + " " + method + " " + path

	start := time.Now()
	code, dropped, err := h.send(ctx, rng, tgt, method, req)
	res.RTT = time.Since(start)
	switch {
	case err != nil:
		res.Message = prefix + " " + nerrors.Kind(err)
		res.Outcome = OutcomeError
	case dropped:
		res.OK, res.Message, res.Outcome = true, prefix+" drop", OutcomeDrop
	default:
		res.OK, res.Message, res.Outcome = true, prefix+" "+strconv.Itoa(code), OutcomeOK
	}
	return res
}

func (h *HTTP) send(ctx context.Context, rng *rand.Rand, tgt config.Target, method, req string) (int, bool, error) {
	conn, err := h.dial(ctx, "tcp", tgt)
	if err != nil {
		return 0, false, err
	}
	defer conn.Close()
	defer closeOnCancel(ctx, conn)()
	_ = conn.SetDeadline(time.Now().Add(h.cfg.Timeout))

	h.hex("http tx", []byte(req))
	if _, err := io.WriteString(conn, req); err != nil {
		return 0, false, err
	}
	if rng.Float64() < h.cfg.DropProbability {
		return 0, true, nil
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: method})
	if err != nil {
		return 0, false, fmt.Errorf("read response: %w", err)
	}
	// Body is read best-effort and discarded.
	_, _ = io.CopyN(io.Discard, resp.Body, httpBodyPeek)
	resp.Body.Close()
	return resp.StatusCode, false, nil
}
