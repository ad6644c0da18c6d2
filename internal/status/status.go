// Package status serves live run state over HTTP while noise is generated.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tturner/iotnoise/internal/metrics"
)

// Source provides live counters; *metrics.Sink satisfies it.
type Source interface {
	GetSummary() *metrics.Summary
	Counts() map[string]int
}

// Info is the static part of the status document.
type Info struct {
	RunID      string            `json:"run_id,omitempty"`
	Device     string            `json:"device"`
	Seed       int64             `json:"seed"`
	RatePerMin float64           `json:"rate_per_min"`
	Start      time.Time         `json:"start"`
	Deadline   time.Time         `json:"deadline"`
	Targets    map[string]string `json:"targets"`
}

// Snapshot is the /status payload.
type Snapshot struct {
	Info
	Total        int            `json:"total"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	Blocked      int            `json:"blocked"`
	Counts       map[string]int `json:"counts"`
	ElapsedSec   float64        `json:"elapsed_sec"`
	RemainingSec float64        `json:"remaining_sec"`
}

type api struct {
	src  Source
	info Info
	now  func() time.Time
}

// NewRouter builds the status routes. exporter may be nil, in which case
// /metrics is not registered.
func NewRouter(src Source, exporter *metrics.Exporter, info Info) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	a := &api{src: src, info: info, now: time.Now}
	r.GET("/healthz", a.healthz)
	r.GET("/status", a.status)
	if exporter != nil {
		r.GET("/metrics", gin.WrapH(exporter.Handler()))
	}
	return r
}

func (a *api) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *api) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": a.snapshot()})
}

func (a *api) snapshot() Snapshot {
	sum := a.src.GetSummary()
	now := a.now()
	s := Snapshot{
		Info:       a.info,
		Total:      sum.TotalOperations,
		Successful: sum.SuccessfulOps,
		Failed:     sum.FailedOps,
		Blocked:    sum.Blocked,
		Counts:     a.src.Counts(),
	}
	if !a.info.Start.IsZero() {
		s.ElapsedSec = now.Sub(a.info.Start).Seconds()
	}
	if !a.info.Deadline.IsZero() {
		s.RemainingSec = max(a.info.Deadline.Sub(now).Seconds(), 0)
	}
	return s
}

// Server is a running status endpoint.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr and serves handler in the background.
func Start(addr string, handler http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen status %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "status server: %v\n", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
