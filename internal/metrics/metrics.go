package metrics

// Per-protocol counters and RTT statistics for generated traffic

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tturner/iotnoise/internal/traffic"
)

// Metric is one recorded action.
type Metric struct {
	Timestamp time.Time
	Protocol  string
	Target    string
	Success   bool
	Outcome   string
	RTTMs     float64
	Detail    string
}

// FromResult converts an action result into a Metric stamped with ts.
func FromResult(ts time.Time, res traffic.Result) Metric {
	return Metric{
		Timestamp: ts,
		Protocol:  res.Protocol,
		Target:    res.Target,
		Success:   res.OK,
		Outcome:   res.Outcome,
		RTTMs:     float64(res.RTT) / float64(time.Millisecond),
		Detail:    res.Message,
	}
}

// ProtocolStats aggregates one protocol.
type ProtocolStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

// Summary contains aggregated statistics.
type Summary struct {
	TotalOperations int
	SuccessfulOps   int
	FailedOps       int
	Blocked         int
	NoTarget        int
	MinRTT          float64
	MaxRTT          float64
	AvgRTT          float64
	P50RTT          float64
	P90RTT          float64
	P95RTT          float64
	P99RTT          float64
	RTTBuckets      map[string]int
	ByProtocol      map[string]*ProtocolStats
	ByOutcome       map[string]int
	rttCount        int
}

func newSummary() *Summary {
	return &Summary{
		RTTBuckets: make(map[string]int),
		ByProtocol: make(map[string]*ProtocolStats),
		ByOutcome:  make(map[string]int),
	}
}

// Count returns the number of actions recorded for protocol.
func (s *Summary) Count(protocol string) int {
	if st, ok := s.ByProtocol[protocol]; ok {
		return st.Count
	}
	return 0
}

// Sink collects and aggregates metrics. Safe for concurrent use by workers.
type Sink struct {
	mu       sync.RWMutex
	metrics  []Metric
	summary  *Summary
	writer   *Writer
	exporter *Exporter
	now      func() time.Time
}

// NewSink creates a new metrics sink.
func NewSink() *Sink {
	return &Sink{summary: newSummary(), now: time.Now}
}

// SetWriter streams every recorded metric to w.
func (s *Sink) SetWriter(w *Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// SetExporter mirrors every recorded metric into Prometheus collectors.
func (s *Sink) SetExporter(e *Exporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exporter = e
}

// Record implements the scheduler's recorder.
func (s *Sink) Record(res traffic.Result) {
	s.RecordMetric(FromResult(s.now(), res))
}

// RecordMetric records a single metric.
func (s *Sink) RecordMetric(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, m)
	s.updateSummary(m)
	if s.writer != nil {
		_ = s.writer.WriteMetric(m)
	}
	if s.exporter != nil {
		s.exporter.Observe(m)
	}
}

// Total returns the number of recorded actions.
func (s *Sink) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary.TotalOperations
}

// Counts returns per-protocol action counts for every known protocol.
func (s *Sink) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(traffic.Protocols))
	for _, p := range traffic.Protocols {
		out[p] = s.summary.Count(p)
	}
	return out
}

// GetMetrics returns a copy of all metrics.
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Metric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// GetSummary returns a copy of the summary statistics.
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := newSummary()
	*summary = *s.summary
	summary.RTTBuckets = make(map[string]int)
	summary.ByProtocol = make(map[string]*ProtocolStats, len(s.summary.ByProtocol))
	summary.ByOutcome = make(map[string]int, len(s.summary.ByOutcome))

	for proto, stats := range s.summary.ByProtocol {
		cp := *stats
		summary.ByProtocol[proto] = &cp
	}
	for k, v := range s.summary.ByOutcome {
		summary.ByOutcome[k] = v
	}

	p, buckets := summarizeRTT(s.metrics)
	summary.P50RTT, summary.P90RTT, summary.P95RTT, summary.P99RTT = p[0], p[1], p[2], p[3]
	for k, v := range buckets {
		summary.RTTBuckets[k] = v
	}
	return summary
}

func (s *Sink) updateSummary(m Metric) {
	s.summary.TotalOperations++
	if m.Success {
		s.summary.SuccessfulOps++
	} else {
		s.summary.FailedOps++
	}
	switch m.Outcome {
	case traffic.OutcomeBlocked:
		s.summary.Blocked++
	case traffic.OutcomeNoTarget:
		s.summary.NoTarget++
	}
	if m.Outcome != "" {
		s.summary.ByOutcome[m.Outcome]++
	}

	// RTT only counts for completed exchanges.
	if m.Success && m.RTTMs > 0 {
		if s.summary.MinRTT == 0 || m.RTTMs < s.summary.MinRTT {
			s.summary.MinRTT = m.RTTMs
		}
		if m.RTTMs > s.summary.MaxRTT {
			s.summary.MaxRTT = m.RTTMs
		}
		s.summary.rttCount++
		total := s.summary.AvgRTT * float64(s.summary.rttCount-1)
		s.summary.AvgRTT = (total + m.RTTMs) / float64(s.summary.rttCount)
	}

	st, ok := s.summary.ByProtocol[m.Protocol]
	if !ok {
		st = &ProtocolStats{}
		s.summary.ByProtocol[m.Protocol] = st
	}
	st.Count++
	if !m.Success {
		st.Failed++
		return
	}
	st.Success++
	if m.RTTMs > 0 {
		if st.MinRTT == 0 || m.RTTMs < st.MinRTT {
			st.MinRTT = m.RTTMs
		}
		if m.RTTMs > st.MaxRTT {
			st.MaxRTT = m.RTTMs
		}
		st.SumRTT += m.RTTMs
		st.AvgRTT = st.SumRTT / float64(st.Success)
	}
}

func summarizeRTT(metrics []Metric) ([4]float64, map[string]int) {
	rtts := make([]float64, 0, len(metrics))
	buckets := make(map[string]int)
	for _, m := range metrics {
		if m.Success && m.RTTMs > 0 {
			rtts = append(rtts, m.RTTMs)
			incrementBucket(buckets, m.RTTMs)
		}
	}
	return computePercentiles(rtts), buckets
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	case value < 500:
		buckets["100_500ms"]++
	default:
		buckets["gt_500ms"]++
	}
}

func computePercentiles(values []float64) [4]float64 {
	var result [4]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.95)
	result[3] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
