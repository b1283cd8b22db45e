package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"ibtrading/logger"
)

// RequestStats counts the outcomes of one request kind.
type RequestStats struct {
	Kind     string
	Outcomes map[string]int64
	Total    int64
	Elapsed  time.Duration
}

// AvgLatency is the mean time a request of this kind spent waiting.
func (s RequestStats) AvgLatency() time.Duration {
	if s.Total == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(s.Total)
}

// Recorder accumulates request outcomes for a session.
type Recorder struct {
	mu      sync.Mutex
	stats   map[string]*RequestStats
	emitted map[string]int64
	log     *logger.Log
}

func NewRecorder(log *logger.Log) *Recorder {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Recorder{
		stats:   make(map[string]*RequestStats),
		emitted: make(map[string]int64),
		log:     log,
	}
}

// RecordRequest counts one finished request and emits it as a metric.
func (r *Recorder) RecordRequest(kind, outcome string, elapsed time.Duration) {
	r.mu.Lock()
	s, ok := r.stats[kind]
	if !ok {
		s = &RequestStats{Kind: kind, Outcomes: make(map[string]int64)}
		r.stats[kind] = s
	}
	s.Outcomes[outcome]++
	s.Total++
	s.Elapsed += elapsed
	r.mu.Unlock()

	EmitMetric(r.log, "session", "request_"+outcome, int64(1), "counter", logger.Fields{"kind": kind})
	EmitMetric(r.log, "session", "request_latency", float64(elapsed)/float64(time.Millisecond), "gauge", logger.Fields{"kind": kind, "unit": "milliseconds"})
}

// RecordGatewayError counts one error pushed by the gateway.
func (r *Recorder) RecordGatewayError(code int) {
	EmitMetric(r.log, "session", "gateway_error", int64(1), "counter", logger.Fields{"code": code})
}

// Attach subscribes the recorder to every emitted metric, so the periodic
// report also counts gateway errors and log errors. The returned function
// detaches it.
func (r *Recorder) Attach() func() {
	id := RegisterMetricHandler(r.observe)
	return func() { UnregisterMetricHandler(id) }
}

func (r *Recorder) observe(m Metric) {
	r.mu.Lock()
	r.emitted[m.Component+"."+m.Name]++
	r.mu.Unlock()
}

// Emitted returns how many times each component.name metric was seen since
// Attach.
func (r *Recorder) Emitted() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.emitted))
	for k, v := range r.emitted {
		out[k] = v
	}
	return out
}

// Snapshot returns a copy of the counters sorted by kind.
func (r *Recorder) Snapshot() []RequestStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RequestStats, 0, len(r.stats))
	for _, s := range r.stats {
		c := *s
		c.Outcomes = make(map[string]int64, len(s.Outcomes))
		for k, v := range s.Outcomes {
			c.Outcomes[k] = v
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Report logs the counters every interval until ctx ends.
func (r *Recorder) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Recorder) report() {
	for _, s := range r.Snapshot() {
		fields := logger.Fields{
			"kind":           s.Kind,
			"total":          s.Total,
			"avg_latency_ms": float64(s.AvgLatency()) / float64(time.Millisecond),
		}
		for outcome, n := range s.Outcomes {
			fields[outcome] = n
		}
		r.log.WithComponent("metrics").WithFields(fields).Info("request summary")
	}
	if emitted := r.Emitted(); len(emitted) > 0 {
		fields := make(logger.Fields, len(emitted))
		for name, n := range emitted {
			fields[name] = n
		}
		r.log.WithComponent("metrics").WithFields(fields).Info("metrics emitted")
	}
	for _, c := range logger.Snapshot().Components {
		if c.Errors > 0 {
			EmitMetric(r.log, c.Component, "log_errors", c.Errors, "gauge", nil)
		}
	}
}
