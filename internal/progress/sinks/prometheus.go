package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-session-manager/internal/progress"
)

// PrometheusSink exports session run metrics via Prometheus.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsAborted   *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runRuntime    *prometheus.HistogramVec

	items  *prometheus.CounterVec
	failed *prometheus.CounterVec
	bytes  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_runs_started_total",
			Help: "Total session runs started.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_runs_completed_total",
			Help: "Total session runs finished partitioned by result.",
		}, []string{"kind", "result"}),
		runsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_runs_abort_requests_total",
			Help: "Total abort requests accepted.",
		}, []string{"kind"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sessiond_runs_running",
			Help: "Current number of running sessions.",
		}, []string{"kind"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessiond_run_runtime_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"kind", "result"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_items_crawled_total",
			Help: "Items (pages or files) crawled.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_items_failed_total",
			Help: "Items that failed to crawl.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessiond_bytes_crawled_total",
			Help: "Bytes read while crawling.",
		}, []string{"kind"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsAborted,
		s.runsRunning,
		s.runRuntime,
		s.items,
		s.failed,
		s.bytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	kind := evt.Kind
	if kind == "" {
		kind = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.WithLabelValues(kind).Inc()
		}
	case progress.StageRunProgress:
		s.addPositive(s.items, kind, evt.Items)
		s.addPositive(s.failed, kind, evt.Failed)
		s.addPositive(s.bytes, kind, evt.Bytes)
	case progress.StageRunAbort:
		s.runsAborted.WithLabelValues(kind).Inc()
	case progress.StageRunDone:
		s.finish(evt, kind, "success")
	case progress.StageRunError:
		s.finish(evt, kind, "error")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, kind, result string) {
	s.runsCompleted.WithLabelValues(kind, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(kind, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.WithLabelValues(kind).Dec()
	}
}

func (s *PrometheusSink) addPositive(vec *prometheus.CounterVec, kind string, v int64) {
	if v > 0 {
		vec.WithLabelValues(kind).Add(float64(v))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
