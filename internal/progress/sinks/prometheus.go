package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/places-scraper/internal/progress"
)

// PrometheusSink exports job and query progress metrics.
type PrometheusSink struct {
	jobsSubmitted prometheus.Counter
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	queries       *prometheus.CounterVec
	records       prometheus.Counter
	queryDuration *prometheus.HistogramVec
	cancels       prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_jobs_submitted_total",
			Help: "Total jobs accepted.",
		}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_jobs_started_total",
			Help: "Total jobs whose worker began processing.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_jobs_finished_total",
			Help: "Total jobs that reached a terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_jobs_running",
			Help: "Jobs currently between start and a terminal status.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}, []string{"status"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_queries_total",
			Help: "Queries finished partitioned by result.",
		}, []string{"result"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_written_total",
			Help: "Place records written to outputs.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_query_duration_seconds",
			Help:    "Wall time per query partitioned by result.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_jobs_cancel_requested_total",
			Help: "Cancellation requests that reached an active job.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsSubmitted,
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.queries,
		s.records,
		s.queryDuration,
		s.cancels,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobSubmitted:
		s.jobsSubmitted.Inc()
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageQueryDone:
		s.queries.WithLabelValues("ok").Inc()
		s.records.Add(float64(evt.Records))
		s.observe(s.queryDuration, evt, "ok")
	case progress.StageQueryError:
		s.queries.WithLabelValues("error").Inc()
		s.observe(s.queryDuration, evt, "error")
	case progress.StageCancelRequested:
		s.cancels.Inc()
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues(evt.Status).Inc()
		s.observe(s.jobRuntime, evt, evt.Status)
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

func (s *PrometheusSink) observe(h *prometheus.HistogramVec, evt progress.Event, label string) {
	if evt.Dur > 0 {
		h.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
