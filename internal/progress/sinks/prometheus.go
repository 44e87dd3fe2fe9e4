package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oeistools/oeissync/internal/progress"
)

// PrometheusSink exports sync progress metrics. It owns the collectors for
// pass lifecycle, per-record results, fetch traffic and checkpoint position.
type PrometheusSink struct {
	passesStarted   prometheus.Counter
	passesCompleted *prometheus.CounterVec
	passRuntime     *prometheus.HistogramVec

	recordsTotal  *prometheus.CounterVec
	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	checkpoint    prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		passesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oeissync_passes_started_total",
			Help: "Total crawl passes that have started.",
		}),
		passesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oeissync_passes_completed_total",
			Help: "Total crawl passes finished, partitioned by final state.",
		}, []string{"state"}),
		passRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oeissync_pass_runtime_seconds",
			Help:    "Wall time per finished pass.",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400, 86400},
		}, []string{"state"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oeissync_records_total",
			Help: "Processed records partitioned by result.",
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oeissync_fetch_requests_total",
			Help: "Fetch round trips partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oeissync_fetch_bytes_total",
			Help: "Bytes downloaded partitioned by kind.",
		}, []string{"kind"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oeissync_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by kind and outcome.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"kind", "outcome"}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oeissync_checkpoint_record_id",
			Help: "Last durably committed record id of the running pass.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.passesStarted,
		s.passesCompleted,
		s.passRuntime,
		s.recordsTotal,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.checkpoint,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StagePassStart:
		s.passesStarted.Inc()
	case progress.StagePassDone:
		s.passesCompleted.WithLabelValues(evt.Outcome).Inc()
		s.passRuntime.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
	case progress.StagePassError:
		s.passesCompleted.WithLabelValues("aborted").Inc()
		s.passRuntime.WithLabelValues("aborted").Observe(evt.Dur.Seconds())
	case progress.StageRecordDone:
		s.recordsTotal.WithLabelValues(evt.Outcome).Inc()
	case progress.StageFetchDone:
		s.fetchRequests.WithLabelValues(string(evt.Kind), evt.Outcome).Inc()
		s.fetchDuration.WithLabelValues(string(evt.Kind), evt.Outcome).Observe(evt.Dur.Seconds())
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(string(evt.Kind)).Add(float64(evt.Bytes))
		}
	case progress.StageCheckpoint:
		s.checkpoint.Set(float64(evt.Checkpoint))
	}
}

// Close implements the Sink interface; collectors stay registered.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
