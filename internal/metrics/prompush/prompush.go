// Package prompush implements a metrics backend that keeps Prometheus
// collectors in a private registry and pushes them to a Pushgateway on Flush.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"funnel/internal/metrics"
)

// Backend implements metrics.Backend, metrics.GaugeSetter and metrics.Flusher.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
	users     *prometheus.GaugeVec
	dropOff   *prometheus.GaugeVec
}

// NewBackend returns a backend that pushes under job to the gateway at url.
func NewBackend(job, url string) (*Backend, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "funnel"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps run, by step and status.",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Input records, by kind (read, skipped or malformed).",
		}, []string{"kind"}),
		users: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.StageUsers,
			Help: "Distinct users that reached a funnel stage.",
		}, []string{"stage"}),
		dropOff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.StageDropOffRate,
			Help: "Percent of users lost relative to the previous stage.",
		}, []string{"stage"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.durations, b.records, b.users, b.dropOff} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	b.pusher = push.New(url, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if labels["kind"] != "" {
			b.records.WithLabelValues(labels["kind"]).Add(delta)
		}
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// SetGauge implements metrics.GaugeSetter.
func (b *Backend) SetGauge(name string, value float64, labels metrics.Labels) {
	stage := labels["stage"]
	if stage == "" {
		return
	}
	switch name {
	case metrics.StageUsers:
		b.users.WithLabelValues(stage).Set(value)
	case metrics.StageDropOffRate:
		b.dropOff.WithLabelValues(stage).Set(value)
	}
}

// Flush pushes every collector, replacing the previous push for the job.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Registry exposes the backing registry, mainly for tests.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

var (
	_ metrics.Backend     = (*Backend)(nil)
	_ metrics.GaugeSetter = (*Backend)(nil)
	_ metrics.Flusher     = (*Backend)(nil)
)
