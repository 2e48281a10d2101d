// Package metrics is the backend-neutral instrumentation surface used by the
// funnel pipeline. Code records through the package functions; the command
// picks a concrete backend (Datadog, Prometheus pushgateway or none) with
// SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends translate them to their own naming scheme.
const (
	StepTotal           = "funnel_step_total"
	StepDurationSeconds = "funnel_step_duration_seconds"
	RecordsTotal        = "funnel_records_total"
	StageUsers          = "funnel_stage_users"
	StageDropOffRate    = "funnel_stage_drop_off_rate"
)

// Labels are the dimensions attached to a single observation.
type Labels map[string]string

// Backend receives counter and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// GaugeSetter is implemented by backends that support point-in-time values.
type GaugeSetter interface {
	SetGauge(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

// Nop returns a backend that drops everything.
func Nop() Backend { return nopBackend{} }

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores Nop.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	current = b
	mu.Unlock()
}

func get() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	get().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample for the named histogram.
func ObserveHistogram(name string, value float64, labels Labels) {
	get().ObserveHistogram(name, value, labels)
}

// SetGauge sets the named gauge if the backend supports gauges.
func SetGauge(name string, value float64, labels Labels) {
	if g, ok := get().(GaugeSetter); ok {
		g.SetGauge(name, value, labels)
	}
}

// Flush submits buffered observations if the backend buffers.
func Flush() error {
	if f, ok := get().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one run of a pipeline step and its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n input records of kind: "read", "skipped" (no stage
// match) or "malformed" (unparseable).
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordStage publishes the user count and drop-off rate of a funnel stage.
func RecordStage(stage string, users int, dropOff float64) {
	l := Labels{"stage": stage}
	SetGauge(StageUsers, float64(users), l)
	SetGauge(StageDropOffRate, dropOff, l)
}
