// Package metrics is the process-wide metrics seam.
//
// Core code calls the package-level helpers (IncCounter, ObserveHistogram,
// RecordStep, RecordRecords). Binaries choose a Backend once at startup with
// SetBackend. Until then every call goes to a no-op backend, so library code
// and tests never need to configure anything.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "load", "status": "ok"}.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer events.
type Flusher interface {
	Flush() error
}

// Metric names emitted by csvload.
const (
	RecordsTotal        = "csvload_records_total"
	StepTotal           = "csvload_step_total"
	StepDurationSeconds = "csvload_step_duration_seconds"
)

// Record kinds used as the "kind" label of RecordsTotal.
const (
	KindRead    = "read"
	KindWritten = "written"
	KindFailed  = "failed"
	KindSkipped = "skipped"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the current backend if it buffers. Otherwise it is a no-op.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one execution of step and observes its duration.
// status is "ok" when err is nil and "error" otherwise.
func RecordStep(step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, labels)
	b.ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), labels)
}

// RecordRecords adds n to the records counter for kind. n <= 0 is ignored.
func RecordRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}
