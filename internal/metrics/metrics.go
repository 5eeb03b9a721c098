// Package metrics records operational metrics for pipeline runs through a
// pluggable Backend. The default backend is a no-op, so every Record call is
// safe when no metrics system is configured. Concrete backends live in
// subpackages (prompush, datadog) and are installed with SetBackend.
//
// Metric names:
//
//	csvload_stage_total            counter    job, stage, status
//	csvload_stage_duration_seconds histogram  job, stage, status
//	csvload_rows_total             counter    job, kind
//	csvload_flags_total            counter    job, column
package metrics

import (
	"sync"
	"time"
)

const (
	StageTotal    = "csvload_stage_total"
	StageDuration = "csvload_stage_duration_seconds"
	RowsTotal     = "csvload_rows_total"
	FlagsTotal    = "csvload_flags_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one stage execution and observes its duration.
func RecordStep(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "stage": stage, "status": status}
	b := current()
	b.IncCounter(StageTotal, 1, lbls)
	b.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRow adds delta rows of a kind: extracted, dropped, duplicates,
// filled, conversion_failures, loaded.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordFlags adds n rows flagged invalid in a validity column.
func RecordFlags(job, column string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(FlagsTotal, float64(n), Labels{"job": job, "column": column})
}
