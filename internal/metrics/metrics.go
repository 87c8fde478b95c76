// Package metrics is a minimal metrics facade. Pipeline code records
// counters and histograms through package-level functions; a process picks
// a concrete Backend at startup (Datadog, or the default no-op).
//
// Design goals:
//   - Core pipeline code depends only on this package, never on a vendor SDK.
//   - A nil/unset backend costs one atomic load per call.
package metrics

import (
	"sync/atomic"
)

// Labels are free-form metric dimensions (e.g. {"status": "failed"}).
type Labels map[string]string

// Backend is implemented by metric sinks.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered metrics. Safe to call at any time.
	Flush() error

	// Close stops background work and performs a final Flush. Call once.
	Close() error
}

var backend atomic.Pointer[Backend]

// SetBackend installs b as the process-wide backend. Passing nil reverts to
// the no-op default.
func SetBackend(b Backend) {
	if b == nil {
		backend.Store(nil)
		return
	}
	backend.Store(&b)
}

func current() Backend {
	p := backend.Load()
	if p == nil {
		return nil
	}
	return *p
}

// IncCounter adds delta to the named counter.
func IncCounter(name string, delta float64, labels Labels) {
	if b := current(); b != nil {
		b.IncCounter(name, delta, labels)
	}
}

// ObserveHistogram records one sample of the named distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	if b := current(); b != nil {
		b.ObserveHistogram(name, value, labels)
	}
}

// Flush flushes the installed backend, if any.
func Flush() error {
	if b := current(); b != nil {
		return b.Flush()
	}
	return nil
}

// Close closes the installed backend, if any, and uninstalls it.
func Close() error {
	b := current()
	SetBackend(nil)
	if b != nil {
		return b.Close()
	}
	return nil
}
