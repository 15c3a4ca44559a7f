package engine

import "time"

// MetricsRecorder is the narrow observability seam the engine writes
// through, mirrored on internal/metrics.Collector. Kept as a local
// interface, same pattern as vision.Adapter/notify.Notifier, so the engine
// never imports a concrete metrics backend.
type MetricsRecorder interface {
	JobRegistered()
	JobResolved()
	JobTimeout()
	JobCancelled()
	JobError()
	ObserveEvaluation(d time.Duration)
	ObserveTimeToTerminal(d time.Duration)
	SetWatching(n int)
	AddVisionInFlight(delta int)
}

// noopMetrics discards everything; used when an engine is built with no
// Metrics recorder configured.
type noopMetrics struct{}

func (noopMetrics) JobRegistered()                      {}
func (noopMetrics) JobResolved()                        {}
func (noopMetrics) JobTimeout()                          {}
func (noopMetrics) JobCancelled()                        {}
func (noopMetrics) JobError()                            {}
func (noopMetrics) ObserveEvaluation(d time.Duration)     {}
func (noopMetrics) ObserveTimeToTerminal(d time.Duration) {}
func (noopMetrics) SetWatching(n int)                     {}
func (noopMetrics) AddVisionInFlight(delta int)           {}
