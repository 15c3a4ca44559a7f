// Package metrics collects and exposes Prometheus metrics for the engine:
// counters over the wait-job lifecycle (registered/resolved/timeout/
// cancelled/error), histograms for per-evaluation latency and
// time-to-terminal, and gauges for the active-set size and in-flight
// vision calls.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements engine.MetricsRecorder without importing it; the
// engine declares that interface itself and never imports this package.
type Collector struct {
	jobsRegistered prometheus.Counter
	jobsResolved   prometheus.Counter
	jobsTimeout    prometheus.Counter
	jobsCancelled  prometheus.Counter
	jobsError      prometheus.Counter

	evaluationSeconds     prometheus.Histogram
	timeToTerminalSeconds prometheus.Histogram

	jobsWatching        prometheus.Gauge
	visionCallsInFlight prometheus.Gauge
}

// NewCollector builds a Collector and registers its metrics against reg.
// Pass a fresh prometheus.NewRegistry() in tests to avoid the default
// registry's cross-test duplicate-registration panics; pass nil in
// production to register against prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smart_wait_jobs_registered_total",
			Help: "Total number of wait jobs registered",
		}),
		jobsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smart_wait_jobs_resolved_total",
			Help: "Total number of wait jobs that resolved successfully",
		}),
		jobsTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smart_wait_jobs_timeout_total",
			Help: "Total number of wait jobs that reached their deadline while still watching",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smart_wait_jobs_cancelled_total",
			Help: "Total number of wait jobs cancelled by their caller",
		}),
		jobsError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smart_wait_jobs_error_total",
			Help: "Total number of wait jobs that terminated with an unexpected error",
		}),
		evaluationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smart_wait_evaluation_seconds",
			Help:    "Wall-clock duration of one capture-diff-vision evaluation cycle",
			Buckets: prometheus.DefBuckets,
		}),
		timeToTerminalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smart_wait_time_to_terminal_seconds",
			Help:    "Time from job registration to terminal transition",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		jobsWatching: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smart_wait_jobs_watching",
			Help: "Current number of jobs in the active set",
		}),
		visionCallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smart_wait_vision_calls_in_flight",
			Help: "Current number of in-flight Vision Adapter calls",
		}),
	}

	reg.MustRegister(
		c.jobsRegistered,
		c.jobsResolved,
		c.jobsTimeout,
		c.jobsCancelled,
		c.jobsError,
		c.evaluationSeconds,
		c.timeToTerminalSeconds,
		c.jobsWatching,
		c.visionCallsInFlight,
	)

	return c
}

func (c *Collector) JobRegistered() { c.jobsRegistered.Inc() }
func (c *Collector) JobResolved()   { c.jobsResolved.Inc() }
func (c *Collector) JobTimeout()    { c.jobsTimeout.Inc() }
func (c *Collector) JobCancelled()  { c.jobsCancelled.Inc() }
func (c *Collector) JobError()      { c.jobsError.Inc() }

// ObserveEvaluation records one capture-diff-vision cycle's duration.
func (c *Collector) ObserveEvaluation(d time.Duration) {
	c.evaluationSeconds.Observe(d.Seconds())
}

// ObserveTimeToTerminal records the span from a job's creation to its
// terminal transition.
func (c *Collector) ObserveTimeToTerminal(d time.Duration) {
	c.timeToTerminalSeconds.Observe(d.Seconds())
}

// SetWatching sets the current active-set size.
func (c *Collector) SetWatching(n int) {
	c.jobsWatching.Set(float64(n))
}

// AddVisionInFlight adjusts the in-flight vision-call gauge by delta.
func (c *Collector) AddVisionInFlight(delta int) {
	c.visionCallsInFlight.Add(float64(delta))
}

// Serve runs a Prometheus scrape endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
