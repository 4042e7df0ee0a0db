// Package telemetry exposes service-level Prometheus metrics for measured
// training runs.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trainmetrics"

// Recorder holds the collectors updated as runs finish.
type Recorder struct {
	registry       *prometheus.Registry
	mfu            *prometheus.GaugeVec
	tflopsPerAccel *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	collectSeconds prometheus.Histogram
}

// NewRecorder creates a Recorder registered on its own registry.
func NewRecorder() *Recorder {
	labels := []string{"model", "accelerator", "precision"}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		mfu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_mfu_ratio",
			Help:      "Model FLOPs utilization of the latest completed run.",
		}, labels),
		tflopsPerAccel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_tflops_per_accelerator",
			Help:      "Achieved TFLOPS per accelerator of the latest completed run.",
		}, labels),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Training runs that reached a terminal status.",
		}, []string{"status"}),
		collectSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Time from collection start until a run reached a terminal status.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
	}
	r.registry.MustRegister(r.mfu, r.tflopsPerAccel, r.runs, r.collectSeconds)
	return r
}

// ObserveEfficiency sets the per-configuration gauges.
func (r *Recorder) ObserveEfficiency(model, accelerator, precision string, mfu, tflopsPerAccel float64) {
	r.mfu.WithLabelValues(model, accelerator, precision).Set(mfu)
	r.tflopsPerAccel.WithLabelValues(model, accelerator, precision).Set(tflopsPerAccel)
}

// RunFinished counts a run reaching status and records how long collection took.
func (r *Recorder) RunFinished(status string, seconds float64) {
	r.runs.WithLabelValues(status).Inc()
	if seconds > 0 {
		r.collectSeconds.Observe(seconds)
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
