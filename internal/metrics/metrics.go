// Package metrics exposes Prometheus counters for event handling and the
// AWS calls made on its behalf.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns a registry and the collectors registered in it. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	deployments     *prometheus.CounterVec
	restoreFailures prometheus.Counter
	terminations    *prometheus.CounterVec
	apiCalls        *prometheus.CounterVec
}

// New creates a recorder with its own registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodeploy",
			Name:      "events_total",
			Help:      "Events handled, by kind and result status",
		}, []string{"kind", "status"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autodeploy",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"kind"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodeploy",
			Name:      "deployments_total",
			Help:      "Deployment attempts, by outcome",
		}, []string{"outcome"}),
		restoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autodeploy",
			Name:      "restore_failures_total",
			Help:      "Isolation episodes that could not be fully undone",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodeploy",
			Name:      "terminations_total",
			Help:      "Instance terminations requested after failed deployments",
		}, []string{"dry_run"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autodeploy",
			Name:      "aws_api_calls_total",
			Help:      "AWS API calls, by service, operation and outcome",
		}, []string{"service", "operation", "outcome"}),
	}

	r.registry.MustRegister(
		r.events,
		r.handleDuration,
		r.deployments,
		r.restoreFailures,
		r.terminations,
		r.apiCalls,
	)
	return r
}

// Registry returns the registry to expose over HTTP
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveEvent records one handled event
func (r *Recorder) ObserveEvent(kind, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(kind, status).Inc()
	r.handleDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveDeployment records a deployment attempt outcome such as
// "started", "limit_exceeded" or "failed"
func (r *Recorder) ObserveDeployment(outcome string) {
	if r == nil {
		return
	}
	r.deployments.WithLabelValues(outcome).Inc()
}

// ObserveRestoreFailure records an episode left with pending obligations
func (r *Recorder) ObserveRestoreFailure() {
	if r == nil {
		return
	}
	r.restoreFailures.Inc()
}

// ObserveTermination records a terminate request
func (r *Recorder) ObserveTermination(dryRun bool) {
	if r == nil {
		return
	}
	label := "false"
	if dryRun {
		label = "true"
	}
	r.terminations.WithLabelValues(label).Inc()
}

// ObserveAPICall records one AWS call
func (r *Recorder) ObserveAPICall(service, operation string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.apiCalls.WithLabelValues(service, operation, outcome).Inc()
}
