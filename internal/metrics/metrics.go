// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

const namespace = "gldevice"

// Operation status label values.
const (
	StatusOK           = "ok"
	StatusServiceError = "service_error"
	StatusError        = "error"
)

// Recorder is a pipeline.Recorder backed by its own Prometheus registry.
type Recorder struct {
	Registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EventsTotal       *prometheus.CounterVec
	UnhandledFailures prometheus.Counter
	Connected         prometheus.Gauge
	ConnectionChanges *prometheus.CounterVec
}

var _ pipeline.Recorder = (*Recorder)(nil)

// New registers the device agent metrics, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		Registry: reg,
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of completed pipeline operations.",
		}, []string{"operation", "status"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from submission to completion of pipeline operations.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events reaching the application, by whether a handler took them.",
		}, []string{"event", "handled"}),
		UnhandledFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_failures_total",
			Help:      "Failures not attributable to any caller operation.",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the IoT Hub session is connected.",
		}),
		ConnectionChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_changes_total",
			Help:      "Connection state transitions.",
		}, []string{"state"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// OperationCompleted counts op by status and observes its latency.
func (r *Recorder) OperationCompleted(op string, err error, elapsed time.Duration) {
	r.OperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func statusOf(err error) string {
	var svcErr *pipeline.ServiceError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &svcErr):
		return StatusServiceError
	default:
		return StatusError
	}
}

// EventDispatched counts an inbound event.
func (r *Recorder) EventDispatched(event string, handled bool) {
	label := "false"
	if handled {
		label = "true"
	}
	r.EventsTotal.WithLabelValues(event, label).Inc()
}

// ConnectionStateChanged updates the connected gauge.
func (r *Recorder) ConnectionStateChanged(connected bool) {
	if connected {
		r.Connected.Set(1)
		r.ConnectionChanges.WithLabelValues("connected").Inc()
		return
	}
	r.Connected.Set(0)
	r.ConnectionChanges.WithLabelValues("disconnected").Inc()
}

// UnhandledFailure counts a failure sent to the failure sink.
func (r *Recorder) UnhandledFailure(error) {
	r.UnhandledFailures.Inc()
}
