// Package metrics exposes radar engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"spotradar/internal/domain/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotradar"

// Recorder implements service.RadarMetrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	handlesOpened       prometheus.Counter
	handlesCancelled    prometheus.Counter
	cancelAckSeconds    prometheus.Histogram
	conditionsCoalesced prometheus.Counter
	batchesTotal        *prometheus.CounterVec
	entitiesPerBatch    prometheus.Histogram
	decodeFailures      prometheus.Counter
	providerFailures    prometheus.Counter
	activeSessions      prometheus.Gauge
}

var _ service.RadarMetrics = (*Recorder)(nil)

// New registers all collectors, plus Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		handlesOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_opened_total",
			Help:      "Provider subscriptions opened",
		}),
		handlesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_cancelled_total",
			Help:      "Provider subscriptions cancelled and acknowledged",
		}),
		cancelAckSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cancel_ack_duration_seconds",
			Help:      "Time between cancel request and provider acknowledgement",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		conditionsCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditions_coalesced_total",
			Help:      "Conditions superseded before a subscription was opened for them",
		}),
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Provider batches by outcome",
		}, []string{"outcome"}),
		entitiesPerBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entities_per_batch",
			Help:      "Render entities produced per applied batch",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Raw entries dropped because their payload did not decode",
		}),
		providerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Provider errors reported for active handles",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Radar sessions currently running",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) HandleOpened() {
	r.handlesOpened.Inc()
}

func (r *Recorder) HandleCancelled(ackWait time.Duration) {
	r.handlesCancelled.Inc()
	r.cancelAckSeconds.Observe(ackWait.Seconds())
}

func (r *Recorder) ConditionsCoalesced(n int) {
	r.conditionsCoalesced.Add(float64(n))
}

func (r *Recorder) BatchApplied(entities int) {
	r.batchesTotal.WithLabelValues("applied").Inc()
	r.entitiesPerBatch.Observe(float64(entities))
}

func (r *Recorder) BatchDiscarded() {
	r.batchesTotal.WithLabelValues("discarded").Inc()
}

func (r *Recorder) DecodeFailed(n int) {
	r.decodeFailures.Add(float64(n))
}

func (r *Recorder) ProviderFailed() {
	r.providerFailures.Inc()
}

func (r *Recorder) SessionOpened() {
	r.activeSessions.Inc()
}

func (r *Recorder) SessionClosed() {
	r.activeSessions.Dec()
}
