package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate record store, the lifecycle
// sweep and the replication listener.
type Metrics struct {
	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	SweepTransitions       *prometheus.CounterVec
	SweepFailures          prometheus.Counter
	SweepDuration          prometheus.Histogram
	ListenerEvents         *prometheus.CounterVec
	SinkNotifications      *prometheus.CounterVec
	SerialsRemaining       prometheus.Gauge
}

// New creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certstore_store_operations_total",
			Help: "Total number of record store operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certstore_store_operation_duration_seconds",
			Help:    "Duration of record store operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		SweepTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certstore_sweep_transitions_total",
			Help: "Status transitions applied by the lifecycle sweep",
		}, []string{"from", "to"}),
		SweepFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "certstore_sweep_record_failures_total",
			Help: "Records the lifecycle sweep failed to transition",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certstore_sweep_duration_seconds",
			Help:    "Duration of a full lifecycle sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		ListenerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certstore_listener_events_total",
			Help: "Change notifications handled by the replication listener by outcome",
		}, []string{"outcome"}),
		SinkNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certstore_sink_notifications_total",
			Help: "Issuing point sink notifications by event and outcome",
		}, []string{"event", "outcome"}),
		SerialsRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certstore_serials_remaining",
			Help: "Unused serial numbers left in the configured serial range",
		}),
	}
}

// ObserveOperation records one store operation.
// Call with time.Now() taken at the start of the operation.
func (m *Metrics) ObserveOperation(op, outcome string, start time.Time) {
	m.StoreOperations.WithLabelValues(op, outcome).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IncrementTransition records one sweep transition.
func (m *Metrics) IncrementTransition(from, to string) {
	m.SweepTransitions.WithLabelValues(from, to).Inc()
}

// IncrementSweepFailure records a record the sweep could not transition.
func (m *Metrics) IncrementSweepFailure() {
	m.SweepFailures.Inc()
}

// ObserveSweep records the duration of a sweep.
func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

// IncrementListenerEvent records a handled change notification.
func (m *Metrics) IncrementListenerEvent(outcome string) {
	m.ListenerEvents.WithLabelValues(outcome).Inc()
}

// IncrementSinkNotification records a sink call.
func (m *Metrics) IncrementSinkNotification(event, outcome string) {
	m.SinkNotifications.WithLabelValues(event, outcome).Inc()
}

// SetSerialsRemaining publishes the remaining serial capacity.
func (m *Metrics) SetSerialsRemaining(n float64) {
	m.SerialsRemaining.Set(n)
}
