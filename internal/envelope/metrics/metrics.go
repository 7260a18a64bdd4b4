package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the envelope module.
type Metrics struct {
	EnvelopesCreated prometheus.Counter
	Transitions      *prometheus.CounterVec
	SendDuration     prometheus.Histogram
}

// New registers all envelope module metrics.
func New() *Metrics {
	return &Metrics{
		EnvelopesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "signetry_envelopes_created_total",
			Help: "Total number of envelopes created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signetry_envelope_transitions_total",
			Help: "Envelope lifecycle transitions by resulting status",
		}, []string{"status"}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "signetry_envelope_send_duration_seconds",
			Help:    "Duration of the create-and-send path including the provider round trip",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncrementCreated records a successful envelope creation. Nil-safe so tests
// can run without a registry.
func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.EnvelopesCreated.Inc()
}

// IncrementTransition records a lifecycle transition into status.
func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

// ObserveSend records the duration of a create-and-send operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSend(start time.Time) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(time.Since(start).Seconds())
}
