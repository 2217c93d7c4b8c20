package npem

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments indication commands across all sessions. Nil is a
// valid receiver, so metrics stay optional for library callers.
type Metrics struct {
	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates command metrics registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "npem_commands_total",
			Help: "Indication set commands by backend and outcome",
		}, []string{"backend", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "npem_command_duration_seconds",
			Help: "Indication set command duration including the completion poll",
			// The completion poll deadline is 1s; buckets cover fast
			// firmware calls up to a full timeout.
			Buckets: []float64{.0001, .001, .01, .05, .1, .25, .5, 1, 2},
		}, []string{"backend"}),
	}
	reg.MustRegister(m.commands, m.duration)
	return m
}

func (m *Metrics) observeCommand(backend string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		switch CodeOf(err) {
		case ErrCodeTimeout:
			outcome = "timeout"
		case ErrCodeTransport:
			outcome = "transport_error"
		case ErrCodeBackendRejected:
			outcome = "backend_rejected"
		case ErrCodeUnsupported:
			outcome = "unsupported"
		case ErrCodeInterrupted:
			outcome = "interrupted"
		default:
			outcome = "error"
		}
	}
	m.commands.WithLabelValues(backend, outcome).Inc()
	m.duration.WithLabelValues(backend).Observe(d.Seconds())
}
