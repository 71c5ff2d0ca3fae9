package gateway

import (
	"time"

	"github.com/ggoodman/tokengate/auth"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts /secure outcomes. Labels never include token material or
// subjects.
type Metrics struct {
	Checks   *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tokengate",
				Name:      "auth_checks_total",
				Help:      "Bearer token checks on protected routes by mode and outcome.",
			},
			[]string{"mode", "outcome", "reason"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tokengate",
				Name:      "auth_check_duration_seconds",
				Help:      "Time spent verifying bearer tokens.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"mode"},
		),
	}
	for _, c := range []prometheus.Collector{m.Checks, m.Duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(mode auth.Mode, reason auth.Reason, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if reason != "" {
		outcome = "rejected"
	}
	m.Checks.WithLabelValues(mode.String(), outcome, string(reason)).Inc()
	if !reason.Extraction() {
		m.Duration.WithLabelValues(mode.String()).Observe(d.Seconds())
	}
}
