package call

import (
	"time"

	"github.com/dkeye/consult/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	started  *prometheus.CounterVec
	ended    *prometheus.CounterVec
	active   prometheus.Gauge
	setup    prometheus.Histogram
	controls *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		started: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "call",
			Name:      "started_total",
			Help:      "Call sessions started, by role.",
		}, []string{"role"}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "call",
			Name:      "ended_total",
			Help:      "Call sessions ended, by reason.",
		}, []string{"reason"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "consult",
			Subsystem: "call",
			Name:      "active",
			Help:      "Call sessions between start and Ended.",
		}),
		setup: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "consult",
			Subsystem: "call",
			Name:      "setup_seconds",
			Help:      "Time from start to Connected.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
		controls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "call",
			Name:      "controls_total",
			Help:      "In-call control requests, by control and result.",
		}, []string{"control", "result"}),
	}
}

func (m *Metrics) callStarted(r role) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(r.String()).Inc()
	m.active.Inc()
}

func (m *Metrics) callEnded(reason error) {
	if m == nil {
		return
	}
	m.ended.WithLabelValues(domain.ReasonCode(reason)).Inc()
	m.active.Dec()
}

func (m *Metrics) callConnected(d time.Duration) {
	if m == nil {
		return
	}
	m.setup.Observe(d.Seconds())
}

func (m *Metrics) control(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case domain.IsControlError(err):
		result = "rejected"
	default:
		result = "error"
	}
	m.controls.WithLabelValues(name, result).Inc()
}
