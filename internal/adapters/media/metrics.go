package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegisterMetrics exposes the manager's live capture track count.
func RegisterMetrics(reg prometheus.Registerer, m *Manager) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "consult",
		Subsystem: "media",
		Name:      "active_tracks",
		Help:      "Capture tracks acquired and not yet stopped.",
	}, func() float64 { return float64(m.ActiveTracks()) })
}
