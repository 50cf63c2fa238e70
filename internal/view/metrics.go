package view

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "liveview"
	cacheSubsystem   = "cache"
)

// Notification outcomes.
const (
	resultApplied  = "applied"
	resultIgnored  = "ignored"
	resultRejected = "rejected"
)

// Metrics are the cache's Prometheus collectors.
type Metrics struct {
	TableViews    prometheus.Gauge
	RowViews      prometheus.Gauge
	Notifications *prometheus.CounterVec
	Loads         prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TableViews: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: cacheSubsystem,
			Name:      "table_views",
			Help:      "Live table views",
		}),
		RowViews: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: cacheSubsystem,
			Name:      "row_views",
			Help:      "Live row views",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: cacheSubsystem,
			Name:      "notifications_total",
			Help:      "Push notifications processed by result",
		}, []string{"result"}),
		Loads: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: cacheSubsystem,
			Name:      "loads_total",
			Help:      "Table view selects installed, initial and reloads",
		}),
	}
}

func (m *Metrics) notification(result string) {
	m.Notifications.WithLabelValues(result).Inc()
}
