package undo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the manager's Prometheus collectors.
type Metrics struct {
	Operations *prometheus.CounterVec
	Depth      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveview",
			Subsystem: "undo",
			Name:      "operations_total",
			Help:      "Undo and redo attempts by outcome",
		}, []string{"op", "result"}),
		Depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "liveview",
			Subsystem: "undo",
			Name:      "stack_depth",
			Help:      "Entries on the undo and redo stacks",
		}, []string{"stack"}),
	}
}

func (m *Metrics) record(op Operation, result string) {
	m.Operations.WithLabelValues(string(op), result).Inc()
}

func (m *Metrics) depth(undo, redo int) {
	m.Depth.WithLabelValues(string(OpUndo)).Set(float64(undo))
	m.Depth.WithLabelValues(string(OpRedo)).Set(float64(redo))
}
