package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jward/tracegraph/internal/store"
)

// metrics are registered on a per-server registry so that several servers
// can live in one process.
type metrics struct {
	messages       *prometheus.CounterVec
	records        *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	connections    prometheus.Gauge
	applications   prometheus.GaugeFunc
}

func newMetrics(reg *prometheus.Registry, apps func() float64) *metrics {
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)
	return &metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracegraph",
			Subsystem: "runtime",
			Name:      "messages_total",
			Help:      "Runtime messages received, by message type",
		}, []string{"type"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracegraph",
			Subsystem: "runtime",
			Name:      "records_total",
			Help:      "Records received in data messages, by collection",
		}, []string{"collection"}),
		protocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracegraph",
			Subsystem: "runtime",
			Name:      "protocol_errors_total",
			Help:      "Messages rejected or partially applied, by message type",
		}, []string{"type"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracegraph",
			Subsystem: "runtime",
			Name:      "connections",
			Help:      "Open runtime connections",
		}),
		applications: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tracegraph",
			Name:      "applications",
			Help:      "Applications held by the engine",
		}, apps),
	}
}

func (m *metrics) observeBatch(b *store.Batch) {
	for _, name := range store.CollectionNames() {
		if n := b.Count(name); n > 0 {
			m.records.WithLabelValues(string(name)).Add(float64(n))
		}
	}
}
