package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one Server. Each Server owns its
// registry so several servers can live in one process (tests, restarts).
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	framesBroadcast   *prometheus.CounterVec
	sendFailures      prometheus.Counter
	broadcastQueueLen prometheus.Gauge
	blacklistSize     prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pychat",
			Name:      "connections_total",
			Help:      "Accepted connections by transport",
		}, []string{"transport"}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pychat",
			Name:      "connections_rejected_total",
			Help:      "Connections rejected before admission, by reason",
		}, []string{"reason"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pychat",
			Name:      "active_sessions",
			Help:      "Number of registered sessions",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pychat",
			Name:      "frames_received_total",
			Help:      "Frames received from clients by kind",
		}, []string{"kind"}),
		framesBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pychat",
			Name:      "frames_broadcast_total",
			Help:      "Frames fanned out by the broadcaster by kind",
		}, []string{"kind"}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pychat",
			Name:      "send_failures_total",
			Help:      "Per-recipient write failures",
		}),
		broadcastQueueLen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pychat",
			Name:      "broadcast_queue_length",
			Help:      "Jobs waiting in the broadcast queue",
		}),
		blacklistSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pychat",
			Name:      "blacklist_entries",
			Help:      "Number of blacklisted addresses and networks",
		}),
	}
}

// Registry returns the registry backing the /metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordConnection(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordFrameReceived(kind string) {
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordBroadcast(kind string) {
	m.framesBroadcast.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSendFailure() {
	m.sendFailures.Inc()
}

func (m *Metrics) SetQueueLength(n int) {
	m.broadcastQueueLen.Set(float64(n))
}

func (m *Metrics) SetBlacklistSize(n int) {
	m.blacklistSize.Set(float64(n))
}
