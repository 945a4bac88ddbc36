package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat"

// Metrics holds the Prometheus collectors of the delivery engine. All methods
// are safe on a nil receiver.
type Metrics struct {
	messagesCreated prometheus.Counter
	framesDelivered *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	framesRejected  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	sweepDeleted    *prometheus.CounterVec
	sweepFailures   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_created_total",
			Help:      "Messages persisted by the store.",
		}),
		framesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Outbound frames queued on a live connection.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames not delivered, by reason.",
		}, []string{"type", "reason"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Inbound frames discarded by a session, by reason.",
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open duplex sessions.",
		}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Messages removed by the purge sweep, by reason.",
		}, []string{"reason"}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Purge sweep iterations that returned an error.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.messagesCreated,
			m.framesDelivered,
			m.framesDropped,
			m.framesRejected,
			m.activeSessions,
			m.sweepDeleted,
			m.sweepFailures,
		)
	}
	return m
}

func (m *Metrics) MessageCreated() {
	if m == nil {
		return
	}
	m.messagesCreated.Inc()
}

func (m *Metrics) FrameDelivered(frameType string) {
	if m == nil {
		return
	}
	m.framesDelivered.WithLabelValues(frameType).Inc()
}

func (m *Metrics) FrameDropped(frameType, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(frameType, reason).Inc()
}

func (m *Metrics) FrameRejected(reason string) {
	if m == nil {
		return
	}
	m.framesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) Swept(empty, expired int64) {
	if m == nil {
		return
	}
	m.sweepDeleted.WithLabelValues("empty").Add(float64(empty))
	m.sweepDeleted.WithLabelValues("expired").Add(float64(expired))
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}
