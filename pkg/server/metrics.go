package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wired",
		Subsystem: "server",
		Name:      "active_sessions",
		Help:      "Connected clients that completed the handshake.",
	})
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Sessions created and disconnected.",
		},
		[]string{"event"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "server",
			Name:      "messages_total",
			Help:      "Messages received and sent, by name.",
		},
		[]string{"direction", "message"},
	)
	handshakeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wired",
		Subsystem: "server",
		Name:      "handshake_failures_total",
		Help:      "Connections dropped before a session was created.",
	})
)

// Metrics records server activity in the default Prometheus registry.
type Metrics struct{}

// NewMetrics registers the server collectors once and returns a recorder.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		prometheus.MustRegister(activeSessions, sessionsTotal, messagesTotal, handshakeFailures)
	})
	return &Metrics{}
}

func (m *Metrics) RecordActiveSessions(n int)        { activeSessions.Set(float64(n)) }
func (m *Metrics) RecordSessionCreated()             { sessionsTotal.WithLabelValues("created").Inc() }
func (m *Metrics) RecordSessionDisconnected()        { sessionsTotal.WithLabelValues("disconnected").Inc() }
func (m *Metrics) RecordMessageReceived(name string) { messagesTotal.WithLabelValues("in", name).Inc() }
func (m *Metrics) RecordMessageSent(name string)     { messagesTotal.WithLabelValues("out", name).Inc() }
func (m *Metrics) RecordHandshakeFailure()           { handshakeFailures.Inc() }
