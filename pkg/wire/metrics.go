package wire

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeolun/wired/pkg/crypto"
)

var (
	registerOnce sync.Once

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "wire",
			Name:      "handshakes_total",
			Help:      "Completed and failed P7 handshakes.",
		},
		[]string{"role", "cipher", "result"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wired",
			Subsystem: "wire",
			Name:      "handshake_duration_seconds",
			Help:      "P7 handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "cipher"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames written and read.",
		},
		[]string{"direction"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "wire",
			Name:      "frame_bytes_total",
			Help:      "Frame payload bytes written and read, after compression and encryption.",
		},
		[]string{"direction"},
	)
	cryptoFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wired",
			Subsystem: "wire",
			Name:      "crypto_failures_total",
			Help:      "Frames rejected by checksum or decryption.",
		},
		[]string{"op"},
	)
)

// RegisterMetrics registers the channel collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(handshakes, handshakeDuration, frames, frameBytes, cryptoFailures)
	})
}

func recordHandshake(role crypto.Role, cipher crypto.CipherKind, err error, d time.Duration) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	handshakes.WithLabelValues(role.String(), cipher.String(), result).Inc()
	handshakeDuration.WithLabelValues(role.String(), cipher.String()).Observe(d.Seconds())
}

func recordFrame(direction string, n int) {
	RegisterMetrics()
	frames.WithLabelValues(direction).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(n))
}

func recordCryptoFailure(op string) {
	RegisterMetrics()
	cryptoFailures.WithLabelValues(op).Inc()
}
