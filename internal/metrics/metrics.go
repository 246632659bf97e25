// Package metrics exposes the server's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inksprint_sessions_online",
		Help: "Number of authenticated sessions currently connected.",
	})

	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inksprint_frames_received_total",
		Help: "Decrypted request frames received, by request type.",
	}, []string{"type"})

	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inksprint_frames_sent_total",
		Help: "Encrypted frames written to clients.",
	})

	PushesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inksprint_pushes_dropped_total",
		Help: "Pushes skipped because the target had no live session.",
	})

	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inksprint_handshake_failures_total",
		Help: "Connections dropped during the key exchange.",
	})
)
