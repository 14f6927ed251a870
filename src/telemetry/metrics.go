// Package telemetry holds the Prometheus metrics of a tanglesync node.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tanglesync"

var (
	// Registry holds every tanglesync collector. MetricsHandler serves it.
	Registry = prometheus.NewRegistry()

	// Requests counts request tracker events, labeled by tracker ("message",
	// "milestone") and outcome ("sent", "retried", "satisfied", "abandoned",
	// "unsent").
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Request tracker events.",
		},
		[]string{"tracker", "outcome"},
	)

	// PendingRequests is the number of keys awaited by each tracker.
	PendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Identifiers currently awaited.",
		},
		[]string{"tracker"},
	)

	// Packets counts valid packets, labeled by kind and direction ("in", "out").
	Packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets handled, by kind and direction.",
		},
		[]string{"kind", "direction"},
	)

	// InvalidPackets counts dropped frames, labeled by packet error type.
	InvalidPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_packets_total",
			Help:      "Frames dropped by the codec, by error type.",
		},
		[]string{"error"},
	)

	// ConnectedPeers is the number of registered peers.
	ConnectedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Peers in the registry.",
		},
	)

	// SyncedPeers is the number of peers whose last heartbeat reports them synced.
	SyncedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "synced_peers",
			Help:      "Peers whose last heartbeat reports them synced.",
		},
	)

	// MilestoneIndex is the latest and solid milestone index, by label.
	MilestoneIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "milestone_index",
			Help:      "Latest and solid milestone index of the local tangle.",
		},
		[]string{"milestone"},
	)

	// HTTPRequests counts API requests by operation and status class.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	// HTTPDuration observes API latency by operation.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		Requests,
		PendingRequests,
		Packets,
		InvalidPackets,
		ConnectedPeers,
		SyncedPeers,
		MilestoneIndex,
		HTTPRequests,
		HTTPDuration,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the op label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		HTTPRequests.WithLabelValues(op, class).Inc()
		HTTPDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
