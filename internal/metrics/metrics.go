// Package metrics defines all Prometheus metrics for rankdns.
// All metrics use the "rankdns_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rankdns"

// --- Query Metrics ---

var (
	// QueriesTotal counts resolved queries by query type and final result code.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Total queries resolved, by query type and result code.",
	}, []string{"qtype", "code"})

	// QueryDuration tracks end-to-end query latency as observed by the frontend.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Query resolution duration in seconds, by server group tag.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"tag"})

	// QueryRetries counts how many retries a resolved query needed.
	QueryRetries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_retries",
		Help:      "Number of SERVFAIL retries spent per resolved query.",
		Buckets:   []float64{0, 1, 2, 3, 4, 5},
	}, []string{"tag"})
)

// --- Backend Metrics ---

var (
	// BackendQueriesTotal counts queries sent to each upstream server, by result code.
	BackendQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_queries_total",
		Help:      "Total queries sent to each upstream server, by result code.",
	}, []string{"server", "code"})

	// BackendRtime tracks the wire round-trip time of each real upstream
	// exchange (the mock and file backends do not record it).
	BackendRtime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_response_seconds",
		Help:      "Observed per-server response time in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"server"})
)

// --- Ranking Metrics ---

var (
	// ServerRank is the current rank value (lower is preferred) per upstream server.
	ServerRank = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_rank",
		Help:      "Current rank value of each upstream server (lower is preferred).",
	}, []string{"server"})

	// ServerSelected counts, per server, the queries whose final response came
	// from that server (SERVFAILed attempts before it are not counted).
	ServerSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "server_selected_total",
		Help:      "Total queries whose final response came from each upstream server.",
	}, []string{"server"})
)

// --- Anomaly Metrics ---

var (
	// AnomalyDelayInjected is a counter of synthetic delays by matched server
	// pattern. Nothing in rankdns increments it, so it always reads zero.
	AnomalyDelayInjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_delay_injected_total",
		Help:      "Total synthetic delays injected, by matched server pattern.",
	}, []string{"pattern"})

	// AnomalyPhaseActive is 1 when an anomaly phase is currently active, 0 when quiet.
	AnomalyPhaseActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "anomaly_phase_active",
		Help:      "1 if an anomaly phase is currently active, 0 if quiet.",
	})
)

// --- Frontend Metrics ---

var (
	// ListenerErrors counts UDP/TCP listener errors, by network.
	ListenerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listener_errors_total",
		Help:      "Total listener errors, by network (udp, tcp).",
	}, []string{"network"})
)

// --- Server Info ---

var (
	// ServerInfo is a constant gauge with server metadata.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_info",
		Help:      "Server build and version info.",
	}, []string{"version"})

	// ServerStartTime tracks server start time as a unix timestamp.
	ServerStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "server_start_time_seconds",
		Help:      "Server start time as Unix timestamp.",
	})
)
