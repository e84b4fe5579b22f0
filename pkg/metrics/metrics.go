package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_connections_total",
			Help: "Total number of control connections established",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ftrd_connections_current",
			Help: "Current number of active control connections",
		},
		[]string{"protocol"},
	)

	AuthenticatedConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ftrd_authenticated_connections_current",
			Help: "Current number of authenticated control connections",
		},
		[]string{"protocol"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftrd_connection_duration_seconds",
			Help:    "Duration of control connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"protocol", "result"},
	)
)

// Command metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_commands_total",
			Help: "Total number of commands processed, by reply class",
		},
		[]string{"command", "status"},
	)
)

// Data channel and transfer metrics
var (
	DataConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_data_connections_total",
			Help: "Total number of data connections negotiated",
		},
		[]string{"mode", "result"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_transfers_total",
			Help: "Total number of data transfers",
		},
		[]string{"command", "result"},
	)

	TransferBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_transfer_bytes_total",
			Help: "Total bytes moved over data connections",
		},
		[]string{"direction"},
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ftrd_transfer_duration_seconds",
			Help:    "Duration of data transfers in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"command"},
	)
)

// Process metrics
var (
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ftrd_config_reloads_total",
			Help: "Total number of configuration reloads",
		},
		[]string{"result"},
	)

	HistoryTransfersStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftrd_history_transfers_stored",
			Help: "Number of transfers kept in the history store",
		},
	)

	HistoryBytesStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ftrd_history_bytes_stored",
			Help: "Sum of bytes over all transfers kept in the history store",
		},
	)
)

// StatusClass maps a reply code to the label used by CommandsTotal.
func StatusClass(code int) string {
	switch {
	case code < 100:
		return "other"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "other"
	}
}
