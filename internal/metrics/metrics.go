package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockd_ticks_total",
			Help: "Total number of executor ticks by outcome",
		},
		[]string{"outcome"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockd_actions_total",
			Help: "Total number of executed actions",
		},
		[]string{"kind", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockd_operation_duration_seconds",
			Help:    "Hardware operation time in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind"},
	)

	forcedQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockd_forced_queue_depth",
			Help: "Number of forced requests waiting",
		},
	)

	busInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockd_bus_in_flight",
			Help: "Number of activities holding the instrument bus",
		},
	)

	errorsReported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dockd_errors_reported_total",
			Help: "Total number of distinct errors reported",
		},
	)

	heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dockd_heartbeats_total",
			Help: "Total number of heartbeats sent",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dockd_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dockd_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockd_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockd_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dockd_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTick(outcome string) {
	ticksTotal.WithLabelValues(outcome).Inc()
}

func RecordAction(kind, outcome string, duration time.Duration) {
	actionsTotal.WithLabelValues(kind, outcome).Inc()
	operationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func SetForcedQueueDepth(n int) {
	forcedQueueDepth.Set(float64(n))
}

func IncrementBusInFlight() {
	busInFlight.Inc()
}

func DecrementBusInFlight() {
	busInFlight.Dec()
}

func RecordErrorReported() {
	errorsReported.Inc()
}

func RecordHeartbeat() {
	heartbeats.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
