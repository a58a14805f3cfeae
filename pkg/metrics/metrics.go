package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	BotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_bots_total",
			Help: "Total number of bot records by status",
		},
		[]string{"status"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_workers_total",
			Help: "Total number of workers by state",
		},
		[]string{"state"},
	)

	WorkerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_worker_restarts_total",
			Help: "Total number of worker restarts after failure",
		},
	)

	// Reconciliation metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_reconciliation_errors_total",
			Help: "Total number of failed state fetches during reconciliation",
		},
	)

	// Message metrics
	MessagesDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_messages_dispatched_total",
			Help: "Total number of inbound messages forwarded to dispatch",
		},
	)

	DispatchErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_dispatch_errors_total",
			Help: "Total number of dispatch callback failures",
		},
	)

	// Background job metrics
	BroadcastSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_broadcast_sent_total",
			Help: "Total number of broadcast messages delivered",
		},
	)

	BroadcastFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_broadcast_failed_total",
			Help: "Total number of broadcast messages that failed",
		},
	)

	DelayedTasksFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_delayed_tasks_fired_total",
			Help: "Total number of delayed tasks that fired",
		},
	)

	DelayedTasksCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_delayed_tasks_cancelled_total",
			Help: "Total number of delayed tasks cancelled before firing",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(BotsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(MessagesDispatchedTotal)
	prometheus.MustRegister(DispatchErrorsTotal)
	prometheus.MustRegister(BroadcastSentTotal)
	prometheus.MustRegister(BroadcastFailedTotal)
	prometheus.MustRegister(DelayedTasksFiredTotal)
	prometheus.MustRegister(DelayedTasksCancelledTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
