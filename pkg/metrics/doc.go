/*
Package metrics provides Prometheus metrics and health reporting for the
fleet daemon.

All metrics are registered with the default Prometheus registry at package
init and exposed through Handler for scraping. Components update metrics
directly via the exported collectors; there is no intermediate layer.

# Architecture

	┌──────────────────── METRICS SYSTEM ─────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │          Prometheus Registry                │         │
	│  │  - Global DefaultRegistry                   │         │
	│  │  - MustRegister at package init             │         │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │           Metric Categories                 │         │
	│  │                                              │        │
	│  │  Fleet: bot records, worker states          │        │
	│  │  Supervisor: cycles, duration, restarts     │        │
	│  │  Dispatch: messages routed, errors          │        │
	│  │  Jobs: broadcast sent/failed, follow-ups    │        │
	│  │  API: request count, latency                │        │
	│  └──────────────────┬─────────────────────────┘         │
	│                     │                                    │
	│  ┌──────────────────▼─────────────────────────┐         │
	│  │        HTTP Exposition (/metrics)           │        │
	│  └────────────────────────────────────────────┘         │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

# Metric Naming

All metrics carry the fleet_ prefix:

	fleet_bots_total{status}              bot records by status
	fleet_workers_total{state}            workers by lifecycle state
	fleet_worker_restarts_total           crash restarts performed
	fleet_reconciliation_cycles_total     supervisor passes completed
	fleet_reconciliation_duration_seconds pass latency distribution
	fleet_messages_dispatched_total       inbound messages routed
	fleet_broadcast_sent_total            broadcast deliveries
	fleet_broadcast_failed_total          broadcast delivery failures
	fleet_delayed_tasks_fired_total       deferred sends that fired
	fleet_api_requests_total{method,status}

# Health Reporting

The package also carries the component health registry behind the
/healthz, /readyz and /livez endpoints. Components report their state
with RegisterComponent and UpdateComponent; readiness requires the
store, supervisor and api components to be registered and healthy, so
a booting daemon answers not_ready until startup completes.

# Usage

	metrics.WorkerRestartsTotal.Inc()

	timer := metrics.NewTimer()
	runReconcilePass()
	timer.ObserveDuration(metrics.ReconciliationDuration)

	mux.Handle("/metrics", metrics.Handler())
*/
package metrics
