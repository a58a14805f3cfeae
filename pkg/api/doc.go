/*
Package api implements the fleet management REST API server.

The api package is the external surface of the fleet daemon. It exposes bot
lifecycle operations, feature configuration, job triggers, and fleet
introspection over HTTP with JSON bodies, and serves the health and
Prometheus metrics endpoints on the same listener.

# Architecture

The API server fronts the manager and supervisor:

	┌──────────────────── CLIENT (CLI/curl) ─────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │            HTTP Client (JSON)                 │          │
	│  └──────────────────┬───────────────────────────┘          │
	└─────────────────────┼──────────────────────────────────────┘
	                      │ HTTP (port 8080)
	                      │
	┌─────────────────────▼──── FLEET DAEMON ────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │          REST API Server (pkg/api)            │          │
	│  │  - /v1/bots lifecycle routes                  │          │
	│  │  - /v1/fleet/status introspection             │          │
	│  │  - /healthz /readyz /metrics                  │          │
	│  │  - Request metrics instrumentation            │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              Manager / Supervisor             │          │
	│  └──────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Routes

Bot lifecycle:

	POST   /v1/bots                     register a bot from a credential
	GET    /v1/bots?owner=ID            list bots, optionally by owner
	GET    /v1/bots/{id}                fetch a single bot record
	DELETE /v1/bots/{id}                delete a bot (terminal)
	POST   /v1/bots/{id}/pause          mark inactive, worker stops
	POST   /v1/bots/{id}/resume         mark active, worker starts
	POST   /v1/bots/{id}/rekey          rotate the credential

Features and jobs:

	GET    /v1/bots/{id}/config/{feature}   read a feature config
	PUT    /v1/bots/{id}/config/{feature}   replace a feature config
	POST   /v1/bots/{id}/broadcast          start a fan-out send
	POST   /v1/bots/{id}/followup           schedule a deferred send

Introspection:

	GET    /v1/fleet/status             per-worker state, uptime, restarts
	GET    /healthz                     component health
	GET    /readyz                      readiness for traffic
	GET    /metrics                     Prometheus metrics

# Error Mapping

Manager and storage errors map to HTTP statuses: unknown bots return 404,
deleted bots return 410, operations that need a running worker return 409,
rejected credentials return 422, and upstream gateway failures return 502.
Bot tokens are never echoed back in responses.

# Usage

	server := api.NewServer(mgr, sup)
	go server.Start(":8080")
	...
	server.Shutdown(ctx)
*/
package api
