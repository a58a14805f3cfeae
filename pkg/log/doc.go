/*
Package log provides structured logging for fleet using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific child loggers, configurable log levels,
and helper functions for common patterns. Console output is used for
interactive runs, JSON for production.

Components obtain a child logger once at construction:

	logger := log.WithComponent("supervisor")
	logger.Info().Str("bot_id", id).Msg("worker started")

Per-bot context is attached with log.WithBotID so every worker log line
carries the tenant it belongs to.
*/
package log
