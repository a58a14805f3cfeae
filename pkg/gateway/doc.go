/*
Package gateway defines the messaging gateway client used by workers.

The Client interface is the seam between the fleet and the external
messaging platform: Open validates one bot credential and yields a Conn
carrying an ordered inbound message stream plus outbound send. The
supervisor and workers depend only on the interface; tests substitute
instrumented fakes.

# Error Taxonomy

Errors are typed so callers can pick the right policy:

  - CredentialError: invalid or revoked token. Terminal for a start
    attempt, never auto-retried.
  - TransientError: network or timeout failure. Retried by the
    supervisor's backoff.
  - SendError: per-recipient delivery rejection. Counted by broadcast
    jobs, never aborts the job.

# HTTP Implementation

HTTPClient speaks the Telegram-style bot HTTP API: getMe for credential
validation and identity resolution, getUpdates long polling for the
inbound stream, sendMessage for delivery. The base URL is configurable
so tests can point it at an httptest server.
*/
package gateway
