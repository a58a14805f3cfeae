/*
Package worker implements the supervised unit for one bot connection.

A Worker owns one validated gateway connection, the loop that forwards
inbound messages to the dispatch callback, and the cancellation scope
that every piece of background work for the bot is a child of. The
supervisor creates and tears down workers; nothing else mutates them.

# Lifecycle

	Starting ──► Running ──► Stopping ──► Stopped
	    │            │
	    └──► Failed ◄┘

Start validates the credential with a bounded timeout. An invalid or
revoked credential fails the attempt terminally; the supervisor decides
whether and when to retry. A transport error during Running moves the
worker to Failed and reports it to the supervisor via the exit callback.
There is no retry loop inside the worker itself.

Dispatch failures are isolated per message: a bad message is logged and
counted, and the loop continues. Transport failures end the loop.

# Ownership of Background Work

DelayedTask and BroadcastJob both derive their contexts from the
worker's scope. Stopping the worker (for any reason, including tenant
deletion) transitively cancels every outstanding timer and fan-out, so
no send can fire against a torn-down connection.

# DelayedTask

A single-shot deferred send. When the delay elapses and the scope is
still live, the send function executes exactly once; if the worker
stops first, it never executes. The race between the timer and a
concurrent cancellation is resolved by re-checking the scope after the
timer fires.

# BroadcastJob

A rate- and concurrency-limited fan-out over a lazily-streamed
audience. At most the configured number of sends are in flight at any
instant (weighted semaphore) and at most the configured number are
issued per second (token bucket). Per-recipient failures are counted
and skipped. The job terminates when the audience is exhausted or the
worker stops, reporting final sent/failed counters either way.
*/
package worker
