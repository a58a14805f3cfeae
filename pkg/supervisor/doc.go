/*
Package supervisor reconciles desired bot state against running workers.

The supervisor owns the map of live workers and runs a single-writer
reconciliation loop on a fixed interval, keeping the running set equal
to the set of active bot records in the store:

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Loop                       │
	│                   (every 5 seconds)                        │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	    ┌────────────┴────────────┐
	    │                         │
	    ▼                         ▼
	┌─────────────────┐   ┌──────────────────┐
	│ Fetch changed   │   │ Align workers    │
	│ records         │   │ with desired     │
	└─────┬───────────┘   └──────┬───────────┘
	      │                      │
	      ▼                      ▼
	  Fold into desired     Start missing,
	  view + tombstones     stop unauthorized,
	                        recycle re-keyed

# Change Detection

Each pass fetches records changed since the last successful pass,
falling back to a full list on the first pass. A fetch error fails
safe: the previous view is left untouched and the pass is retried next
interval. The last-sync timestamp only advances after a pass completes
without a fetch error.

An event-broker subscription provides optional push hints that trigger
an immediate pass. Hints are lossy and purely a latency optimization;
the polling loop alone is the correctness mechanism.

# Invariants

  - At most one worker exists per bot ID at any instant. The map entry
    is inserted before the worker starts, and all map writes happen on
    the loop goroutine.
  - A re-keyed bot's old worker is fully stopped before the replacement
    starts, so two connections never coexist under old/new credentials.
  - A record that reaches status deleted is tombstoned for the life of
    the process: its worker is stopped and never restarted, even if the
    status is later rewritten.

# Crash Recovery

A worker that fails reports its terminal state through an exit channel
consumed by the loop goroutine. Restarts go through exponential backoff
(base 2s, cap 60s), reset after a sustained healthy run. A credential
rejection is not retried: the record is deactivated so the management
surface can tell the tenant the credential is invalid.

# Shutdown

Stopping the supervisor stops every worker concurrently within a
bounded grace period; workers that do not drain in time are forcefully
cancelled through their contexts.
*/
package supervisor
