/*
Package events provides an in-memory event broker for fleet's pub/sub
messaging.

The broker broadcasts bot lifecycle, worker lifecycle, and background-job
events to interested subscribers over buffered channels. Publishing never
blocks: a subscriber whose buffer is full simply misses the event.

That lossy contract is deliberate. The supervisor subscribes to bot.*
events purely as a latency optimization for its reconciliation loop; the
polling loop remains the correctness mechanism, so a dropped hint costs
at most one reconcile interval.
*/
package events
