/*
Package manager implements the tenant-facing management surface.

The manager owns every desired-state mutation: creating a bot (with
credential validation against the gateway before anything is stored),
pausing, resuming, re-keying, and deleting, plus per-feature
configuration blobs and the per-bot subscriber registry.

The manager never touches workers to apply desired-state changes. It
writes the record and publishes an event, and the supervisor's
reconciliation loop converges on it. The event is only a latency hint.

Two operations do reach into the running fleet through the supervisor's
worker handles: StartBroadcast runs a rate-limited fan-out to a bot's
subscribers, and ScheduleFollowUp arms a delayed offer send. Both
execute under the owning worker's cancellation scope, so tearing the
bot down cancels them.
*/
package manager
