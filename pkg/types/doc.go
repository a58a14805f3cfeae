/*
Package types defines the core data structures shared across fleet.

This package contains the domain model for the bot fleet: desired-state
bot records, worker lifecycle states, inbound/outbound message shapes,
subscriber records, and per-feature configuration blobs. All other
packages depend on types; types depends on nothing but the standard
library.

# Core Types

  - Bot: one tenant connection record with status active/inactive/deleted
  - WorkerState: starting → running → stopping → stopped, plus failed
  - InboundMessage / Payload: gateway message shapes
  - Subscriber: per-bot audience member for broadcasts
  - FeatureConfig: opaque feature configuration owned by the menu layer

All types are JSON-serializable and stored as-is in the BoltDB store.
*/
package types
