/*
Package storage provides BoltDB-backed state persistence for the bot fleet.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for bot records, feature
configurations, and subscriber registries. All data is serialized as JSON
and stored in separate buckets.

# Bucket Structure

	bots          bot ID → Bot record (desired state)
	configs       "<botID>/<feature>" → FeatureConfig blob
	subscribers   "<botID>/<chatID>" → Subscriber record

# Change Detection

Every mutation bumps the record's UpdatedAt inside the same transaction.
ListBotsChangedSince scans on that timestamp and is the delta feed the
supervisor's reconciliation loop polls; a full ListBots is the fallback
for the first pass and after fetch errors.

# Audience Streaming

ForEachSubscriber iterates a bot's subscribers in bounded pages, one
read transaction per page, and hands records to the callback with no
transaction held. A slow callback (a rate-limited broadcast) therefore
never pins a read transaction open, and upserts from dispatch loops
proceed while a scan is paced. Broadcast jobs consume this stream
lazily so an audience is never fully materialized in memory.
*/
package storage
