// Package store provides persistent storage for clawswarm using SQLite.
//
// # Architecture
//
// The store package uses small interfaces, one per concern:
//
//   - CursorStore: the agent's acknowledged position in the gateway timeline
//   - EmbeddingIndex: vectors for the memory log, keyed by entry offset
//   - TurnLog: the outcome of every message the agent handled
//
// SQLiteStore implements all of them in a single struct over one database
// file. MockStore is the in-memory equivalent for tests.
//
// # Schema
//
//   - consumer_cursors(consumer_id PRIMARY KEY, cursor JSON, updated_at)
//   - memory_embeddings(offset PRIMARY KEY, dims, vector BLOB)
//   - agent_turns(turn_id PRIMARY KEY, consumer_id, message_key, outcome, ...)
//
// Vectors are stored as little-endian float32 values; dims is checked on read
// and mismatched rows are skipped so the memory subsystem re-embeds them.
//
// # Concurrency
//
// The database runs in WAL mode with a busy timeout, so the gateway and the
// agent can share a file when started together by `clawswarm run`.
package store
