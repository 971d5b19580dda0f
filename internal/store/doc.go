// Package store persists the engine's durable state as opaque values under
// fixed keys.
//
// The engine keeps four documents: the cached event collection, the venue
// table, the pending mutation queue (with parked errors), and the daily
// creation quota. Each is written as a whole; there are no partial updates,
// so a reader never sees half of a write.
//
// # Backends
//
//   - SQLite: single file, WAL mode, one writer connection (default)
//   - Redis: shared cache for multi-process setups
//   - Memory: tests and throwaway sessions
//
// # SQLite Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Schema changes are applied by PRAGMA user_version migrations in Open.
package store
