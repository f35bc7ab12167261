// Package store provides the persistent key-value backing for the offline
// store.
//
// Every collection the offline store keeps (players, games, the operation
// log and the identity map) is a single JSON document stored under a string
// key. The backing only knows about strings; decoding and the fallback to a
// default value on malformed data live in LoadJSON.
//
// Read-modify-write goes through UpdateJSON, which runs as one transaction
// so two processes sharing a database file never lose each other's writes.
// The lease table behind Lease lets those processes agree on which one runs
// a sync pass.
//
// Two implementations satisfy Backing:
//   - Store: SQLite-backed, survives process restarts
//   - Memory: map-backed, used by tests and throwaway sessions
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
