// Package oplog records every local mutation as an ordered, persisted
// operation-log entry and reduces the log before it is replayed remotely.
//
// ORDERING:
//
// Entries are stamped by Clock with a Unix-millisecond timestamp that is
// strictly increasing within a process, even when the wall clock stalls or
// steps back. The timestamp doubles as the log's sequence number: ordering,
// compaction and the watermark used by Replace all rely on it.
//
// COMPACTION:
//
// Compact folds all entries of one (kind, id) into a single final intent,
// so several local edits between two sync windows cost one remote call.
// It never reorders entries across groups.
package oplog
