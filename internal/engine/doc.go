// Package engine drains the operation log into the remote entity service.
//
// STATE MACHINE:
//
//	Idle --trigger--> Syncing --done--> Idle
//	                  Syncing --trigger--> SyncingPendingRerun --done--> Syncing (another pass)
//
// At most one pass runs at any instant. A trigger that arrives while a pass
// is running sets a single pending flag (not a counter) and returns at once;
// when the pass ends, exactly one more pass runs. Every pass re-checks the
// connectivity signal and stops early on an empty log.
//
// With WithLease, a pass also holds a lease row in the shared database, so a
// daemon and a one-shot command on the same file never both call the remote
// for one log. A SyncNow that finds the lease taken returns OutcomeBusy. The
// lease is renewed before every remote call and lapses on its own if the
// holder dies. Exclusive takes the same locks for work that must not overlap
// a pass, such as a reset.
//
// PASS:
//
//  1. Read the raw log and note its watermark (highest ts).
//  2. Compact it.
//  3. Apply entries strictly in order, one remote call at a time, each
//     bounded by the remote timeout.
//  4. On the first failure, stop. The failing entry and everything after it
//     stay in the log; everything before it is gone.
//  5. Replace the consumed entries with that tail. Entries appended while
//     the pass ran are newer than the watermark and survive.
//
// HANDLERS:
//
// Each entity kind has one named handler. create stores the returned remote
// id in the identity map. update on an unmapped entity takes the
// recoverAsCreate path: the current local record is created remotely, or the
// entry is skipped when the record is gone. delete on an unmapped entity is
// skipped: it never reached the remote.
//
// TRIGGERS:
//
//   - Request: after every local mutation (fire-and-forget)
//   - SyncNow: manual, waits for the pass
//   - Run: at startup, on every online transition, and on a retry ticker
//     while the log is dirty
package engine
