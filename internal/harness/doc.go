// Package harness runs sync scenarios against the wired sync core.
//
// A scenario drives the local store through mutations, flips connectivity,
// breaks and heals the remote, and triggers syncs. The remote is an
// in-memory RecordingService, so the full call trace can be asserted and
// snapshotted.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false
//	steps:
//	  - do: create_player
//	    args: { name: Ada, team: queue }
//	  - do: update_player
//	    id: player_1
//	    args: { team: challenger }
//	  - do: go_online
//	  - do: sync
//	    expect: { outcome: synced, applied: 1, remaining: 0 }
//	assertions:
//	  - type: remote_calls
//	    calls: ["create Player"]
//	  - type: remote_state
//	    kind: Player
//	    where: { name: Ada }
//	    expect: { team: challenger }
//
// # Steps
//
//   - create_player, update_player, delete_player: local Player mutations
//   - create_game, update_game, delete_game: local Game mutations
//   - go_online, go_offline: flip the connectivity signal
//   - fail_remote: fail the next count remote calls with 503 (0: until healed)
//   - heal_remote: stop failing
//   - sync: run SyncNow and check the expect clause
//
// Every mutation notifies the engine, exactly as in production, and the
// harness waits for the background sync before the next step.
//
// # Assertion Types
//
//   - remote_calls: the exact remote call sequence
//   - remote_count: number of remote records of a kind
//   - remote_state: a remote record selected by where has the expect fields
//   - local_count: number of local records of a kind
//   - oplog_len: number of queued log entries
//   - mapped, unmapped: whether a local id has a remote id
//
// # Deterministic Testing
//
// Local ids come from testutil.SequenceIDs (player_1, game_1, ...), remote
// ids are issued in call order (r-1, r-2, ...), and timestamps come from a
// testutil.ManualClock. Each scenario runs on its own in-memory backing, so
// identical scenarios produce identical call traces for golden comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_queue.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
