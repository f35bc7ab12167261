package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/remote"
	"github.com/roach88/dodgesync/internal/remotesvc"
	"github.com/roach88/dodgesync/internal/store"
	"github.com/roach88/dodgesync/internal/testutil"
)

func noEnv(string) (string, bool) { return "", false }

// cliHarness runs commands against one local database, as repeated
// invocations of the binary would.
type cliHarness struct {
	t   *testing.T
	db  string
	ids *testutil.SequenceIDs
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	return &cliHarness{
		t:   t,
		db:  filepath.Join(t.TempDir(), "local.db"),
		ids: testutil.NewSequenceIDs(),
	}
}

func (h *cliHarness) runCtx(ctx context.Context, args ...string) (string, error) {
	h.t.Helper()
	opts := &RootOptions{Lookup: noEnv, IDs: h.ids}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", h.db}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (h *cliHarness) run(args ...string) (string, error) {
	h.t.Helper()
	return h.runCtx(context.Background(), args...)
}

// runJSON runs a command with --format json and decodes its data into v.
func (h *cliHarness) runJSON(v any, args ...string) {
	h.t.Helper()
	out, err := h.run(append([]string{"--format", "json"}, args...)...)
	require.NoError(h.t, err, out)
	decodeData(h.t, out, v)
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	if v != nil {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
}

func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	records, err := remotesvc.OpenRecords(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })
	ts := httptest.NewServer(remotesvc.NewServer(records, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func remotePlayers(t *testing.T, url string) []remote.Record {
	t.Helper()
	recs, err := remote.NewClient(url, nil, nil).List(context.Background(), entity.KindPlayer)
	require.NoError(t, err)
	return recs
}

func TestPlayerLifecycleOffline(t *testing.T) {
	h := newCLIHarness(t)

	var ada, grace entity.Player
	h.runJSON(&ada, "--offline", "player", "add", "  Ada L. ", "--team", "challenger")
	h.runJSON(&grace, "--offline", "player", "add", "Grace")

	assert.Equal(t, "player_1", ada.ID)
	assert.Equal(t, "Ada L.", ada.Name)
	assert.Equal(t, entity.TeamChallenger, ada.Team)
	assert.Equal(t, 1, ada.QueuePosition)
	assert.Equal(t, 2, grace.QueuePosition, "joins at the back of the queue")
	assert.Equal(t, entity.TeamQueue, grace.Team)

	var moved entity.Player
	h.runJSON(&moved, "--offline", "player", "update", "player_1", "--position", "5")
	assert.Equal(t, 5, moved.QueuePosition)
	assert.Equal(t, "Ada L.", moved.Name)

	var players []entity.Player
	h.runJSON(&players, "player", "list")
	require.Len(t, players, 2)
	assert.Equal(t, "player_2", players[0].ID)
	assert.Equal(t, "player_1", players[1].ID)

	_, err := h.run("--offline", "player", "rm", "player_2")
	require.NoError(t, err)

	var raw, compacted []oplog.Entry
	h.runJSON(&raw, "oplog")
	h.runJSON(&compacted, "oplog", "--compact")
	assert.Len(t, raw, 4)
	require.Len(t, compacted, 1)
	assert.Equal(t, oplog.OpCreate, compacted[0].Op)
	assert.Equal(t, "player_1", compacted[0].ID)
	assert.EqualValues(t, 5, compacted[0].Data["queue_position"])
}

func TestPlayerListText(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("player", "list")
	require.NoError(t, err)
	assert.Equal(t, "No players.\n", out)

	_, err = h.run("--offline", "player", "add", "Ada L.")
	require.NoError(t, err)

	out, err = h.run("player", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "POS")
	assert.Contains(t, out, "Ada L.")
	assert.Contains(t, out, "player_1")
}

func TestPlayerUpdateNotFound(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("--offline", "--format", "json", "player", "update", "player_9", "--name", "Nobody")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, IsReported(err))
	assert.Equal(t, ErrCodeNotFound, decodeError(t, out).Code)
}

func TestPlayerUpdateNeedsAField(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("--offline", "player", "update", "player_1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPlayerAddInvalidTeam(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run("--offline", "--format", "json", "player", "add", "Ada", "--team", "bench")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeInvalid, decodeError(t, out).Code)
}

func TestGameRecord(t *testing.T) {
	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada")
	h.runJSON(nil, "--offline", "player", "add", "Grace")
	h.runJSON(nil, "--offline", "player", "add", "Linus")

	var g entity.Game
	h.runJSON(&g, "--offline", "game", "record",
		"--winners-court", "player_1",
		"--challengers", "player_2,player_3",
		"--eliminated", "player_3,player_2",
		"--streak", "2")

	assert.Equal(t, "game_1", g.ID)
	assert.Equal(t, "winners_court", g.WinningTeam)
	assert.Equal(t, "challenger", g.LosingTeam)
	assert.Equal(t, []string{"player_2", "player_3"}, g.ChallengerPlayers)
	assert.Equal(t, []entity.Elimination{
		{PlayerID: "player_3", PlayerName: "Linus", EliminationOrder: 1},
		{PlayerID: "player_2", PlayerName: "Grace", EliminationOrder: 2},
	}, g.EliminatedPlayers)
	assert.Equal(t, 2, g.WinnersCourtStreak)

	h.runJSON(nil, "--offline", "game", "record", "--winner", "challenger", "--loser", "winners_court")

	var games []entity.Game
	h.runJSON(&games, "game", "list", "--limit", "1")
	require.Len(t, games, 1)
	assert.Equal(t, "game_2", games[0].ID, "newest first")

	h.runJSON(nil, "--offline", "game", "rm", "game_1")
	h.runJSON(&games, "game", "list")
	require.Len(t, games, 1)
	assert.Equal(t, "game_2", games[0].ID)
}

func TestGameRecordRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"same team twice", []string{"--winner", "challenger", "--loser", "challenger"}},
		{"queue is not a court", []string{"--winner", "queue"}},
		{"unknown eliminated player", []string{"--eliminated", "player_7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCLIHarness(t)
			_, err := h.run(append([]string{"--offline", "game", "record"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestSyncPushesQueuedChanges(t *testing.T) {
	ts := newRemote(t)
	h := newCLIHarness(t)

	h.runJSON(nil, "--offline", "player", "add", "Ada L.")
	h.runJSON(nil, "--offline", "player", "add", "Grace")
	h.runJSON(nil, "--offline", "player", "update", "player_1", "--team", "winners_court")
	assert.Empty(t, remotePlayers(t, ts.URL))

	var report syncReport
	h.runJSON(&report, "--remote", ts.URL, "sync")
	assert.Equal(t, "synced", string(report.Result.Outcome))
	assert.Equal(t, 2, report.Result.Applied, "create and update folded together")
	assert.Equal(t, 0, report.Status.Pending)
	assert.Equal(t, "online", string(report.Status.Label))

	players := remotePlayers(t, ts.URL)
	require.Len(t, players, 2)
	byName := map[string]remote.Record{}
	for _, p := range players {
		byName[p.String("name")] = p
	}
	assert.Equal(t, "winners_court", byName["Ada L."].String("team"))
	assert.NotEqual(t, "player_1", remote.RemoteID(byName["Ada L."]), "remote assigns its own ids")
}

func TestMutationSyncsWhenOnline(t *testing.T) {
	ts := newRemote(t)
	h := newCLIHarness(t)

	h.runJSON(nil, "--remote", ts.URL, "player", "add", "Ada L.")

	require.Len(t, remotePlayers(t, ts.URL), 1)
	var st statusView
	h.runJSON(&st, "--remote", ts.URL, "status")
	assert.Equal(t, 0, st.Pending)

	h.runJSON(nil, "--remote", ts.URL, "player", "rm", "player_1")
	assert.Empty(t, remotePlayers(t, ts.URL))
}

func TestSyncFailureKeepsLog(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada L.")
	h.runJSON(nil, "--offline", "player", "add", "Grace")

	out, err := h.run("--remote", ts.URL, "--format", "json", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeSync, decodeError(t, out).Code)
	assert.Equal(t, int32(1), calls.Load(), "the pass stops at the first failure")

	var entries []oplog.Entry
	h.runJSON(&entries, "oplog")
	assert.Len(t, entries, 2)
}

func TestSyncBusyWhileAnotherProcessSyncs(t *testing.T) {
	ts := newRemote(t)
	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada L.")

	// A watch daemon on the same database file holds the sync lease.
	db, err := store.Open(h.db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	daemon := store.NewLease(db, "sync", "daemon", time.Minute)
	held, err := daemon.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	out, err := h.run("--remote", ts.URL, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Another sync is running")
	assert.Empty(t, remotePlayers(t, ts.URL))

	var entries []oplog.Entry
	h.runJSON(&entries, "oplog")
	assert.Len(t, entries, 1, "changes stay queued")

	require.NoError(t, daemon.Release(context.Background()))
	out, err = h.run("--remote", ts.URL, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "1 applied")
	assert.Len(t, remotePlayers(t, ts.URL), 1)
}

func TestStatusOffline(t *testing.T) {
	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada")

	var st statusView
	h.runJSON(&st, "--offline", "status")
	assert.False(t, st.Online)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, "offline", string(st.Label))

	out, err := h.run("--offline", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:  offline")
	assert.Contains(t, out, "Pending: 1")
}

func TestReset(t *testing.T) {
	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada")

	_, err := h.run("reset")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = h.run("reset", "--yes")
	require.NoError(t, err)

	var players []entity.Player
	h.runJSON(&players, "player", "list")
	assert.Empty(t, players)
	var entries []oplog.Entry
	h.runJSON(&entries, "oplog")
	assert.Empty(t, entries)
}

func TestWatchSyncsWhenRemoteAppears(t *testing.T) {
	ts := newRemote(t)
	h := newCLIHarness(t)
	h.runJSON(nil, "--offline", "player", "add", "Ada L.")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.runCtx(ctx, "--remote", ts.URL, "watch")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return len(remotePlayers(t, ts.URL)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	var entries []oplog.Entry
	h.runJSON(&entries, "oplog")
	assert.Empty(t, entries)
}

func TestInvalidConfig(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run("--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
