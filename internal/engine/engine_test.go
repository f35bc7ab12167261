package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/idmap"
	"github.com/roach88/dodgesync/internal/local"
	"github.com/roach88/dodgesync/internal/netwatch"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/remote"
	"github.com/roach88/dodgesync/internal/store"
	"github.com/roach88/dodgesync/internal/testutil"
)

const timeout = 3 * time.Second

var errRemote = errors.New("remote unavailable")

// collectionStub mocks remote.Collection.
type collectionStub struct {
	mock.Mock
}

func (stub *collectionStub) Create(ctx context.Context, payload entity.Payload) (remote.Record, error) {
	args := stub.Called(ctx, payload)
	rec, _ := args.Get(0).(remote.Record)
	return rec, args.Error(1)
}

func (stub *collectionStub) Update(ctx context.Context, remoteID string, patch entity.Payload) (remote.Record, error) {
	args := stub.Called(ctx, remoteID, patch)
	rec, _ := args.Get(0).(remote.Record)
	return rec, args.Error(1)
}

func (stub *collectionStub) Delete(ctx context.Context, remoteID string) error {
	args := stub.Called(ctx, remoteID)
	return args.Error(0)
}

// serviceStub hands out one collection per kind.
type serviceStub map[entity.Kind]remote.Collection

func (s serviceStub) Collection(kind entity.Kind) remote.Collection {
	return s[kind]
}

func named(name string) interface{} {
	return mock.MatchedBy(func(p entity.Payload) bool { return p.String("name") == name })
}

// engineSuite tests Engine against a real log, identity map and local store
// with stubbed remote collections.
type engineSuite struct {
	suite.Suite
	ctx     context.Context
	backing *store.Memory
	log     *oplog.Log
	ids     *idmap.Map
	store   *local.Store
	online  *netwatch.Switch
	players *collectionStub
	games   *collectionStub
	engine  *Engine
}

func (s *engineSuite) SetupTest() {
	s.ctx = context.Background()
	logger := zap.New(zapcore.NewNopCore())
	s.backing = store.NewMemory()

	log, err := oplog.Open(s.ctx, s.backing, logger)
	s.Require().NoError(err)
	s.log = log
	s.ids = idmap.New(s.backing, logger)
	s.store = local.New(s.backing, s.log, s.ids, logger,
		local.WithIDGenerator(testutil.NewSequenceIDs()),
		local.WithNow(testutil.NewManualClock().Now))
	s.online = netwatch.NewSwitch(false)
	s.players = &collectionStub{}
	s.games = &collectionStub{}
	s.newEngine()
}

func (s *engineSuite) newEngine(opts ...Option) {
	s.engine = New(s.log, s.ids, s.store,
		serviceStub{entity.KindPlayer: s.players, entity.KindGame: s.games},
		s.online, zap.New(zapcore.NewNopCore()), opts...)
}

func (s *engineSuite) pending() []oplog.Entry {
	entries, err := s.log.Entries(s.ctx)
	s.Require().NoError(err)
	return entries
}

func (s *engineSuite) remoteID(kind entity.Kind, localID string) string {
	id, _, err := s.ids.Get(s.ctx, kind, localID)
	s.Require().NoError(err)
	return id
}

func (s *engineSuite) addPlayer(name string) entity.Player {
	p, err := s.store.CreatePlayer(s.ctx, entity.PlayerFields{Name: name})
	s.Require().NoError(err)
	return p
}

// synced marks p as mirrored under remoteID and drops its log entries.
func (s *engineSuite) synced(kind entity.Kind, localID, remoteID string) {
	s.Require().NoError(s.ids.Set(s.ctx, kind, localID, remoteID))
	s.Require().NoError(s.log.Clear(s.ctx))
}

func (s *engineSuite) ops() []string {
	var out []string
	for _, e := range s.pending() {
		out = append(out, string(e.Op)+" "+e.ID)
	}
	return out
}

// TestCreateOfflineThenOnline covers the basic round trip.
func (s *engineSuite) TestCreateOfflineThenOnline() {
	a := s.addPlayer("Ada")
	s.Len(s.pending(), 1)

	res, err := s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeOffline, res.Outcome, "offline is a no-op")
	s.Len(s.pending(), 1)

	s.players.On("Create", mock.Anything, named("Ada")).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	res, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Equal(OutcomeSynced, res.Outcome)
	s.Equal(1, res.Applied)
	s.Empty(s.pending())
	s.Equal("r-ada", s.remoteID(entity.KindPlayer, a.ID))
}

// TestCreateThenUpdateMakesOneCall assures compaction merges the update.
func (s *engineSuite) TestCreateThenUpdateMakesOneCall() {
	a := s.addPlayer("Ada")
	_, err := s.store.UpdatePlayer(s.ctx, a.ID, entity.Payload{"name": "Ada L."})
	s.Require().NoError(err)
	s.Len(s.pending(), 2)

	s.players.On("Create", mock.Anything, named("Ada L.")).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.players.AssertNumberOfCalls(s.T(), "Create", 1)
	s.Empty(s.pending())
}

// TestCreateThenDeleteMakesNoCalls assures a create+delete pair vanishes.
func (s *engineSuite) TestCreateThenDeleteMakesNoCalls() {
	a := s.addPlayer("Ada")
	s.Require().NoError(s.store.DeletePlayer(s.ctx, a.ID))

	s.online.Set(true)
	res, err := s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, res.Applied)
	s.Empty(s.pending())
	s.players.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
	s.players.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)
}

// TestFailedUpdateKeepsLaterDelete assures nothing after a failure is
// applied and order is preserved.
func (s *engineSuite) TestFailedUpdateKeepsLaterDelete() {
	b := s.addPlayer("Bea")
	c := s.addPlayer("Cy")
	s.Require().NoError(s.ids.Set(s.ctx, entity.KindPlayer, c.ID, "r-cy"))
	s.synced(entity.KindPlayer, b.ID, "r-bea")

	_, err := s.store.UpdatePlayer(s.ctx, b.ID, entity.Payload{"team": "challenger"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.DeletePlayer(s.ctx, c.ID))

	s.players.On("Update", mock.Anything, "r-bea", entity.Payload{"team": "challenger"}).
		Return(nil, errRemote).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	res, err := s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	s.Equal(OutcomeFailed, res.Outcome)
	s.True(IsRemoteFailure(err))
	s.ErrorIs(err, errRemote)

	var se *SyncError
	s.Require().ErrorAs(err, &se)
	s.Equal(b.ID, se.LocalID)
	s.Equal(oplog.OpUpdate, se.Op)

	s.Equal([]string{"update " + b.ID, "delete " + c.ID}, s.ops())
	s.players.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)
}

// TestFailureAtKPreservesSuffix assures entries 1..k-1 go and k..n stay.
func (s *engineSuite) TestFailureAtKPreservesSuffix() {
	p1 := s.addPlayer("P1")
	p2 := s.addPlayer("P2")
	p3 := s.addPlayer("P3")
	p4 := s.addPlayer("P4")

	s.players.On("Create", mock.Anything, named("P1")).Return(remote.Record{"id": "r-1"}, nil).Once()
	s.players.On("Create", mock.Anything, named("P2")).Return(nil, errRemote).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	res, err := s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	s.Equal(1, res.Applied)
	s.Equal(3, res.Remaining)

	s.Equal([]string{"create " + p2.ID, "create " + p3.ID, "create " + p4.ID}, s.ops())
	s.Equal("r-1", s.remoteID(entity.KindPlayer, p1.ID))
	s.Empty(s.remoteID(entity.KindPlayer, p2.ID))
}

// TestUnmappedUpdateRecoversAsCreate assures the full current record is
// created remotely.
func (s *engineSuite) TestUnmappedUpdateRecoversAsCreate() {
	a := s.addPlayer("Ada")
	s.Require().NoError(s.log.Clear(s.ctx))
	_, err := s.store.UpdatePlayer(s.ctx, a.ID, entity.Payload{"queue_position": 7})
	s.Require().NoError(err)

	full := mock.MatchedBy(func(p entity.Payload) bool {
		return p.String("id") == a.ID && p.String("name") == "Ada" && p["queue_position"] == float64(7)
	})
	s.players.On("Create", mock.Anything, full).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Empty(s.pending())
	s.Equal("r-ada", s.remoteID(entity.KindPlayer, a.ID))
	s.players.AssertNotCalled(s.T(), "Update", mock.Anything, mock.Anything, mock.Anything)
}

// TestUnmappedUpdateOfGoneRecordIsSkipped assures no call when the local
// record no longer exists.
func (s *engineSuite) TestUnmappedUpdateOfGoneRecordIsSkipped() {
	a := s.addPlayer("Ada")
	s.Require().NoError(s.log.Clear(s.ctx))
	_, err := s.store.UpdatePlayer(s.ctx, a.ID, entity.Payload{"name": "Ada L."})
	s.Require().NoError(err)
	s.Require().NoError(s.backing.Set(s.ctx, local.PlayersKey, "[]"))

	s.online.Set(true)
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Empty(s.pending())
	s.players.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
}

// TestUnmappedDeleteIsSkipped assures zero remote calls and an empty log.
func (s *engineSuite) TestUnmappedDeleteIsSkipped() {
	a := s.addPlayer("Ada")
	s.Require().NoError(s.log.Clear(s.ctx))
	s.Require().NoError(s.store.DeletePlayer(s.ctx, a.ID))

	s.online.Set(true)
	res, err := s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Applied)
	s.Empty(s.pending())
	s.players.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)
}

// TestMappedDelete assures the remote id is used.
func (s *engineSuite) TestMappedDelete() {
	a := s.addPlayer("Ada")
	s.synced(entity.KindPlayer, a.ID, "r-ada")
	s.Require().NoError(s.store.DeletePlayer(s.ctx, a.ID))

	s.players.On("Delete", mock.Anything, "r-ada").Return(nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	_, err := s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Empty(s.pending())
}

// TestMissingRemoteID assures a create without an id is a failure.
func (s *engineSuite) TestMissingRemoteID() {
	a := s.addPlayer("Ada")

	s.players.On("Create", mock.Anything, mock.Anything).Return(remote.Record{"name": "Ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	_, err := s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	s.Equal(CodeMissingRemoteID, CodeOf(err))
	s.Len(s.pending(), 1)
	s.Empty(s.remoteID(entity.KindPlayer, a.ID))
}

// TestUnknownEntity assures an entry with no handler stops the pass.
func (s *engineSuite) TestUnknownEntity() {
	_, err := s.log.Append(s.ctx, entity.Kind("Court"), oplog.OpCreate, "court_1", entity.Payload{"n": 1})
	s.Require().NoError(err)
	s.addPlayer("Ada")

	s.online.Set(true)
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	s.Equal(CodeUnknownEntity, CodeOf(err))
	s.Len(s.pending(), 2)
	s.players.AssertNotCalled(s.T(), "Create", mock.Anything, mock.Anything)
}

// TestGameUpdatePath assures the reserved game update reaches the remote.
func (s *engineSuite) TestGameUpdatePath() {
	g, err := s.store.CreateGame(s.ctx, entity.GameFields{WinningTeam: "winners_court", WinnersCourtStreak: 1})
	s.Require().NoError(err)
	s.synced(entity.KindGame, g.ID, "r-game")
	_, err = s.store.UpdateGame(s.ctx, g.ID, entity.Payload{"winners_court_streak": 2})
	s.Require().NoError(err)

	s.games.On("Update", mock.Anything, "r-game", entity.Payload{"winners_court_streak": float64(2)}).
		Return(remote.Record{"id": "r-game"}, nil).Once()
	defer s.games.AssertExpectations(s.T())

	s.online.Set(true)
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	s.Empty(s.pending())
}

// TestRemoteCallTimeout assures a hung call is bounded and preserved.
func (s *engineSuite) TestRemoteCallTimeout() {
	s.newEngine(WithTimeout(20 * time.Millisecond))
	s.addPlayer("Ada")

	s.players.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	start := time.Now()
	_, err := s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	s.True(time.Since(start) < timeout, "timeout must bound the call")
	s.True(IsRemoteFailure(err))
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Len(s.pending(), 1)
}

// TestSingleFlightWithRerun assures a trigger during a pass queues exactly
// one rerun and mutations made mid-pass are synced by it.
func (s *engineSuite) TestSingleFlightWithRerun() {
	s.addPlayer("Ada")
	s.store.OnMutation(s.engine.Request)

	var inflight, maxInflight atomic.Int32
	track := func() {
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
	}
	entered := make(chan struct{})
	release := make(chan struct{})

	s.players.On("Create", mock.Anything, named("Ada")).
		Run(func(mock.Arguments) {
			track()
			close(entered)
			<-release
			inflight.Add(-1)
		}).
		Return(remote.Record{"id": "r-ada"}, nil).Once()
	s.players.On("Create", mock.Anything, named("Bea")).
		Run(func(mock.Arguments) {
			track()
			inflight.Add(-1)
		}).
		Return(remote.Record{"id": "r-bea"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	s.online.Set(true)
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.engine.SyncNow(s.ctx)
		done <- outcome{res, err}
	}()

	select {
	case <-entered:
	case <-time.After(timeout):
		s.FailNow("first pass never reached the remote")
	}

	s.True(s.engine.IsSyncing())
	for i := 0; i < 3; i++ {
		res, err := s.engine.SyncNow(s.ctx)
		s.Require().NoError(err)
		s.Equal(OutcomeBusy, res.Outcome, "busy trigger returns at once")
	}
	bea := s.addPlayer("Bea")
	s.Equal(SyncingPendingRerun, s.engine.State())

	close(release)
	var got outcome
	select {
	case got = <-done:
	case <-time.After(timeout):
		s.FailNow("sync did not finish")
	}
	s.engine.Wait()

	s.Require().NoError(got.err)
	s.Equal(2, got.res.Passes, "triggers coalesce into one rerun")
	s.Equal(2, got.res.Applied)
	s.Equal(int32(1), maxInflight.Load())
	s.Empty(s.pending())
	s.Equal("r-bea", s.remoteID(entity.KindPlayer, bea.ID))
	s.Equal(Idle, s.engine.State())
}

// TestRequestAndWait assures mutation listeners drive background syncs.
func (s *engineSuite) TestRequestAndWait() {
	s.online.Set(true)
	s.store.OnMutation(s.engine.Request)

	s.players.On("Create", mock.Anything, named("Ada")).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	a := s.addPlayer("Ada")
	s.engine.Wait()

	s.Empty(s.pending())
	s.Equal("r-ada", s.remoteID(entity.KindPlayer, a.ID))
}

// TestStatusLabels assures indicator precedence.
func (s *engineSuite) TestStatusLabels() {
	st, err := s.engine.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(LabelOffline, st.Label)

	s.addPlayer("Ada")
	st, err = s.engine.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(LabelOffline, st.Label, "offline wins over dirty")
	s.Equal(1, st.Pending)

	s.online.Set(true)
	st, err = s.engine.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(LabelDirty, st.Label)

	s.players.On("Create", mock.Anything, mock.Anything).Return(nil, errRemote).Once()
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().Error(err)
	st, err = s.engine.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(LabelDirty, st.Label)
	s.Contains(st.LastError, "REMOTE_FAILURE")
	s.Nil(st.LastSync)

	s.players.On("Create", mock.Anything, mock.Anything).Return(remote.Record{"id": "r-ada"}, nil).Once()
	_, err = s.engine.SyncNow(s.ctx)
	s.Require().NoError(err)
	st, err = s.engine.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(LabelOnline, st.Label)
	s.Empty(st.LastError)
	s.NotNil(st.LastSync)
	s.Equal(Idle, st.State)
}

// TestRunSyncsOnOnlineTransition assures the run loop reacts to the signal.
func (s *engineSuite) TestRunSyncsOnOnlineTransition() {
	a := s.addPlayer("Ada")
	s.players.On("Create", mock.Anything, named("Ada")).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx, s.online.Transitions()) }()

	s.online.Set(true)
	s.Eventually(func() bool {
		return s.remoteID(entity.KindPlayer, a.ID) == "r-ada"
	}, timeout, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
}

// TestRunRetriesDirtyLog assures the retry ticker drains a failed log.
func (s *engineSuite) TestRunRetriesDirtyLog() {
	s.newEngine(WithRetryInterval(10 * time.Millisecond))
	a := s.addPlayer("Ada")
	s.online.Set(true)

	s.players.On("Create", mock.Anything, mock.Anything).Return(nil, errRemote).Once()
	s.players.On("Create", mock.Anything, mock.Anything).Return(remote.Record{"id": "r-ada"}, nil).Once()
	defer s.players.AssertExpectations(s.T())

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(ctx, nil) }()

	s.Eventually(func() bool {
		return s.remoteID(entity.KindPlayer, a.ID) == "r-ada"
	}, timeout, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
	s.Empty(s.pending())
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(engineSuite))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "syncing", Syncing.String())
	assert.Equal(t, "syncing_pending_rerun", SyncingPendingRerun.String())
	assert.Equal(t, "state(9)", State(9).String())

	var st State
	require.NoError(t, st.UnmarshalText([]byte("syncing_pending_rerun")))
	assert.Equal(t, SyncingPendingRerun, st)
	assert.Error(t, st.UnmarshalText([]byte("napping")))
}

func TestSyncErrorMessage(t *testing.T) {
	err := &SyncError{Code: CodeRemoteFailure, Kind: entity.KindPlayer, Op: oplog.OpCreate, LocalID: "player_1", Err: errRemote}

	assert.Equal(t, "REMOTE_FAILURE: create Player player_1: remote unavailable", err.Error())
	assert.ErrorIs(t, err, errRemote)
	assert.Equal(t, CodeRemoteFailure, CodeOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ErrorCode(""), CodeOf(errRemote))
}
