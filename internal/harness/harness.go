package harness

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/dodgesync/internal/engine"
	"github.com/roach88/dodgesync/internal/entity"
	"github.com/roach88/dodgesync/internal/idmap"
	"github.com/roach88/dodgesync/internal/local"
	"github.com/roach88/dodgesync/internal/netwatch"
	"github.com/roach88/dodgesync/internal/oplog"
	"github.com/roach88/dodgesync/internal/store"
	"github.com/roach88/dodgesync/internal/testutil"
)

// Harness is the wired sync core one scenario runs against.
type Harness struct {
	log    *oplog.Log
	ids    *idmap.Map
	local  *local.Store
	engine *engine.Engine
	signal *netwatch.Switch
	remote *RecordingService
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger routes the sync core's logs to logger. Runs are silent by
// default.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh in-memory backing. Deterministic helpers
// ensure reproducible results.
//
// Execution flow:
// 1. Wire store, log, identity map, engine and recording remote
// 2. Execute steps, checking expect clauses
// 3. Evaluate assertions
// 4. Return result with pass/fail, call trace and errors
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx := context.Background()

	h, err := newHarness(ctx, scenario.Online, cfg.logger)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Do, err)
		}
	}
	h.engine.Wait()
	result.Calls = h.remote.Calls()

	for _, errMsg := range EvaluateAssertions(ctx, h, result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(ctx context.Context, online bool, logger *zap.Logger) (*Harness, error) {
	backing := store.NewMemory()
	clock := testutil.NewManualClock()

	log, err := oplog.Open(ctx, backing, logger.Named("oplog"), oplog.WithClock(oplog.NewClock(clock.Now)))
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}
	ids := idmap.New(backing, logger.Named("idmap"))
	st := local.New(backing, log, ids, logger.Named("local"),
		local.WithIDGenerator(testutil.NewSequenceIDs()),
		local.WithNow(clock.Now))

	h := &Harness{
		log:    log,
		ids:    ids,
		local:  st,
		signal: netwatch.NewSwitch(online),
		remote: NewRecordingService(),
	}
	h.engine = engine.New(log, ids, st, h.remote, h.signal, logger.Named("engine"),
		engine.WithNow(clock.Now))
	st.OnMutation(h.engine.Request)
	return h, nil
}

// execute runs one step. Expectation mismatches are recorded in result; only
// harness failures are returned.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	switch step.Do {
	case StepGoOnline:
		h.signal.Set(true)
		return nil
	case StepGoOffline:
		h.signal.Set(false)
		return nil
	case StepFailRemote:
		h.remote.Fail(step.Count)
		return nil
	case StepHealRemote:
		h.remote.Heal()
		return nil
	case StepSync:
		h.engine.Wait()
		res, err := h.engine.SyncNow(ctx)
		rec := SyncRecord{Step: index, Result: res, Code: string(engine.CodeOf(err))}
		result.Syncs = append(result.Syncs, rec)
		checkSync(index, step.Expect, rec, err, result)
		return nil
	}

	err := h.mutate(ctx, step)
	h.engine.Wait()
	checkMutation(index, step, err, result)
	return nil
}

func (h *Harness) mutate(ctx context.Context, step Step) error {
	args := entity.Payload(step.Args)
	switch step.Do {
	case StepCreatePlayer:
		var f entity.PlayerFields
		if err := entity.FromPayload(args, &f); err != nil {
			return err
		}
		_, err := h.local.CreatePlayer(ctx, f)
		return err
	case StepUpdatePlayer:
		_, err := h.local.UpdatePlayer(ctx, step.ID, args)
		return err
	case StepDeletePlayer:
		return h.local.DeletePlayer(ctx, step.ID)
	case StepCreateGame:
		var f entity.GameFields
		if err := entity.FromPayload(args, &f); err != nil {
			return err
		}
		_, err := h.local.CreateGame(ctx, f)
		return err
	case StepUpdateGame:
		_, err := h.local.UpdateGame(ctx, step.ID, args)
		return err
	case StepDeleteGame:
		return h.local.DeleteGame(ctx, step.ID)
	}
	return fmt.Errorf("unknown step %q", step.Do)
}

func checkMutation(index int, step Step, err error, result *Result) {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	got := ""
	switch {
	case err == nil:
	case errors.Is(err, local.ErrNotFound):
		got = "not_found"
	case errors.Is(err, local.ErrInvalid):
		got = "invalid"
	default:
		got = err.Error()
	}
	if got != want {
		result.AddErrorf("steps[%d] %s: expected error %q, got %q", index, step.Do, want, got)
	}
}

func checkSync(index int, expect *ExpectClause, rec SyncRecord, err error, result *Result) {
	if expect == nil {
		return
	}
	res := rec.Result
	if expect.Outcome != "" && string(res.Outcome) != expect.Outcome {
		result.AddErrorf("steps[%d] sync: expected outcome %s, got %s (err: %v)", index, expect.Outcome, res.Outcome, err)
	}
	if expect.Applied != nil && res.Applied != *expect.Applied {
		result.AddErrorf("steps[%d] sync: expected %d applied, got %d", index, *expect.Applied, res.Applied)
	}
	if expect.Remaining != nil && res.Remaining != *expect.Remaining {
		result.AddErrorf("steps[%d] sync: expected %d remaining, got %d", index, *expect.Remaining, res.Remaining)
	}
	if expect.Code != rec.Code {
		result.AddErrorf("steps[%d] sync: expected error code %q, got %q", index, expect.Code, rec.Code)
	}
}
