package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/dodgesync/internal/entity"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Calls    []Call // Full call log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	// Full call log for context
	fmt.Fprintf(&buf, "\nRemote calls:\n")
	if len(e.Calls) == 0 {
		fmt.Fprintf(&buf, "  (none)\n")
	}
	for _, c := range e.Calls {
		fmt.Fprintf(&buf, "  [%d] %s\n", c.Seq, c)
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, h, result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, h *Harness, result *Result, a Assertion) error {
	switch a.Type {
	case AssertRemoteCalls:
		return assertRemoteCalls(result.Calls, a)
	case AssertRemoteCount:
		return assertCount(a, "remote "+string(a.Kind)+" records", len(h.remote.Records(a.Kind)), result.Calls)
	case AssertRemoteState:
		return assertRemoteState(h.remote.Records(a.Kind), a, result.Calls)
	case AssertLocalCount:
		n, err := localCount(ctx, h, a.Kind)
		if err != nil {
			return err
		}
		return assertCount(a, "local "+string(a.Kind)+" records", n, result.Calls)
	case AssertOplogLen:
		n, err := h.log.Len(ctx)
		if err != nil {
			return err
		}
		return assertCount(a, "queued entries", n, result.Calls)
	case AssertMapped, AssertUnmapped:
		remoteID, ok, err := h.ids.Get(ctx, a.Kind, a.ID)
		if err != nil {
			return err
		}
		if ok != (a.Type == AssertMapped) {
			actual := "no remote id"
			if ok {
				actual = "remote id " + remoteID
			}
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s %s", a.Kind, a.ID, a.Type),
				Actual:   actual,
				Calls:    result.Calls,
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertRemoteCalls requires the exact call sequence.
func assertRemoteCalls(calls []Call, a Assertion) error {
	got := make([]string, len(calls))
	for i, c := range calls {
		got[i] = c.String()
	}
	want := a.Calls
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", got),
			Calls:    calls,
		}
	}
	return nil
}

func assertCount(a Assertion, what string, got int, calls []Call) error {
	if got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", got, what),
			Calls:    calls,
		}
	}
	return nil
}

// assertRemoteState finds the record matching where and checks expect
// (subset match).
func assertRemoteState(records []entity.Payload, a Assertion, calls []Call) error {
	for _, rec := range records {
		if !matchFields(rec, a.Where) {
			continue
		}
		if matchFields(rec, a.Expect) {
			return nil
		}
		return &AssertionError{
			Type:     AssertRemoteState,
			Expected: fmt.Sprintf("%s where %v to have %v", a.Kind, a.Where, a.Expect),
			Actual:   fmt.Sprintf("%v", rec),
			Calls:    calls,
		}
	}
	return &AssertionError{
		Type:     AssertRemoteState,
		Expected: fmt.Sprintf("%s record where %v", a.Kind, a.Where),
		Actual:   fmt.Sprintf("no match among %d records", len(records)),
		Calls:    calls,
	}
}

// matchFields reports whether every field of want equals the field in got.
// Both sides are compared in their JSON form, so a YAML int matches the
// float64 a JSON round trip produces.
func matchFields(got entity.Payload, want map[string]any) bool {
	for k, v := range want {
		actual, ok := got[k]
		if !ok || !jsonEqual(actual, v) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var na, nb any
	if json.Unmarshal(ja, &na) != nil || json.Unmarshal(jb, &nb) != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func localCount(ctx context.Context, h *Harness, kind entity.Kind) (int, error) {
	switch kind {
	case entity.KindPlayer:
		players, err := h.local.ListPlayers(ctx, "")
		return len(players), err
	case entity.KindGame:
		games, err := h.local.ListGames(ctx, "", 0)
		return len(games), err
	}
	return 0, fmt.Errorf("unknown kind %q", kind)
}
