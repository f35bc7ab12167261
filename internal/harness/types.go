package harness

import (
	"fmt"

	"github.com/roach88/dodgesync/internal/engine"
)

// Call is one request that reached the recording remote.
type Call struct {
	Seq      int      `json:"seq"`
	Method   string   `json:"method"` // "create", "update" or "delete"
	Kind     string   `json:"kind"`
	RemoteID string   `json:"remote_id,omitempty"`
	Fields   []string `json:"fields,omitempty"` // sorted payload keys
	Failed   bool     `json:"failed,omitempty"`
}

// String renders the call the way remote_calls assertions spell it:
// "create Player", "update Player r-1", "delete Game r-2 failed".
func (c Call) String() string {
	s := c.Method + " " + c.Kind
	if c.RemoteID != "" {
		s += " " + c.RemoteID
	}
	if c.Failed {
		s += " failed"
	}
	return s
}

// SyncRecord is the result of one sync step.
type SyncRecord struct {
	Step   int           `json:"step"`
	Result engine.Result `json:"result"`
	Code   string        `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Calls contains every remote call in order, failed ones included.
	Calls []Call `json:"calls"`

	// Syncs contains the result of every sync step.
	Syncs []SyncRecord `json:"syncs"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Calls:  []Call{},
		Syncs:  []SyncRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddErrorf is AddError with formatting.
func (r *Result) AddErrorf(format string, args ...any) {
	r.AddError(fmt.Sprintf(format, args...))
}
