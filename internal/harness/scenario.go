package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dodgesync/internal/entity"
)

// Scenario defines a sync scenario: local mutations, connectivity changes
// and remote failures, followed by assertions on what reached the remote.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity.
	Online bool `yaml:"online"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final remote, log and identity state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of a scenario.
type Step struct {
	// Do names the step. See the Step constants.
	Do string `yaml:"do"`

	// ID is the local id targeted by update and delete steps.
	ID string `yaml:"id,omitempty"`

	// Args are the fields for create and update steps.
	Args map[string]any `yaml:"args,omitempty"`

	// Count is the number of calls fail_remote fails; 0 means until healed.
	Count int `yaml:"count,omitempty"`

	// Expect checks the step outcome. If nil, mutations must succeed and
	// sync results are not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected mutation failure: "not_found" or "invalid".
	Error string `yaml:"error,omitempty"`

	// Outcome, Applied, Remaining and Code check a sync step.
	Outcome   string `yaml:"outcome,omitempty"`
	Applied   *int   `yaml:"applied,omitempty"`
	Remaining *int   `yaml:"remaining,omitempty"`
	Code      string `yaml:"code,omitempty"`
}

// Step names.
const (
	StepCreatePlayer = "create_player"
	StepUpdatePlayer = "update_player"
	StepDeletePlayer = "delete_player"
	StepCreateGame   = "create_game"
	StepUpdateGame   = "update_game"
	StepDeleteGame   = "delete_game"
	StepGoOnline     = "go_online"
	StepGoOffline    = "go_offline"
	StepFailRemote   = "fail_remote"
	StepHealRemote   = "heal_remote"
	StepSync         = "sync"
)

// Assertion validates the state after the last step.
type Assertion struct {
	// Type specifies the assertion type. See the Assert constants.
	Type string `yaml:"type"`

	// Kind is the entity kind (remote_count, remote_state, local_count,
	// mapped, unmapped).
	Kind entity.Kind `yaml:"kind,omitempty"`

	// ID is the local id (mapped, unmapped).
	ID string `yaml:"id,omitempty"`

	// Where selects the remote record (remote_state). All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (remote_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (remote_count, local_count, oplog_len).
	Count int `yaml:"count,omitempty"`

	// Calls is the expected remote call sequence (remote_calls), in
	// Call.String form.
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertRemoteCalls = "remote_calls"
	AssertRemoteCount = "remote_count"
	AssertRemoteState = "remote_state"
	AssertLocalCount  = "local_count"
	AssertOplogLen    = "oplog_len"
	AssertMapped      = "mapped"
	AssertUnmapped    = "unmapped"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on what it does.
func validateStep(index int, st *Step) error {
	switch st.Do {
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	case StepCreatePlayer, StepCreateGame:
		if st.Args == nil {
			return fmt.Errorf("steps[%d]: args is required for %s (use empty map if no args)", index, st.Do)
		}
	case StepUpdatePlayer, StepUpdateGame:
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", index, st.Do)
		}
		if len(st.Args) == 0 {
			return fmt.Errorf("steps[%d]: args is required for %s", index, st.Do)
		}
	case StepDeletePlayer, StepDeleteGame:
		if st.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", index, st.Do)
		}
	case StepFailRemote:
		if st.Count < 0 {
			return fmt.Errorf("steps[%d]: count must be non-negative for fail_remote", index)
		}
	case StepGoOnline, StepGoOffline, StepHealRemote, StepSync:
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, st.Do)
	}

	if st.Expect != nil {
		switch st.Expect.Error {
		case "", "not_found", "invalid":
		default:
			return fmt.Errorf("steps[%d].expect: unknown error %q", index, st.Expect.Error)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRemoteCalls:
		// An empty list asserts that nothing reached the remote.
	case AssertRemoteCount, AssertLocalCount:
		if !a.Kind.Valid() {
			return fmt.Errorf("assertions[%d]: kind is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRemoteState:
		if !a.Kind.Valid() {
			return fmt.Errorf("assertions[%d]: kind is required for remote_state", index)
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for remote_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for remote_state", index)
		}
	case AssertOplogLen:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for oplog_len", index)
		}
	case AssertMapped, AssertUnmapped:
		if !a.Kind.Valid() || a.ID == "" {
			return fmt.Errorf("assertions[%d]: kind and id are required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
