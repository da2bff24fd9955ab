package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/braid/internal/ir"
)

// Scenario defines a multi-replica test scenario.
// Replicas run in-process; nothing moves between them unless a step says
// so, which makes arrival order part of the scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Log is the alias of the bootstrap writer. Its replica must be listed
	// in Replicas.
	Log string `yaml:"log"`

	// Replicas lists the replica aliases. Each replica writes with the
	// deterministic key of its alias.
	Replicas []string `yaml:"replicas"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state of the replicas.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one action.
type Step struct {
	Append  *AppendStep `yaml:"append,omitempty"`
	Sync    *SyncStep   `yaml:"sync,omitempty"`
	Invite  *InviteStep `yaml:"invite,omitempty"`
	Revoke  *RevokeStep `yaml:"revoke,omitempty"`
	Pair    *PairStep   `yaml:"pair,omitempty"`

	// Advance moves the scenario clock forward, e.g. "25h".
	Advance string `yaml:"advance,omitempty"`

	// Reopen closes a replica and opens it again from its store.
	Reopen string `yaml:"reopen,omitempty"`
}

// AppendStep appends one command on a replica.
type AppendStep struct {
	Replica string `yaml:"replica"`

	// Command is a canonical command name, e.g. "create-room".
	Command string `yaml:"command"`

	// Payload values of the form "@alias" are replaced by the writer key
	// of alias.
	Payload map[string]any `yaml:"payload"`

	// ExpectError is the expected error code, lowercase, e.g.
	// "not_writable". Empty means the append must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// SyncStep copies every entry From holds into To.
type SyncStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// Reverse delivers the entries in reverse order.
	Reverse bool `yaml:"reverse,omitempty"`
}

// InviteStep creates an invite on a replica and remembers its token as As.
type InviteStep struct {
	Replica   string `yaml:"replica"`
	As        string `yaml:"as"`
	MaxUses   int64  `yaml:"max_uses,omitempty"`
	ExpiresIn string `yaml:"expires_in,omitempty"`
}

// RevokeStep revokes a remembered invite.
type RevokeStep struct {
	Replica string `yaml:"replica"`
	Invite  string `yaml:"invite"`
}

// PairStep runs one pairing handshake of Candidate against Via's responder.
type PairStep struct {
	Candidate string `yaml:"candidate"`
	Via       string `yaml:"via"`
	Invite    string `yaml:"invite"`

	// Expect is "admitted" or "ignored".
	Expect string `yaml:"expect"`
}

// Pair outcomes.
const (
	PairAdmitted = "admitted"
	PairIgnored  = "ignored"
)

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "doc": document exists and contains Expect (subset match)
	// - "absent": document does not exist
	// - "writable": Writer's writability on Replica equals Writable
	// - "converged": all Replicas hold the same view
	// - "order": documents of Collection sorted by position have ids Order
	// - "skips": the last replay of Replica skipped Count entries
	Type string `yaml:"type"`

	Replica    string         `yaml:"replica,omitempty"`
	Replicas   []string       `yaml:"replicas,omitempty"`
	Collection string         `yaml:"collection,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
	Writer     string         `yaml:"writer,omitempty"`
	Writable   *bool          `yaml:"writable,omitempty"`
	Order      []string       `yaml:"order,omitempty"`
	Count      *int           `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDoc       = "doc"
	AssertAbsent    = "absent"
	AssertWritable  = "writable"
	AssertConverged = "converged"
	AssertOrder     = "order"
	AssertSkips     = "skips"
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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
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

	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Replicas))
	for _, r := range s.Replicas {
		if known[r] {
			return fmt.Errorf("replica %q listed twice", r)
		}
		known[r] = true
	}
	if !known[s.Log] {
		return fmt.Errorf("log %q must be one of the replicas", s.Log)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	invites := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(i, step, known, invites); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, known); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(i int, step Step, known, invites map[string]bool) error {
	set := 0
	for _, present := range []bool{
		step.Append != nil, step.Sync != nil, step.Invite != nil,
		step.Revoke != nil, step.Pair != nil, step.Advance != "",
		step.Reopen != "",
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}

	replica := func(name string) error {
		if !known[name] {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, name)
		}
		return nil
	}

	switch {
	case step.Append != nil:
		if err := replica(step.Append.Replica); err != nil {
			return err
		}
		if _, err := ir.ParseCommandType(step.Append.Command); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Append.Payload == nil {
			return fmt.Errorf("steps[%d]: payload is required (use empty map if no fields)", i)
		}
	case step.Sync != nil:
		if err := replica(step.Sync.From); err != nil {
			return err
		}
		if err := replica(step.Sync.To); err != nil {
			return err
		}
		if step.Sync.From == step.Sync.To {
			return fmt.Errorf("steps[%d]: sync from a replica to itself", i)
		}
	case step.Invite != nil:
		if err := replica(step.Invite.Replica); err != nil {
			return err
		}
		if step.Invite.As == "" {
			return fmt.Errorf("steps[%d]: invite needs a name (as)", i)
		}
		if step.Invite.ExpiresIn != "" {
			if _, err := time.ParseDuration(step.Invite.ExpiresIn); err != nil {
				return fmt.Errorf("steps[%d]: expires_in: %w", i, err)
			}
		}
		invites[step.Invite.As] = true
	case step.Revoke != nil:
		if err := replica(step.Revoke.Replica); err != nil {
			return err
		}
		if !invites[step.Revoke.Invite] {
			return fmt.Errorf("steps[%d]: unknown invite %q", i, step.Revoke.Invite)
		}
	case step.Pair != nil:
		if err := replica(step.Pair.Candidate); err != nil {
			return err
		}
		if err := replica(step.Pair.Via); err != nil {
			return err
		}
		if !invites[step.Pair.Invite] {
			return fmt.Errorf("steps[%d]: unknown invite %q", i, step.Pair.Invite)
		}
		if step.Pair.Expect != PairAdmitted && step.Pair.Expect != PairIgnored {
			return fmt.Errorf("steps[%d]: pair expect must be %q or %q", i, PairAdmitted, PairIgnored)
		}
	case step.Reopen != "":
		return replica(step.Reopen)
	default:
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", i, err)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type != AssertConverged && !known[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertDoc:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for doc", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for doc", index)
		}
	case AssertAbsent:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for absent", index)
		}
	case AssertWritable:
		if a.Writer == "" || a.Writable == nil {
			return fmt.Errorf("assertions[%d]: writer and writable are required for writable", index)
		}
	case AssertConverged:
		if len(a.Replicas) < 2 {
			return fmt.Errorf("assertions[%d]: at least two replicas are required for converged", index)
		}
		for _, r := range a.Replicas {
			if !known[r] {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, r)
			}
		}
	case AssertOrder:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for order", index)
		}
	case AssertSkips:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for skips", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
