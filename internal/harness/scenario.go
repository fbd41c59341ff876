package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/ir"
)

// Scenario defines one sync scenario: remote state, queued actions, a sync
// pass, and assertions over what happened.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is optional CUE source with entity payload schemas.
	Schema string `yaml:"schema,omitempty"`

	// Seed records exist on the remote before the pass.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Actions are enqueued in order. They get ids act-001, act-002, ...
	// Actions rejected at enqueue do not consume an id.
	Actions []ActionStep `yaml:"actions"`

	// Faults make the remote fail chosen actions before it answers them.
	Faults []Fault `yaml:"faults,omitempty"`

	// Retry overrides the client's retry budget.
	Retry *RetryStep `yaml:"retry,omitempty"`

	// Sync holds the pass options.
	Sync SyncStep `yaml:"sync,omitempty"`

	// Assertions validate the report, the Action Log and the remote.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a remote record present before the pass.
type SeedRecord struct {
	EntityType   string         `yaml:"entity_type"`
	ID           string         `yaml:"id"`
	Data         map[string]any `yaml:"data"`
	LastModified time.Time      `yaml:"last_modified"`
}

// ActionStep enqueues one action.
type ActionStep struct {
	Kind          string         `yaml:"kind"`
	EntityType    string         `yaml:"entity_type"`
	EntityID      string         `yaml:"entity_id,omitempty"`
	Payload       map[string]any `yaml:"payload,omitempty"`
	Policy        string         `yaml:"policy,omitempty"`
	ClientVersion *int64         `yaml:"client_version,omitempty"`

	// CreatedAt pins the action's timestamp. Without it actions are one
	// second apart, starting at 2024-01-01T00:00:00Z.
	CreatedAt *time.Time `yaml:"created_at,omitempty"`

	// ExpectError is the error code enqueue must fail with, e.g. VALIDATION.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Fault fails the first Attempts sends of Action.
type Fault struct {
	Action    string `yaml:"action"`
	Attempts  int    `yaml:"attempts"`
	ErrorKind string `yaml:"error_kind,omitempty"`
	Message   string `yaml:"message,omitempty"`
}

// RetryStep overrides the retry budget. Backoff never sleeps in scenarios.
type RetryStep struct {
	MaxRetries int `yaml:"max_retries"`
}

// SyncStep mirrors engine.SyncOptions.
type SyncStep struct {
	ConflictResolution string `yaml:"conflict_resolution,omitempty"`
	BatchSize          int    `yaml:"batch_size,omitempty"`
	RespectEntityOrder *bool  `yaml:"respect_entity_order,omitempty"`
}

// Assertion validates one fact about the finished scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "report": report counters equal Expect (total_actions, successful, failed, conflicts)
	// - "action_status": Action ends in Status (and RetryCount when set)
	// - "outcome": Action's outcome is Outcome (and Operation / ErrorKind when set)
	// - "call_order": Actions reached the remote in this relative order
	// - "call_count": Action was sent Count times
	// - "record": the remote record EntityType/ID exists (or not) and its data contains Expect
	Type string `yaml:"type"`

	Action  string   `yaml:"action,omitempty"`
	Actions []string `yaml:"actions,omitempty"`

	Status     string `yaml:"status,omitempty"`
	RetryCount *int   `yaml:"retry_count,omitempty"`

	Outcome   string `yaml:"outcome,omitempty"`
	Operation string `yaml:"operation,omitempty"`
	ErrorKind string `yaml:"error_kind,omitempty"`

	Count int `yaml:"count,omitempty"`

	EntityType string `yaml:"entity_type,omitempty"`
	ID         string `yaml:"id,omitempty"`
	Exists     *bool  `yaml:"exists,omitempty"`

	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertReport       = "report"
	AssertActionStatus = "action_status"
	AssertOutcome      = "outcome"
	AssertCallOrder    = "call_order"
	AssertCallCount    = "call_count"
	AssertRecord       = "record"
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

// ParseScenario parses scenario YAML.
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

	if len(s.Actions) == 0 {
		return fmt.Errorf("actions list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Seed {
		if r.EntityType == "" || r.ID == "" {
			return fmt.Errorf("seed[%d]: entity_type and id are required", i)
		}
	}

	for i, a := range s.Actions {
		if _, err := ir.ParseActionKind(a.Kind); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
		if _, err := ir.ParseConflictPolicy(a.Policy); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}

	for i, f := range s.Faults {
		if f.Action == "" {
			return fmt.Errorf("faults[%d]: action is required", i)
		}
		if f.Attempts < 1 {
			return fmt.Errorf("faults[%d]: attempts must be >= 1", i)
		}
		switch ir.ErrorKind(f.ErrorKind) {
		case ir.ErrorKindNone, ir.ErrorKindRetryable, ir.ErrorKindTerminal:
		default:
			return fmt.Errorf("faults[%d]: unknown error_kind %q", i, f.ErrorKind)
		}
	}

	if s.Retry != nil && s.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be non-negative")
	}

	if _, err := ir.ParseConflictPolicy(s.Sync.ConflictResolution); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if s.Sync.BatchSize < 0 {
		return fmt.Errorf("sync.batch_size must be non-negative")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
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
	case AssertReport:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for report", index)
		}
		for k := range a.Expect {
			if _, ok := reportFields[k]; !ok {
				return fmt.Errorf("assertions[%d]: unknown report field %q", index, k)
			}
		}
	case AssertActionStatus:
		if a.Action == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: action and status are required for action_status", index)
		}
		if !ir.Status(a.Status).Valid() {
			return fmt.Errorf("assertions[%d]: unknown status %q", index, a.Status)
		}
	case AssertOutcome:
		if a.Action == "" || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: action and outcome are required for outcome", index)
		}
	case AssertCallOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for call_order", index)
		}
	case AssertCallCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertRecord:
		if a.EntityType == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity_type and id are required for record", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
