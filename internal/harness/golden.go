package harness

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/offsync/internal/ir"
)

// Snapshot is the deterministic view of a scenario result stored in golden
// files. Report timing and outcome payloads are left out.
type Snapshot struct {
	Scenario string         `json:"scenario"`
	Report   ReportSnapshot `json:"report"`
	Rejected int            `json:"rejected,omitempty"`
	Actions  []ActionState  `json:"actions"`
	Records  []RecordState  `json:"records"`
}

// ReportSnapshot is a SyncReport without timing.
type ReportSnapshot struct {
	TotalActions int              `json:"total_actions"`
	Successful   int              `json:"successful"`
	Failed       int              `json:"failed"`
	Conflicts    int              `json:"conflicts"`
	Details      []OutcomeSummary `json:"details"`
}

// OutcomeSummary is one report entry without server data.
type OutcomeSummary struct {
	ActionID  string         `json:"action_id"`
	Kind      ir.OutcomeKind `json:"kind"`
	Operation string         `json:"operation,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	ErrorKind ir.ErrorKind   `json:"error_kind,omitempty"`
	Attempts  int            `json:"attempts"`
}

// ActionState is an Action Log entry after the pass.
type ActionState struct {
	ID         string        `json:"id"`
	Kind       ir.ActionKind `json:"kind"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id,omitempty"`
	Status     ir.Status     `json:"status"`
	RetryCount int           `json:"retry_count"`
}

// RecordState is a remote record after the pass.
type RecordState struct {
	EntityType   string     `json:"entity_type"`
	ID           string     `json:"id"`
	Data         ir.Payload `json:"data"`
	Version      int64      `json:"version"`
	LastModified string     `json:"last_modified"`
}

// NewSnapshot builds the golden view of result.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{
		Scenario: name,
		Report: ReportSnapshot{
			TotalActions: result.Report.TotalActions,
			Successful:   result.Report.Successful,
			Failed:       result.Report.Failed,
			Conflicts:    result.Report.Conflicts,
			Details:      make([]OutcomeSummary, 0, len(result.Report.Details)),
		},
		Rejected: result.Rejected,
		Actions:  make([]ActionState, 0, len(result.Actions)),
		Records:  make([]RecordState, 0, len(result.Records)),
	}
	for _, o := range result.Report.Details {
		s.Report.Details = append(s.Report.Details, OutcomeSummary{
			ActionID:  o.ActionID,
			Kind:      o.Kind,
			Operation: o.Operation,
			Reason:    o.Reason,
			ErrorKind: o.ErrorKind,
			Attempts:  o.Attempts,
		})
	}
	for _, a := range result.Actions {
		s.Actions = append(s.Actions, ActionState{
			ID:         a.ID,
			Kind:       a.Kind,
			EntityType: a.EntityType,
			EntityID:   a.EntityID,
			Status:     a.Status,
			RetryCount: a.RetryCount,
		})
	}
	for _, r := range result.Records {
		s.Records = append(s.Records, RecordState{
			EntityType:   r.EntityType,
			ID:           r.ID,
			Data:         r.Data,
			Version:      r.Version,
			LastModified: r.LastModified.UTC().Format(time.RFC3339Nano),
		})
	}
	return s
}

// MarshalSnapshot renders result as golden file bytes: indented JSON with a
// trailing newline.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(NewSnapshot(name, result), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)

	return nil
}
