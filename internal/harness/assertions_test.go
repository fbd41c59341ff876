package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote/refstore"
)

func sampleResult() *Result {
	r := NewResult()
	r.Report = ir.NewSyncReport(2)
	r.Report.Record(ir.Success("create", nil).For(ir.Action{ID: "act-001"}))
	r.Report.Record(ir.Conflict("stale", nil).For(ir.Action{ID: "act-002"}))
	r.Actions = []ir.Action{
		{ID: "act-001", Status: ir.StatusCompleted},
		{ID: "act-002", Status: ir.StatusFailed, RetryCount: 1},
	}
	r.Records = []refstore.Record{{
		EntityType:   "users",
		ID:           "u1",
		Data:         ir.Payload{"name": "Ada", "age": "36"},
		Version:      1,
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	r.Calls = []string{"act-001", "act-002", "act-002", "act-003"}
	return r
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"report match", Assertion{Type: AssertReport, Expect: map[string]any{"total_actions": 2, "failed": 1, "conflicts": 1}}, true},
		{"report mismatch", Assertion{Type: AssertReport, Expect: map[string]any{"successful": 2}}, false},
		{"status match", Assertion{Type: AssertActionStatus, Action: "act-002", Status: "FAILED", RetryCount: intPtr(1)}, true},
		{"status mismatch", Assertion{Type: AssertActionStatus, Action: "act-001", Status: "FAILED"}, false},
		{"retry count mismatch", Assertion{Type: AssertActionStatus, Action: "act-002", Status: "FAILED", RetryCount: intPtr(2)}, false},
		{"status unknown action", Assertion{Type: AssertActionStatus, Action: "act-009", Status: "PENDING"}, false},
		{"outcome match", Assertion{Type: AssertOutcome, Action: "act-001", Outcome: "success", Operation: "create"}, true},
		{"outcome operation mismatch", Assertion{Type: AssertOutcome, Action: "act-001", Outcome: "success", Operation: "update"}, false},
		{"outcome kind mismatch", Assertion{Type: AssertOutcome, Action: "act-002", Outcome: "success"}, false},
		{"outcome missing", Assertion{Type: AssertOutcome, Action: "act-003", Outcome: "success"}, false},
		{"order match", Assertion{Type: AssertCallOrder, Actions: []string{"act-001", "act-003"}}, true},
		{"order mismatch", Assertion{Type: AssertCallOrder, Actions: []string{"act-003", "act-001"}}, false},
		{"order missing call", Assertion{Type: AssertCallOrder, Actions: []string{"act-004"}}, false},
		{"count match", Assertion{Type: AssertCallCount, Action: "act-002", Count: 2}, true},
		{"count zero", Assertion{Type: AssertCallCount, Action: "act-009", Count: 0}, true},
		{"count mismatch", Assertion{Type: AssertCallCount, Action: "act-001", Count: 2}, false},
		{"record match", Assertion{Type: AssertRecord, EntityType: "users", ID: "u1", Expect: map[string]any{"name": "Ada"}}, true},
		{"record value mismatch", Assertion{Type: AssertRecord, EntityType: "users", ID: "u1", Expect: map[string]any{"name": "Bob"}}, false},
		{"record field missing", Assertion{Type: AssertRecord, EntityType: "users", ID: "u1", Expect: map[string]any{"email": "x"}}, false},
		{"record absent as expected", Assertion{Type: AssertRecord, EntityType: "users", ID: "u2", Exists: boolPtr(false)}, true},
		{"record unexpectedly present", Assertion{Type: AssertRecord, EntityType: "users", ID: "u1", Exists: boolPtr(false)}, false},
		{"record missing", Assertion{Type: AssertRecord, EntityType: "users", ID: "u2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluate(sampleResult(), tt.a)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				var ae *AssertionError
				assert.ErrorAs(t, err, &ae)
			}
		})
	}
}

func TestAssertionErrorMessage(t *testing.T) {
	err := &AssertionError{Type: AssertCallCount, Expected: "act-001 sent 2 times", Actual: "1"}
	assert.Equal(t, "call_count: expected act-001 sent 2 times, got 1", err.Error())
}
