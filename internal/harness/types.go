package harness

import (
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote/refstore"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion and enqueue expectation held.
	Pass bool

	// Errors contains assertion failure messages.
	Errors []string

	// Report is the sync pass report.
	Report ir.SyncReport

	// Actions is the Action Log after the pass, in enqueue order.
	Actions []ir.Action

	// Records is the remote after the pass.
	Records []refstore.Record

	// Calls lists action ids in the order they reached the remote, one entry
	// per attempt.
	Calls []string

	// Rejected counts enqueue attempts that failed as expected.
	Rejected int
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Errors:  []string{},
		Report:  ir.NewSyncReport(0),
		Actions: []ir.Action{},
		Records: []refstore.Record{},
		Calls:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// outcome returns the report entry for an action.
func (r *Result) outcome(actionID string) (ir.Outcome, bool) {
	for _, o := range r.Report.Details {
		if o.ActionID == actionID {
			return o, true
		}
	}
	return ir.Outcome{}, false
}

// action returns the final Action Log entry for an id.
func (r *Result) action(id string) (ir.Action, bool) {
	for _, a := range r.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return ir.Action{}, false
}
