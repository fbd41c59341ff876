package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote/refstore"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// reportFields maps report assertion keys onto the report.
var reportFields = map[string]func(ir.SyncReport) int{
	"total_actions": func(r ir.SyncReport) int { return r.TotalActions },
	"successful":    func(r ir.SyncReport) int { return r.Successful },
	"failed":        func(r ir.SyncReport) int { return r.Failed },
	"conflicts":     func(r ir.SyncReport) int { return r.Conflicts },
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertReport:
		return assertReport(r.Report, a)
	case AssertActionStatus:
		return assertActionStatus(r, a)
	case AssertOutcome:
		return assertOutcome(r, a)
	case AssertCallOrder:
		return assertCallOrder(r.Calls, a)
	case AssertCallCount:
		return assertCallCount(r.Calls, a)
	case AssertRecord:
		return assertRecord(r.Records, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertReport(report ir.SyncReport, a Assertion) error {
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		get, ok := reportFields[k]
		if !ok {
			return fmt.Errorf("unknown report field %q", k)
		}
		if got := get(report); fmt.Sprint(got) != fmt.Sprint(a.Expect[k]) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%d (want %v)", k, got, a.Expect[k]))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertReport,
			Expected: fmt.Sprintf("%v", a.Expect),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func assertActionStatus(r *Result, a Assertion) error {
	act, ok := r.action(a.Action)
	if !ok {
		return &AssertionError{Type: AssertActionStatus, Expected: "action " + a.Action, Actual: "not in the Action Log"}
	}
	if string(act.Status) != a.Status {
		return &AssertionError{
			Type:     AssertActionStatus,
			Expected: fmt.Sprintf("%s to be %s", a.Action, a.Status),
			Actual:   string(act.Status),
		}
	}
	if a.RetryCount != nil && act.RetryCount != *a.RetryCount {
		return &AssertionError{
			Type:     AssertActionStatus,
			Expected: fmt.Sprintf("%s retry_count %d", a.Action, *a.RetryCount),
			Actual:   fmt.Sprintf("%d", act.RetryCount),
		}
	}
	return nil
}

func assertOutcome(r *Result, a Assertion) error {
	o, ok := r.outcome(a.Action)
	if !ok {
		return &AssertionError{Type: AssertOutcome, Expected: "outcome for " + a.Action, Actual: "not in the report"}
	}
	if string(o.Kind) != a.Outcome {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s to be %s", a.Action, a.Outcome),
			Actual:   fmt.Sprintf("%s (%s)", o.Kind, o.Reason),
		}
	}
	if a.Operation != "" && o.Operation != a.Operation {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s operation %s", a.Action, a.Operation),
			Actual:   o.Operation,
		}
	}
	if a.ErrorKind != "" && string(o.ErrorKind) != a.ErrorKind {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("%s error_kind %s", a.Action, a.ErrorKind),
			Actual:   string(o.ErrorKind),
		}
	}
	return nil
}

// assertCallOrder checks that each listed action first reached the remote
// after the one before it. Other calls may interleave.
func assertCallOrder(calls []string, a Assertion) error {
	first := make(map[string]int)
	for i, id := range calls {
		if _, seen := first[id]; !seen {
			first[id] = i
		}
	}

	prev := -1
	for _, id := range a.Actions {
		pos, ok := first[id]
		if !ok {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("%s to reach the remote", id),
				Actual:   fmt.Sprintf("calls %v", calls),
			}
		}
		if pos < prev {
			return &AssertionError{
				Type:     AssertCallOrder,
				Expected: fmt.Sprintf("order %v", a.Actions),
				Actual:   fmt.Sprintf("calls %v", calls),
			}
		}
		prev = pos
	}
	return nil
}

func assertCallCount(calls []string, a Assertion) error {
	n := 0
	for _, id := range calls {
		if id == a.Action {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%s sent %d times", a.Action, a.Count),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertRecord checks existence and a subset of the record's data.
func assertRecord(records []refstore.Record, a Assertion) error {
	want := a.Exists == nil || *a.Exists
	key := a.EntityType + "/" + a.ID

	var rec *refstore.Record
	for i := range records {
		if records[i].EntityType == a.EntityType && records[i].ID == a.ID {
			rec = &records[i]
			break
		}
	}

	switch {
	case rec == nil && want:
		return &AssertionError{Type: AssertRecord, Expected: key + " to exist", Actual: "missing"}
	case rec != nil && !want:
		return &AssertionError{Type: AssertRecord, Expected: key + " to be absent", Actual: "present"}
	case rec == nil:
		return nil
	}

	for k, v := range a.Expect {
		got, ok := rec.Data[k]
		if !ok {
			return &AssertionError{Type: AssertRecord, Expected: fmt.Sprintf("%s.%s = %v", key, k, v), Actual: "field missing"}
		}
		if fmt.Sprint(got) != fmt.Sprint(v) {
			return &AssertionError{Type: AssertRecord, Expected: fmt.Sprintf("%s.%s = %v", key, k, v), Actual: fmt.Sprint(got)}
		}
	}
	return nil
}
