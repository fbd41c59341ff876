package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/remote/refstore"
	"github.com/roach88/offsync/internal/schema"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

// Harness wires one scenario's Action Log, remote and engine.
type Harness struct {
	store  *store.Store
	remote *refstore.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	calls  *callLog
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory databases. Action ids, enqueue
// timestamps and report timing are deterministic.
//
// Execution flow:
// 1. Open the Action Log and the reference remote
// 2. Seed remote records
// 3. Enqueue actions
// 4. Run one sync pass
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine and client logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(scenario, logger)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, err
	}
	if err := h.enqueue(ctx, scenario.Actions, result); err != nil {
		return nil, err
	}

	report, err := h.engine.Sync(ctx, syncOptions(scenario.Sync))
	if err != nil {
		return nil, fmt.Errorf("sync pass: %w", err)
	}
	result.Report = report
	result.Calls = h.calls.snapshot()

	if result.Actions, err = h.store.All(ctx); err != nil {
		return nil, err
	}
	if result.Records, err = h.remote.All(ctx); err != nil {
		return nil, err
	}

	for i, a := range scenario.Assertions {
		if err := evaluate(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func newHarness(scenario *Scenario, logger *slog.Logger) (*Harness, error) {
	clock := testutil.NewManualClock(testutil.Epoch, 0)

	storeOpts := []store.Option{
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequentialIDs("act")),
	}
	if scenario.Schema != "" {
		schemas, err := schema.Compile(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("compile schema: %w", err)
		}
		storeOpts = append(storeOpts, store.WithPayloadValidator(schemas))
	}

	st, err := store.Open(":memory:", storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	rs, err := refstore.Open(":memory:")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create in-memory remote: %w", err)
	}

	calls := &callLog{}
	transport := &faultTransport{
		next:   rs.Transport(),
		calls:  calls,
		faults: indexFaults(scenario.Faults),
	}

	policy := remote.DefaultRetryPolicy()
	if scenario.Retry != nil {
		policy.MaxRetries = scenario.Retry.MaxRetries
	}
	client := remote.NewClient(transport,
		remote.WithRetryPolicy(policy),
		remote.WithLogger(logger),
		remote.WithSleep(func(context.Context, time.Duration) error { return nil }),
		remote.WithRandom(func() float64 { return 0 }),
	)

	eng := engine.New(st, client,
		engine.WithLogger(logger),
		engine.WithClock(testutil.NewManualClock(testutil.Epoch, 0).Now),
	)

	return &Harness{
		store:  st,
		remote: rs,
		engine: eng,
		clock:  clock,
		calls:  calls,
		logger: logger,
	}, nil
}

func (h *Harness) close() {
	h.store.Close()
	h.remote.Close()
}

func (h *Harness) seed(ctx context.Context, records []SeedRecord) error {
	for _, r := range records {
		if err := h.remote.Seed(ctx, r.EntityType, r.ID, ir.Payload(r.Data), r.LastModified); err != nil {
			return err
		}
	}
	return nil
}

// enqueue appends the scenario's actions. Without created_at, actions are
// one second apart starting at the Epoch.
func (h *Harness) enqueue(ctx context.Context, steps []ActionStep, result *Result) error {
	next := testutil.Epoch
	for i, step := range steps {
		at := next
		if step.CreatedAt != nil {
			at = *step.CreatedAt
		}
		h.clock.Set(at)
		next = at.Add(time.Second)

		kind, _ := ir.ParseActionKind(step.Kind)
		policy, _ := ir.ParseConflictPolicy(step.Policy)
		draft := ir.Draft{
			Kind:           kind,
			EntityType:     step.EntityType,
			EntityID:       step.EntityID,
			ConflictPolicy: policy,
			ClientVersion:  step.ClientVersion,
		}
		if step.Payload != nil {
			draft.Payload = ir.Payload(step.Payload)
		}

		id, err := h.store.Enqueue(ctx, draft)
		switch {
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("actions[%d]: expected %s error, enqueued as %s", i, step.ExpectError, id))
		case step.ExpectError != "" && string(ir.CodeOf(err)) != step.ExpectError:
			result.AddError(fmt.Sprintf("actions[%d]: expected %s error, got %v", i, step.ExpectError, err))
		case step.ExpectError != "":
			result.Rejected++
		case ir.IsValidation(err):
			result.AddError(fmt.Sprintf("actions[%d]: enqueue rejected: %v", i, err))
		case err != nil:
			return fmt.Errorf("actions[%d]: %w", i, err)
		default:
			h.logger.Debug("action enqueued", "action_id", id, "kind", kind, "entity_type", step.EntityType)
		}
	}
	return nil
}

func syncOptions(s SyncStep) engine.SyncOptions {
	policy, _ := ir.ParseConflictPolicy(s.ConflictResolution)
	return engine.SyncOptions{
		ConflictResolution: policy,
		BatchSize:          s.BatchSize,
		RespectEntityOrder: s.RespectEntityOrder,
	}
}

// callLog records action ids as they reach the remote.
type callLog struct {
	mu  sync.Mutex
	ids []string
}

func (c *callLog) add(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	n := 0
	for _, v := range c.ids {
		if v == id {
			n++
		}
	}
	return n
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.ids...)
}

// faultTransport fails an action's first attempts before passing requests
// on to the reference remote.
type faultTransport struct {
	next   remote.Transport
	calls  *callLog
	faults map[string]Fault
}

func indexFaults(faults []Fault) map[string]Fault {
	m := make(map[string]Fault, len(faults))
	for _, f := range faults {
		m[f.Action] = f
	}
	return m
}

func (t *faultTransport) Send(ctx context.Context, req remote.Request) (remote.Response, error) {
	attempt := t.calls.add(req.ActionID)

	if f, ok := t.faults[req.ActionID]; ok && attempt <= f.Attempts {
		msg := f.Message
		if msg == "" {
			msg = fmt.Sprintf("injected fault (attempt %d)", attempt)
		}
		return remote.Response{
			Status:    remote.StatusError,
			Message:   msg,
			ErrorKind: ir.ErrorKind(f.ErrorKind),
		}, nil
	}

	return t.next.Send(ctx, req)
}
