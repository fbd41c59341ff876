package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/remote/refstore"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

var serverTime = time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)

// recordingSyncer wraps a Syncer and records call order and concurrency.
type recordingSyncer struct {
	next  Syncer
	delay time.Duration

	mu          sync.Mutex
	calls       []string
	events      []string
	inFlight    int
	maxInFlight int
}

func (r *recordingSyncer) SyncAction(ctx context.Context, a ir.Action) ir.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, a.ID)
	r.events = append(r.events, "start:"+a.ID)
	r.inFlight++
	r.maxInFlight = max(r.maxInFlight, r.inFlight)
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	out := r.next.SyncAction(ctx, a)

	r.mu.Lock()
	r.inFlight--
	r.events = append(r.events, "end:"+a.ID)
	r.mu.Unlock()
	return out
}

func (r *recordingSyncer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// syncerFunc adapts a function to Syncer.
type syncerFunc func(ctx context.Context, a ir.Action) ir.Outcome

func (f syncerFunc) SyncAction(ctx context.Context, a ir.Action) ir.Outcome { return f(ctx, a) }

type rig struct {
	log    *store.Store
	remote *refstore.Store
	clock  *testutil.ManualClock
	syncer *recordingSyncer
}

// newRig wires a real Action Log and reference remote, seeded with
// users/user_1 last modified at serverTime.
func newRig(t *testing.T) *rig {
	t.Helper()
	ctx := context.Background()

	clock := testutil.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	log, err := store.Open(":memory:",
		store.WithClock(clock.Now),
		store.WithIDGenerator(testutil.NewSequentialIDs("act")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ref, err := refstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ref.Close() })
	require.NoError(t, ref.Seed(ctx, "users", "user_1", ir.Payload{"name": "John"}, serverTime))

	client := remote.NewClient(ref.Transport(),
		remote.WithSleep(func(context.Context, time.Duration) error { return nil }))

	return &rig{log: log, remote: ref, clock: clock, syncer: &recordingSyncer{next: client}}
}

func (r *rig) engine(opts ...EngineOption) *Engine {
	base := []EngineOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	return New(r.log, r.syncer, append(base, opts...)...)
}

func (r *rig) enqueue(t *testing.T, at time.Time, d ir.Draft) string {
	t.Helper()
	if !at.IsZero() {
		r.clock.Set(at)
	}
	id, err := r.log.Enqueue(context.Background(), d)
	require.NoError(t, err)
	return id
}

func (r *rig) status(t *testing.T, id string) ir.Action {
	t.Helper()
	a, ok, err := r.log.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "action %s not found", id)
	return a
}

func create(id string) ir.Draft {
	return ir.Draft{Kind: ir.KindCreate, EntityType: "users", Payload: ir.Payload{"id": id, "name": id}}
}

func update(id string, payload ir.Payload) ir.Draft {
	return ir.Draft{Kind: ir.KindUpdate, EntityType: "users", EntityID: id, Payload: payload}
}

func at(minutes int) time.Time {
	return time.Date(2024, 6, 1, 0, minutes, 0, 0, time.UTC)
}

func TestSync_EmptyPass(t *testing.T) {
	r := newRig(t)

	report, err := r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.TotalActions)
	assert.Equal(t, 0, report.Successful)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Conflicts)
	assert.NotNil(t, report.Details)
	assert.Empty(t, report.Details)
	assert.Empty(t, r.syncer.Calls())
}

func TestSync_EntityOrderAcrossBatchWidths(t *testing.T) {
	for _, batch := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("batch_%d", batch), func(t *testing.T) {
			r := newRig(t)

			// Enqueued out of created_at order on purpose.
			b := r.enqueue(t, at(2), update("user_9", ir.Payload{"name": "B"}))
			c := r.enqueue(t, at(3), update("user_9", ir.Payload{"name": "C"}))
			a := r.enqueue(t, at(1), create("user_9"))

			report, err := r.engine().Sync(context.Background(), SyncOptions{BatchSize: batch})
			require.NoError(t, err)

			assert.Equal(t, []string{a, b, c}, r.syncer.Calls())
			assert.Equal(t, 3, report.Successful)

			rec, found, err := r.remote.Get(context.Background(), "users", "user_9")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "C", rec.Data["name"])
		})
	}
}

func TestSync_EntityOrderDisabledKeepsFIFO(t *testing.T) {
	r := newRig(t)
	later := r.enqueue(t, at(2), update("user_1", ir.Payload{"name": "later"}))
	earlier := r.enqueue(t, at(1), update("user_1", ir.Payload{"name": "earlier"}))

	off := false
	_, err := r.engine().Sync(context.Background(), SyncOptions{BatchSize: 1, RespectEntityOrder: &off})
	require.NoError(t, err)

	assert.Equal(t, []string{later, earlier}, r.syncer.Calls())
}

func TestSync_TimestampConflict(t *testing.T) {
	r := newRig(t)
	older := r.enqueue(t, serverTime.Add(-time.Hour), update("user_1", ir.Payload{"name": "old"}))

	report, err := r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Successful)
	require.Len(t, report.Details, 1)
	assert.Equal(t, ir.OutcomeConflict, report.Details[0].Kind)
	assert.Contains(t, report.Details[0].Reason, "newer")

	got := r.status(t, older)
	assert.Equal(t, ir.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	newer := r.enqueue(t, serverTime.Add(time.Hour), update("user_1", ir.Payload{"name": "new"}))
	report, err = r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.TotalActions)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, ir.StatusCompleted, r.status(t, newer).Status)
}

func TestSync_ForceDeleteMissing(t *testing.T) {
	r := newRig(t)
	id := r.enqueue(t, time.Time{}, ir.Draft{
		Kind: ir.KindDelete, EntityType: "users", EntityID: "ghost", ConflictPolicy: ir.PolicyForceDelete,
	})

	report, err := r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	require.Len(t, report.Details, 1)
	assert.Equal(t, ir.OutcomeSuccess, report.Details[0].Kind)
	assert.Equal(t, "delete_noop", report.Details[0].Operation)
	assert.Equal(t, ir.StatusCompleted, r.status(t, id).Status)
}

func TestSync_BatchSizeBoundsConcurrency(t *testing.T) {
	r := newRig(t)
	r.syncer.delay = 20 * time.Millisecond

	var ids []string
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		ids = append(ids, r.enqueue(t, time.Time{}, create(id)))
	}

	report, err := r.engine().Sync(context.Background(), SyncOptions{BatchSize: 2})
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalActions)
	assert.Len(t, report.Details, 5)
	assert.Equal(t, 5, report.Successful)
	assert.LessOrEqual(t, r.syncer.maxInFlight, 2)

	// Chunk barrier: no action of chunk k+1 starts before chunk k has ended.
	pos := make(map[string]int)
	for i, ev := range r.syncer.events {
		pos[ev] = i
	}
	chunks := [][]string{ids[0:2], ids[2:4], ids[4:5]}
	for k := 0; k+1 < len(chunks); k++ {
		for _, done := range chunks[k] {
			for _, next := range chunks[k+1] {
				assert.Less(t, pos["end:"+done], pos["start:"+next])
			}
		}
	}

	// Details follow group dispatch order.
	for i, d := range report.Details {
		assert.Equal(t, ids[i], d.ActionID)
	}
}

func TestSync_PartialFailureIsolation(t *testing.T) {
	r := newRig(t)
	ok1 := r.enqueue(t, time.Time{}, create("u1"))
	bad := r.enqueue(t, time.Time{}, update("user_1", ir.Payload{}))
	ok2 := r.enqueue(t, time.Time{}, create("u2"))

	report, err := r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Conflicts)

	assert.Equal(t, ir.StatusCompleted, r.status(t, ok1).Status)
	assert.Equal(t, ir.StatusCompleted, r.status(t, ok2).Status)
	failed := r.status(t, bad)
	assert.Equal(t, ir.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
}

func TestSync_FailureDoesNotBlockLaterActionsInGroup(t *testing.T) {
	r := newRig(t)
	first := r.enqueue(t, at(1), update("user_1", ir.Payload{}))
	second := r.enqueue(t, at(2), update("user_1", ir.Payload{"name": "ok"}))

	report, err := r.engine().Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{first, second}, r.syncer.Calls())
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Failed)
}

// transitionLog records every status write made through it.
type transitionLog struct {
	ActionLog
	mu     sync.Mutex
	writes map[string][]ir.Status
}

func (l *transitionLog) SetStatus(ctx context.Context, id string, status ir.Status, rc *int) error {
	l.mu.Lock()
	l.writes[id] = append(l.writes[id], status)
	l.mu.Unlock()
	return l.ActionLog.SetStatus(ctx, id, status, rc)
}

func TestSync_StatusTransitions(t *testing.T) {
	r := newRig(t)
	good := r.enqueue(t, time.Time{}, create("u1"))
	conflicted := r.enqueue(t, serverTime.Add(-time.Hour), update("user_1", ir.Payload{"name": "x"}))

	tl := &transitionLog{ActionLog: r.log, writes: map[string][]ir.Status{}}
	e := New(tl, r.syncer, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, []ir.Status{ir.StatusSyncing, ir.StatusCompleted}, tl.writes[good])
	assert.Equal(t, []ir.Status{ir.StatusSyncing, ir.StatusFailed}, tl.writes[conflicted])
	for id, writes := range tl.writes {
		for i := 1; i < len(writes); i++ {
			assert.True(t, writes[i-1].CanTransition(writes[i]), "%s: %v", id, writes)
		}
	}
	assert.Len(t, r.syncer.Calls(), 2)
}

func TestSync_FailedActionsAreNotRequeued(t *testing.T) {
	r := newRig(t)
	id := r.enqueue(t, time.Time{}, update("user_1", ir.Payload{}))
	e := r.engine()

	_, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	report, err := e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalActions)

	n, err := r.log.Requeue(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	report, err = e.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, r.status(t, id).RetryCount)
}

func TestSync_PassPolicyAppliesToUnsetActions(t *testing.T) {
	r := newRig(t)
	unset := r.enqueue(t, serverTime.Add(-time.Hour), update("user_1", ir.Payload{"name": "mine"}))

	report, err := r.engine().Sync(context.Background(), SyncOptions{ConflictResolution: ir.PolicyClientWins})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, ir.StatusCompleted, r.status(t, unset).Status)
}

func TestSync_ActionPolicyWinsOverPassPolicy(t *testing.T) {
	r := newRig(t)
	d := update("user_1", ir.Payload{"name": "mine"})
	d.ConflictPolicy = ir.PolicyServerWins
	r.enqueue(t, serverTime.Add(time.Hour), d)

	report, err := r.engine(WithConflictResolution(ir.PolicyClientWins)).Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)
}

func TestSync_InvalidOptions(t *testing.T) {
	r := newRig(t)
	id := r.enqueue(t, time.Time{}, create("u1"))
	e := r.engine()

	_, err := e.Sync(context.Background(), SyncOptions{BatchSize: -1})
	assert.True(t, ir.IsValidation(err))

	_, err = e.Sync(context.Background(), SyncOptions{ConflictResolution: "NEWEST"})
	assert.True(t, ir.IsValidation(err))

	assert.Equal(t, ir.StatusPending, r.status(t, id).Status)
	assert.Empty(t, r.syncer.Calls())
}

func TestSync_CancelledBetweenChunks(t *testing.T) {
	r := newRig(t)
	first := r.enqueue(t, time.Time{}, create("u1"))
	second := r.enqueue(t, time.Time{}, create("u2"))
	third := r.enqueue(t, time.Time{}, create("u3"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := r.syncer.next
	r.syncer.next = syncerFunc(func(ctx context.Context, a ir.Action) ir.Outcome {
		cancel()
		return inner.SyncAction(ctx, a)
	})

	report, err := r.engine().Sync(ctx, SyncOptions{BatchSize: 1})
	require.Error(t, err)
	assert.True(t, ir.IsCancelled(err))
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, 3, report.TotalActions)
	assert.Equal(t, 1, report.Processed())
	assert.Equal(t, ir.StatusCompleted, r.status(t, first).Status)
	assert.Equal(t, ir.StatusPending, r.status(t, second).Status)
	assert.Equal(t, ir.StatusPending, r.status(t, third).Status)
}

// failingLog fails the final status write for one action.
type failingLog struct {
	ActionLog
	failID string
}

func (l *failingLog) SetStatus(ctx context.Context, id string, status ir.Status, rc *int) error {
	if id == l.failID && status != ir.StatusSyncing {
		return errors.New("disk I/O error")
	}
	return l.ActionLog.SetStatus(ctx, id, status, rc)
}

func TestSync_IOFailureAbortsPass(t *testing.T) {
	r := newRig(t)
	first := r.enqueue(t, time.Time{}, create("u1"))
	second := r.enqueue(t, time.Time{}, create("u2"))
	third := r.enqueue(t, time.Time{}, create("u3"))

	e := New(&failingLog{ActionLog: r.log, failID: first}, r.syncer,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	report, err := e.Sync(context.Background(), SyncOptions{BatchSize: 1})
	require.Error(t, err)
	assert.True(t, ir.IsIOFailure(err))

	require.Len(t, report.Details, 1)
	assert.Equal(t, first, report.Details[0].ActionID)
	assert.Equal(t, ir.StatusSyncing, r.status(t, first).Status)
	assert.Equal(t, ir.StatusPending, r.status(t, second).Status)
	assert.Equal(t, ir.StatusPending, r.status(t, third).Status)

	n, err := r.log.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSync_PendingReadFailure(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.log.Close())

	_, err := r.engine().Sync(context.Background(), SyncOptions{})
	assert.True(t, ir.IsIOFailure(err))
}

func TestSync_RejectsOverlappingPass(t *testing.T) {
	r := newRig(t)
	r.enqueue(t, time.Time{}, create("u1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	inner := r.syncer.next
	r.syncer.next = syncerFunc(func(ctx context.Context, a ir.Action) ir.Outcome {
		close(entered)
		<-release
		return inner.SyncAction(ctx, a)
	})
	e := r.engine()

	done := make(chan error, 1)
	go func() {
		_, err := e.Sync(context.Background(), SyncOptions{})
		done <- err
	}()

	<-entered
	_, err := e.Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ir.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestSync_Spans(t *testing.T) {
	r := newRig(t)
	r.enqueue(t, time.Time{}, create("u1"))
	r.enqueue(t, time.Time{}, create("u2"))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	_, err := r.engine(WithTracer(tp.Tracer("test"))).Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	var pass sdktrace.ReadOnlySpan
	var actions []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "sync.pass":
			pass = s
		case "sync.action":
			actions = append(actions, s)
		}
	}
	require.NotNil(t, pass)
	require.Len(t, actions, 2)
	for _, s := range actions {
		assert.Equal(t, pass.SpanContext().SpanID(), s.Parent().SpanID())
	}
}
