package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/observability"
)

// DefaultBatchSize is the number of groups dispatched together per chunk.
const DefaultBatchSize = 10

// ActionLog is the part of the Action Log a pass needs.
// Implemented by *store.Store.
type ActionLog interface {
	Pending(ctx context.Context) ([]ir.Action, error)
	SetStatus(ctx context.Context, id string, status ir.Status, retryCount *int) error
}

// Syncer sends one action to the remote. Implemented by *remote.Client.
type Syncer interface {
	SyncAction(ctx context.Context, a ir.Action) ir.Outcome
}

// Engine runs sync passes.
//
// Thread-safety: Sync may be called from any goroutine, but only one pass
// runs at a time; overlapping calls fail with ir.ErrSyncInProgress.
type Engine struct {
	log         ActionLog
	syncer      Syncer
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	batchSize   int
	policy      ir.ConflictPolicy
	entityOrder bool
	running     atomic.Bool
}

// EngineOption allows configuration of engine defaults.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer. Default: the global offsync tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the time source for report timing.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithBatchSize sets the default batch size. Values below 1 are ignored.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithConflictResolution sets the policy applied to actions that have none.
func WithConflictResolution(p ir.ConflictPolicy) EngineOption {
	return func(e *Engine) {
		if p.Valid() {
			e.policy = p
		}
	}
}

// WithEntityOrder turns per-entity grouping on or off by default.
func WithEntityOrder(on bool) EngineOption {
	return func(e *Engine) { e.entityOrder = on }
}

// New creates an Engine over log and syncer.
func New(log ActionLog, syncer Syncer, opts ...EngineOption) *Engine {
	e := &Engine{
		log:         log,
		syncer:      syncer,
		logger:      slog.Default(),
		tracer:      observability.Tracer(),
		now:         time.Now,
		batchSize:   DefaultBatchSize,
		policy:      ir.DefaultConflictPolicy,
		entityOrder: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncOptions overrides engine defaults for one pass. Zero values keep the
// default.
type SyncOptions struct {
	ConflictResolution ir.ConflictPolicy
	BatchSize          int
	RespectEntityOrder *bool
}

// passConfig is SyncOptions resolved against engine defaults.
type passConfig struct {
	policy      ir.ConflictPolicy
	batchSize   int
	entityOrder bool
}

func (e *Engine) resolve(opts SyncOptions) (passConfig, error) {
	var errs ir.ValidationErrors
	if opts.BatchSize < 0 {
		errs = append(errs, ir.ValidationError{
			Field:   "batch_size",
			Message: fmt.Sprintf("must be > 0, got %d", opts.BatchSize),
		})
	}
	if opts.ConflictResolution != ir.PolicyUnset && !opts.ConflictResolution.Valid() {
		errs = append(errs, ir.ValidationError{
			Field:   "conflict_resolution",
			Message: fmt.Sprintf("unknown policy %q", opts.ConflictResolution),
		})
	}
	if err := errs.Err(); err != nil {
		return passConfig{}, err
	}

	cfg := passConfig{
		policy:      opts.ConflictResolution.Or(e.policy),
		batchSize:   e.batchSize,
		entityOrder: e.entityOrder,
	}
	if opts.BatchSize > 0 {
		cfg.batchSize = opts.BatchSize
	}
	if opts.RespectEntityOrder != nil {
		cfg.entityOrder = *opts.RespectEntityOrder
	}
	return cfg, nil
}

// Sync runs one pass over all PENDING actions.
//
// The returned report is always usable. When err is non-nil it covers the
// actions processed before the pass stopped; the rest are still PENDING.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (ir.SyncReport, error) {
	cfg, err := e.resolve(opts)
	if err != nil {
		return ir.NewSyncReport(0), err
	}

	if !e.running.CompareAndSwap(false, true) {
		return ir.NewSyncReport(0), ir.ErrSyncInProgress
	}
	defer e.running.Store(false)

	ctx, span := observability.StartSpan(ctx, e.tracer, "sync.pass",
		attribute.Int("batch_size", cfg.batchSize),
		attribute.Bool("entity_order", cfg.entityOrder),
		attribute.String("conflict_resolution", string(cfg.policy)),
	)
	defer span.End()

	started := e.now()
	report, err := e.run(ctx, cfg)
	report.StartedAt = started
	report.Duration = e.now().Sub(started)

	span.SetAttributes(
		attribute.Int("total_actions", report.TotalActions),
		attribute.Int("successful", report.Successful),
		attribute.Int("failed", report.Failed),
		attribute.Int("conflicts", report.Conflicts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("sync pass stopped",
			"error", err,
			"processed", report.Processed(),
			"total_actions", report.TotalActions)
		return report, err
	}

	e.logger.Info("sync pass complete",
		"total_actions", report.TotalActions,
		"successful", report.Successful,
		"failed", report.Failed,
		"conflicts", report.Conflicts,
		"duration", report.Duration)
	return report, nil
}

func (e *Engine) run(ctx context.Context, cfg passConfig) (ir.SyncReport, error) {
	pending, err := e.log.Pending(ctx)
	if err != nil {
		return ir.NewSyncReport(0), asIOFailure("read pending actions", err)
	}

	report := ir.NewSyncReport(len(pending))
	if len(pending) == 0 {
		return report, nil
	}

	groups := partition(pending, cfg.entityOrder)
	e.logger.Debug("sync pass starting",
		"pending", len(pending),
		"groups", len(groups),
		"batch_size", cfg.batchSize)

	// Chunks run on a context that ignores cancellation; ctx is only
	// consulted at chunk boundaries.
	dispatchCtx := context.WithoutCancel(ctx)

	for start := 0; start < len(groups); start += cfg.batchSize {
		if err := ctx.Err(); err != nil {
			return report, ir.NewError(ir.CodeCancelled,
				fmt.Sprintf("stopped after %d of %d actions", report.Processed(), report.TotalActions), err)
		}

		chunk := groups[start:min(start+cfg.batchSize, len(groups))]
		results := make([][]ir.Outcome, len(chunk))

		var g errgroup.Group
		g.SetLimit(cfg.batchSize)
		for i, group := range chunk {
			i, group := i, group
			g.Go(func() error {
				out, err := e.runGroup(dispatchCtx, group, cfg.policy)
				results[i] = out
				return err
			})
		}
		err := g.Wait()

		for _, outcomes := range results {
			for _, o := range outcomes {
				report.Record(o)
			}
		}
		if err != nil {
			return report, err
		}
	}

	return report, nil
}

// runGroup sends one group's actions in order. It stops early only on an
// Action Log error.
func (e *Engine) runGroup(ctx context.Context, group []ir.Action, policy ir.ConflictPolicy) ([]ir.Outcome, error) {
	outcomes := make([]ir.Outcome, 0, len(group))
	for _, a := range group {
		out, err := e.runAction(ctx, a, policy)
		if out.Kind != "" {
			outcomes = append(outcomes, out)
		}
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// runAction moves one action through SYNCING to its final status.
//
// If marking SYNCING fails the action is not sent and the zero Outcome is
// returned. If recording the final status fails the outcome is still
// returned, since the remote has already seen the action.
func (e *Engine) runAction(ctx context.Context, a ir.Action, policy ir.ConflictPolicy) (ir.Outcome, error) {
	ctx, span := observability.StartSpan(ctx, e.tracer, "sync.action",
		attribute.String("action_id", a.ID),
		attribute.String("kind", string(a.Kind)),
		attribute.String("entity_type", a.EntityType),
		attribute.String("entity_id", a.EntityID),
	)
	defer span.End()

	if err := e.log.SetStatus(ctx, a.ID, ir.StatusSyncing, nil); err != nil {
		err = asIOFailure("mark syncing", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ir.Outcome{}, err
	}
	a.Status = ir.StatusSyncing
	a.ConflictPolicy = a.ConflictPolicy.Or(policy)

	out := e.syncer.SyncAction(ctx, a).For(a)

	var err error
	if out.Succeeded() {
		err = e.log.SetStatus(ctx, a.ID, ir.StatusCompleted, nil)
	} else {
		retries := a.RetryCount + 1
		err = e.log.SetStatus(ctx, a.ID, ir.StatusFailed, &retries)
	}

	span.SetAttributes(
		attribute.String("outcome", string(out.Kind)),
		attribute.Int("attempts", out.Attempts),
	)
	if out.Kind == ir.OutcomeFailure {
		span.SetStatus(codes.Error, out.Reason)
	}

	e.logger.Debug("action synced",
		"action_id", a.ID,
		"entity_type", a.EntityType,
		"entity_id", a.EntityID,
		"kind", a.Kind,
		"outcome", out.Kind,
		"operation", out.Operation,
		"reason", out.Reason)

	if err != nil {
		err = asIOFailure("record outcome", err)
		span.RecordError(err)
		return out, err
	}
	return out, nil
}

// asIOFailure tags untyped Action Log errors with IO_FAILURE.
func asIOFailure(op string, err error) error {
	if ir.CodeOf(err) != "" {
		return err
	}
	return ir.IOFailure(op, err)
}
