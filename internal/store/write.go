package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/roach88/offsync/internal/ir"
)

// Enqueue validates d and appends it to the log as a PENDING action.
//
// Returns a VALIDATION error without writing anything when the draft breaks
// the enqueue rules or the configured payload schema.
func (s *Store) Enqueue(ctx context.Context, d ir.Draft) (string, error) {
	if d.ConflictPolicy == ir.PolicyUnset {
		d.ConflictPolicy = s.defaultPolicy[d.Kind]
	}

	errs := d.Validate()
	if len(errs) == 0 && s.validator != nil && d.Payload != nil {
		if err := s.validator.ValidatePayload(d.Kind, d.EntityType, d.Payload); err != nil {
			errs = append(errs, ir.ValidationError{Field: "payload", Message: err.Error()})
		}
	}
	if err := errs.Err(); err != nil {
		return "", err
	}

	payload, err := marshalPayload(d.Payload)
	if err != nil {
		return "", ir.NewError(ir.CodeValidation, "encode payload", err)
	}

	id := s.ids.Generate()
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions
		(id, kind, entity_type, entity_id, payload, created_at, client_version,
		 conflict_policy, retry_count, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 'PENDING', ?)
	`,
		id,
		string(d.Kind),
		d.EntityType,
		d.EntityID,
		payload,
		now.UnixNano(),
		nullableInt(d.ClientVersion),
		string(d.ConflictPolicy),
		now.UnixNano(),
	)
	if err != nil {
		return "", ir.IOFailure("enqueue action", err)
	}

	return id, nil
}

// SetStatus updates one action's status and, when retryCount is non-nil, its
// retry count. An unknown id is a no-op.
func (s *Store) SetStatus(ctx context.Context, id string, status ir.Status, retryCount *int) error {
	if !status.Valid() {
		return ir.ValidationErrors{{Field: "status", Message: "unknown status " + string(status)}}.Err()
	}

	var rc sql.NullInt64
	if retryCount != nil {
		rc = sql.NullInt64{Int64: int64(*retryCount), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE actions
		SET status = ?, retry_count = COALESCE(?, retry_count), updated_at = ?
		WHERE id = ?
	`, string(status), rc, s.now().UTC().UnixNano(), id)
	if err != nil {
		return ir.IOFailure("set status", err)
	}
	return nil
}

// Remove deletes one action. An unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return ir.IOFailure("remove action", err)
	}
	return nil
}

// Clear deletes every action.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions`); err != nil {
		return ir.IOFailure("clear actions", err)
	}
	return nil
}

// Requeue moves FAILED actions back to PENDING so the next pass picks them
// up. With no ids every FAILED action is requeued. Retry counts are kept.
// Returns the number of actions moved.
func (s *Store) Requeue(ctx context.Context, ids ...string) (int, error) {
	return s.reset(ctx, ir.StatusFailed, ids, "requeue actions")
}

// RecoverInterrupted moves actions stuck in SYNCING back to PENDING.
// Actions are only left SYNCING when a pass died between dispatch and
// recording the outcome.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	return s.reset(ctx, ir.StatusSyncing, nil, "recover interrupted actions")
}

func (s *Store) reset(ctx context.Context, from ir.Status, ids []string, op string) (int, error) {
	query := `UPDATE actions SET status = 'PENDING', updated_at = ? WHERE status = ?`
	args := []any{s.now().UTC().UnixNano(), string(from)}
	if len(ids) > 0 {
		query += ` AND id IN (?` + strings.Repeat(`, ?`, len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ir.IOFailure(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, ir.IOFailure(op, err)
	}
	return int(n), nil
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
