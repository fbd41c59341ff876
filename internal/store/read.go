package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

const actionColumns = `id, kind, entity_type, entity_id, payload, created_at,
	client_version, conflict_policy, retry_count, status`

// Pending returns every PENDING action in insertion order.
// Returns an empty slice (not nil) if none are pending.
func (s *Store) Pending(ctx context.Context) ([]ir.Action, error) {
	return s.list(ctx, "read pending actions",
		`SELECT `+actionColumns+` FROM actions WHERE status = 'PENDING' ORDER BY seq ASC`)
}

// All returns every action in insertion order.
func (s *Store) All(ctx context.Context) ([]ir.Action, error) {
	return s.list(ctx, "read actions",
		`SELECT `+actionColumns+` FROM actions ORDER BY seq ASC`)
}

// ByEntity returns every action for one entity type in insertion order.
func (s *Store) ByEntity(ctx context.Context, entityType string) ([]ir.Action, error) {
	return s.list(ctx, "read actions by entity",
		`SELECT `+actionColumns+` FROM actions WHERE entity_type = ? ORDER BY seq ASC`, entityType)
}

// Get returns one action. The bool is false when id is unknown.
func (s *Store) Get(ctx context.Context, id string) (ir.Action, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Action{}, false, nil
	}
	if err != nil {
		return ir.Action{}, false, ir.IOFailure("read action", err)
	}
	return a, true, nil
}

// Stats counts actions per status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats returns action counts grouped by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM actions GROUP BY status`)
	if err != nil {
		return Stats{}, ir.IOFailure("read stats", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, ir.IOFailure("read stats", err)
		}
		st.Total += n
		switch ir.Status(status) {
		case ir.StatusPending:
			st.Pending = n
		case ir.StatusSyncing:
			st.Syncing = n
		case ir.StatusCompleted:
			st.Completed = n
		case ir.StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, ir.IOFailure("read stats", err)
	}
	return st, nil
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]ir.Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ir.IOFailure(op, err)
	}
	defer rows.Close()

	actions := []ir.Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, ir.IOFailure(op, err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.IOFailure(op, err)
	}
	return actions, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAction(sc scanner) (ir.Action, error) {
	var (
		a             ir.Action
		kind, status  string
		policy        string
		payload       sql.NullString
		createdAt     int64
		clientVersion sql.NullInt64
	)
	err := sc.Scan(&a.ID, &kind, &a.EntityType, &a.EntityID, &payload, &createdAt,
		&clientVersion, &policy, &a.RetryCount, &status)
	if err != nil {
		return ir.Action{}, err
	}

	a.Kind = ir.ActionKind(kind)
	a.Status = ir.Status(status)
	a.ConflictPolicy = ir.ConflictPolicy(policy)
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	if clientVersion.Valid {
		v := clientVersion.Int64
		a.ClientVersion = &v
	}
	if payload.Valid {
		p, err := ir.ParsePayload([]byte(payload.String))
		if err != nil {
			return ir.Action{}, fmt.Errorf("action %s: %w", a.ID, err)
		}
		a.Payload = p
	}
	return a, nil
}

// marshalPayload returns NULL for a nil payload so DELETE rows stay distinct
// from an empty object.
func marshalPayload(p ir.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
