package refstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

//go:embed schema.sql
var schemaSQL string

// Operation names reported on success.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpDeleteNoop = "delete_noop"
)

// Record is one stored entity.
type Record struct {
	EntityType   string
	ID           string
	Data         ir.Payload
	Version      int64
	LastModified time.Time
}

// Item returns the record as the server_item / data map sent to clients.
func (r Record) Item() map[string]any {
	return map[string]any{
		"entity_type":   r.EntityType,
		"id":            r.ID,
		"data":          map[string]any(r.Data),
		"version":       r.Version,
		"last_modified": r.LastModified.UTC().Format(time.RFC3339Nano),
	}
}

// Store is the reference remote.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open remote database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schemaSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init remote database: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transport returns an in-process remote.Transport backed by s.
func (s *Store) Transport() remote.Transport {
	return remote.TransportFunc(func(ctx context.Context, req remote.Request) (remote.Response, error) {
		return s.Apply(ctx, req), nil
	})
}

// Seed inserts or replaces a record at version 1.
func (s *Store) Seed(ctx context.Context, entityType, id string, data ir.Payload, lastModified time.Time) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("seed %s/%s: %w", entityType, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, data, version, last_modified)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			data = excluded.data, version = 1, last_modified = excluded.last_modified
	`, entityType, id, string(encoded), lastModified.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("seed %s/%s: %w", entityType, id, err)
	}
	return nil
}

// Get returns one record. The bool is false when it does not exist.
func (s *Store) Get(ctx context.Context, entityType, id string) (Record, bool, error) {
	return get(ctx, s.db, entityType, id)
}

// All returns every record ordered by entity type and id.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, id, data, version, last_modified
		FROM records ORDER BY entity_type, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Apply executes one request and returns the response a remote would send.
// Storage failures are reported as retryable errors.
func (s *Store) Apply(ctx context.Context, req remote.Request) remote.Response {
	if resp, ok := checkRequest(req); !ok {
		return resp
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err)
	}
	defer tx.Rollback()

	id := req.EntityID
	if req.Kind == ir.KindCreate && id == "" {
		if v, ok := req.Payload.String("id"); ok && v != "" {
			id = v
		} else {
			id = uuid.NewString()
		}
	}

	existing, found, err := get(ctx, tx, req.EntityType, id)
	if err != nil {
		return storageError(err)
	}

	d := decide(req, existing, found)
	if d.write != nil {
		d.write.EntityType = req.EntityType
		d.write.ID = id
		if err := put(ctx, tx, *d.write); err != nil {
			return storageError(err)
		}
		d.resp.Data = d.write.Item()
	}
	if d.remove {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE entity_type = ? AND id = ?`, req.EntityType, id); err != nil {
			return storageError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError(err)
	}
	return d.resp
}

// decision is what Apply should do for one request.
type decision struct {
	resp   remote.Response
	write  *Record
	remove bool
}

func decide(req remote.Request, existing Record, found bool) decision {
	policy := req.ConflictPolicy.Or(ir.PolicyTimestamp)

	switch req.Kind {
	case ir.KindCreate:
		if !found {
			return accept(OpCreate, newRecord(req.Payload, req.CreatedAt))
		}
		switch policy {
		case ir.PolicyServerWins:
			return conflict(existing, "record %s/%s already exists", existing.EntityType, existing.ID)
		case ir.PolicyClientWins:
			return accept(OpCreate, replaced(existing, req.Payload, req.CreatedAt))
		}
		if !newer(req, existing) {
			return staleConflict(existing)
		}
		return accept(OpCreate, replaced(existing, req.Payload, req.CreatedAt))

	case ir.KindUpdate:
		if !found {
			if policy == ir.PolicyClientWins {
				return accept(OpUpdate, newRecord(req.Payload, req.CreatedAt))
			}
			return decision{resp: remote.Response{
				Status:  remote.StatusConflict,
				Message: fmt.Sprintf("record %s/%s not found", req.EntityType, req.EntityID),
			}}
		}
		merged := replaced(existing, existing.Data.Merge(req.Payload), req.CreatedAt)
		switch policy {
		case ir.PolicyClientWins:
			return accept(OpUpdate, merged)
		case ir.PolicyServerWins:
			if !versionMatches(req, existing) {
				return conflict(existing, "record %s/%s changed on server (version %d)",
					existing.EntityType, existing.ID, existing.Version)
			}
			return accept(OpUpdate, merged)
		}
		if !newer(req, existing) {
			return staleConflict(existing)
		}
		return accept(OpUpdate, merged)

	default: // ir.KindDelete
		if !found {
			if policy == ir.PolicyServerWins {
				return decision{resp: remote.Response{
					Status:  remote.StatusConflict,
					Message: fmt.Sprintf("record %s/%s not found", req.EntityType, req.EntityID),
				}}
			}
			return decision{resp: remote.Response{
				Status:    remote.StatusSuccess,
				Operation: OpDeleteNoop,
				Data:      map[string]any{"entity_type": req.EntityType, "id": req.EntityID},
			}}
		}
		switch policy {
		case ir.PolicyServerWins:
			if !versionMatches(req, existing) {
				return conflict(existing, "record %s/%s changed on server (version %d)",
					existing.EntityType, existing.ID, existing.Version)
			}
		case ir.PolicyTimestamp:
			if !newer(req, existing) {
				return staleConflict(existing)
			}
		}
		return decision{
			resp:   remote.Response{Status: remote.StatusSuccess, Operation: OpDelete, Data: existing.Item()},
			remove: true,
		}
	}
}

// checkRequest rejects requests no policy can apply.
func checkRequest(req remote.Request) (remote.Response, bool) {
	var msg string
	switch {
	case req.EntityType == "":
		msg = "entity_type is required"
	case !req.Kind.Valid():
		msg = fmt.Sprintf("unknown kind %q", req.Kind)
	case req.ConflictPolicy != ir.PolicyUnset && !req.ConflictPolicy.Valid():
		msg = fmt.Sprintf("unknown conflict policy %q", req.ConflictPolicy)
	case req.Kind == ir.KindCreate && req.Payload == nil:
		msg = "create requires a payload"
	case req.Kind == ir.KindUpdate && req.EntityID == "":
		msg = "update requires entity_id"
	case req.Kind == ir.KindUpdate && len(req.Payload) == 0:
		msg = "update requires a non-empty payload"
	case req.Kind == ir.KindDelete && req.EntityID == "":
		msg = "delete requires entity_id"
	default:
		return remote.Response{}, true
	}
	return remote.Response{Status: remote.StatusError, Message: msg, ErrorKind: ir.ErrorKindTerminal}, false
}

func accept(op string, r Record) decision {
	return decision{resp: remote.Response{Status: remote.StatusSuccess, Operation: op}, write: &r}
}

func conflict(existing Record, format string, args ...any) decision {
	return decision{resp: remote.Response{
		Status:     remote.StatusConflict,
		Message:    fmt.Sprintf(format, args...),
		ServerItem: existing.Item(),
	}}
}

func staleConflict(existing Record) decision {
	return conflict(existing, "server version is newer (last modified %s)",
		existing.LastModified.UTC().Format(time.RFC3339Nano))
}

func newer(req remote.Request, existing Record) bool {
	return req.CreatedAt.After(existing.LastModified)
}

func versionMatches(req remote.Request, existing Record) bool {
	return req.ClientVersion != nil && *req.ClientVersion == existing.Version
}

func newRecord(data ir.Payload, at time.Time) Record {
	return Record{Data: data.Clone(), Version: 1, LastModified: at}
}

// replaced returns existing with new data. last_modified never moves
// backwards, even when a CLIENT_WINS write carries an older timestamp.
func replaced(existing Record, data ir.Payload, at time.Time) Record {
	r := existing
	r.Data = data.Clone()
	r.Version++
	if at.After(r.LastModified) {
		r.LastModified = at
	}
	return r
}

func storageError(err error) remote.Response {
	return remote.Response{
		Status:    remote.StatusError,
		Message:   "storage unavailable: " + err.Error(),
		ErrorKind: ir.ErrorKindRetryable,
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, entityType, id string) (Record, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT entity_type, id, data, version, last_modified
		FROM records WHERE entity_type = ? AND id = ?
	`, entityType, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func put(ctx context.Context, q querier, r Record) error {
	if r.Data == nil {
		r.Data = ir.Payload{}
	}
	encoded, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (entity_type, id, data, version, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			data = excluded.data, version = excluded.version, last_modified = excluded.last_modified
	`, r.EntityType, r.ID, string(encoded), r.Version, r.LastModified.UTC().UnixNano())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r    Record
		data string
		lm   int64
	)
	if err := sc.Scan(&r.EntityType, &r.ID, &data, &r.Version, &lm); err != nil {
		return Record{}, err
	}
	p, err := ir.ParsePayload([]byte(data))
	if err != nil {
		return Record{}, err
	}
	r.Data = p
	r.LastModified = time.Unix(0, lm).UTC()
	return r, nil
}
