package ir

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is the mutation an Action performs.
type ActionKind string

const (
	KindCreate ActionKind = "CREATE"
	KindUpdate ActionKind = "UPDATE"
	KindDelete ActionKind = "DELETE"
)

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// ParseActionKind accepts any case ("create", "CREATE").
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Status is the lifecycle state of an Action.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSyncing   Status = "SYNCING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a sync pass may move an action from s to next.
//
// Only PENDING -> SYNCING -> {COMPLETED, FAILED} is allowed inside a pass.
// Caller-driven resets (FAILED -> PENDING, SYNCING -> PENDING) go through the
// store's requeue and recovery operations instead.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSyncing
	case StatusSyncing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ConflictPolicy selects how the remote resolves divergent state.
// The zero value means "unset" and is replaced by a queue-wide default.
type ConflictPolicy string

const (
	PolicyUnset       ConflictPolicy = ""
	PolicyTimestamp   ConflictPolicy = "TIMESTAMP"
	PolicyServerWins  ConflictPolicy = "SERVER_WINS"
	PolicyClientWins  ConflictPolicy = "CLIENT_WINS"
	PolicyForceDelete ConflictPolicy = "FORCE_DELETE"
)

// DefaultConflictPolicy is used when neither the action nor the pass sets one.
const DefaultConflictPolicy = PolicyTimestamp

// Valid reports whether p is a known, set policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case PolicyTimestamp, PolicyServerWins, PolicyClientWins, PolicyForceDelete:
		return true
	}
	return false
}

// Or returns p, or fallback when p is unset.
func (p ConflictPolicy) Or(fallback ConflictPolicy) ConflictPolicy {
	if p == PolicyUnset {
		return fallback
	}
	return p
}

// ParseConflictPolicy accepts "timestamp", "server-wins", "SERVER_WINS" and
// similar spellings. The empty string parses to PolicyUnset.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	p := ConflictPolicy(norm)
	if p == PolicyUnset || p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q (want timestamp, server-wins, client-wins or force-delete)", s)
}

// Action is a single recorded mutation.
//
// EntityID is empty for CREATE. Payload is nil for DELETE.
type Action struct {
	ID             string         `json:"id"`
	Kind           ActionKind     `json:"kind"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id,omitempty"`
	Payload        Payload        `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ClientVersion  *int64         `json:"client_version,omitempty"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy,omitempty"`
	RetryCount     int            `json:"retry_count"`
	Status         Status         `json:"status"`
}

// Draft is an enqueue request. The log assigns ID, CreatedAt, Status and
// RetryCount.
type Draft struct {
	Kind           ActionKind
	EntityType     string
	EntityID       string
	Payload        Payload
	ConflictPolicy ConflictPolicy
	ClientVersion  *int64
}

// Validate checks the draft against the enqueue rules.
// Returns all errors (not fail-fast).
func (d Draft) Validate() ValidationErrors {
	var errs ValidationErrors

	if !d.Kind.Valid() {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("invalid kind %q, must be one of: CREATE, UPDATE, DELETE", d.Kind),
		})
	}
	if strings.TrimSpace(d.EntityType) == "" {
		errs = append(errs, ValidationError{Field: "entity_type", Message: "is required"})
	}
	if d.ConflictPolicy != PolicyUnset && !d.ConflictPolicy.Valid() {
		errs = append(errs, ValidationError{
			Field:   "conflict_policy",
			Message: fmt.Sprintf("invalid policy %q", d.ConflictPolicy),
		})
	}

	switch d.Kind {
	case KindCreate:
		if d.Payload == nil {
			errs = append(errs, ValidationError{Field: "payload", Message: "is required for CREATE"})
		}
		if d.EntityID != "" {
			errs = append(errs, ValidationError{Field: "entity_id", Message: "must be empty for CREATE"})
		}
	case KindUpdate:
		if d.EntityID == "" {
			errs = append(errs, ValidationError{Field: "entity_id", Message: "is required for UPDATE"})
		}
		if d.Payload == nil {
			errs = append(errs, ValidationError{Field: "payload", Message: "is required for UPDATE"})
		}
	case KindDelete:
		if d.EntityID == "" {
			errs = append(errs, ValidationError{Field: "entity_id", Message: "is required for DELETE"})
		}
		if d.Payload != nil {
			errs = append(errs, ValidationError{Field: "payload", Message: "must be empty for DELETE"})
		}
	}

	return errs
}
