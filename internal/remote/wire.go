package remote

import (
	"context"
	"time"

	"github.com/roach88/offsync/internal/ir"
)

// Response statuses.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// Request is the wire form of one action.
type Request struct {
	ActionID       string            `json:"action_id"`
	EntityType     string            `json:"entity_type"`
	Kind           ir.ActionKind     `json:"kind"`
	EntityID       string            `json:"entity_id,omitempty"`
	Payload        ir.Payload        `json:"payload,omitempty"`
	ConflictPolicy ir.ConflictPolicy `json:"conflict_policy"`
	CreatedAt      time.Time         `json:"created_at"`
	ClientVersion  *int64            `json:"client_version,omitempty"`
}

// NewRequest builds the request for a. An unset policy is sent as TIMESTAMP.
func NewRequest(a ir.Action) Request {
	return Request{
		ActionID:       a.ID,
		EntityType:     a.EntityType,
		Kind:           a.Kind,
		EntityID:       a.EntityID,
		Payload:        a.Payload,
		ConflictPolicy: a.ConflictPolicy.Or(ir.DefaultConflictPolicy),
		CreatedAt:      a.CreatedAt,
		ClientVersion:  a.ClientVersion,
	}
}

// Response is the remote's answer to one Request.
//
// ExistingItem is accepted as an alias of ServerItem for older remotes.
type Response struct {
	Status       string         `json:"status"`
	Operation    string         `json:"operation,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Message      string         `json:"message,omitempty"`
	ErrorKind    ir.ErrorKind   `json:"error_kind,omitempty"`
	ServerItem   map[string]any `json:"server_item,omitempty"`
	ExistingItem map[string]any `json:"existing_item,omitempty"`
}

// serverState returns whichever of ServerItem and ExistingItem is set.
func (r Response) serverState() map[string]any {
	if r.ServerItem != nil {
		return r.ServerItem
	}
	return r.ExistingItem
}

// Transport performs one request/response exchange with the remote.
// Implementations must not retry; the Client does that.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
