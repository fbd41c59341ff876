package ir

// OutcomeKind discriminates Outcome.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeConflict OutcomeKind = "conflict"
	OutcomeFailure  OutcomeKind = "failure"
)

// ErrorKind is the explicit retryability signal reported by a remote.
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindRetryable ErrorKind = "retryable"
	ErrorKindTerminal  ErrorKind = "terminal"
)

// Outcome is the single result of sending one Action to the remote.
//
// Success fills Operation and Data; Conflict fills Reason and ServerState;
// Failure fills Reason and ErrorKind.
type Outcome struct {
	ActionID    string         `json:"action_id"`
	EntityType  string         `json:"entity_type,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	Kind        OutcomeKind    `json:"kind"`
	Operation   string         `json:"operation,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	ServerState map[string]any `json:"server_state,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Attempts    int            `json:"attempts"`
}

// Success builds a success outcome.
func Success(operation string, data map[string]any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Operation: operation, Data: data}
}

// Conflict builds a conflict outcome.
func Conflict(reason string, serverState map[string]any) Outcome {
	return Outcome{Kind: OutcomeConflict, Reason: reason, ServerState: serverState}
}

// Failure builds a failure outcome.
func Failure(reason string, kind ErrorKind) Outcome {
	return Outcome{Kind: OutcomeFailure, Reason: reason, ErrorKind: kind}
}

// Succeeded reports whether the remote applied the mutation.
func (o Outcome) Succeeded() bool { return o.Kind == OutcomeSuccess }

// For stamps the action identity onto o.
func (o Outcome) For(a Action) Outcome {
	o.ActionID = a.ID
	o.EntityType = a.EntityType
	o.EntityID = a.EntityID
	return o
}
