// Package remote sends actions to the remote store and classifies the result.
//
// A Client owns the retry discipline. It calls a Transport once per attempt
// and maps each response to exactly one ir.Outcome:
//
//   - status "success"  -> Success, never retried
//   - status "conflict" -> Conflict, never retried
//   - status "error"    -> retried only when error_kind is "retryable"
//   - transport error   -> retried when the TransportError says so, or on
//     deadline and net.Error timeouts
//
// Retryability comes from the explicit error_kind field. Matching on message
// text is available only through WithLegacyMessageClassification, for remotes
// that predate error_kind.
//
// Transports provided here speak the same JSON request/response pair:
// ExecTransport over a child process's stdin/stdout and HTTPTransport over
// HTTP POST. The refstore subpackage provides an in-process transport.
package remote
