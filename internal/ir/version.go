package ir

// Version constants for the wire format and client.
const (
	// WireVersion is the request/response format version sent to remotes.
	WireVersion = "1"

	// ClientVersion is the offsync client version.
	ClientVersion = "0.1.0"
)
