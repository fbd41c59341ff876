package refstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

// maxRequestBytes bounds one decoded request.
const maxRequestBytes = 1 << 20

// ServeOne reads one JSON request from r and writes the JSON response to w.
// This is the child-process side of remote.ExecTransport. Undecodable input
// gets a terminal error response rather than an error return; err is only
// set when w cannot be written.
func (s *Store) ServeOne(ctx context.Context, r io.Reader, w io.Writer) error {
	var resp remote.Response
	req, err := decodeRequest(r)
	if err != nil {
		resp = badRequest(err)
	} else {
		resp = s.Apply(ctx, req)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Handler serves POSTed requests for remote.HTTPTransport.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := http.StatusOK
		var resp remote.Response
		req, err := decodeRequest(r.Body)
		if err != nil {
			status = http.StatusBadRequest
			resp = badRequest(err)
		} else {
			resp = s.Apply(r.Context(), req)
			if resp.Status == remote.StatusConflict {
				status = http.StatusConflict
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func decodeRequest(r io.Reader) (remote.Request, error) {
	var req remote.Request
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return remote.Request{}, err
	}
	return req, nil
}

func badRequest(err error) remote.Response {
	return remote.Response{
		Status:    remote.StatusError,
		Message:   "malformed request: " + err.Error(),
		ErrorKind: ir.ErrorKindTerminal,
	}
}
