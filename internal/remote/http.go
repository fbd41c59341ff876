package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/roach88/offsync/internal/ir"
)

// WireVersionHeader carries ir.WireVersion on every HTTP request.
const WireVersionHeader = "X-Offsync-Wire-Version"

// maxResponseBytes bounds how much of a reply body is read.
const maxResponseBytes = 4 << 20

// HTTPTransport POSTs each request as JSON to Endpoint.
//
// 408, 429 and 5xx replies are retryable. Other replies are decoded as a
// Response whatever their status code, so a remote may answer a conflict
// with 409 and a body.
type HTTPTransport struct {
	Endpoint string

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Headers are added to every request.
	Headers map[string]string
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, &TransportError{Op: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(WireVersionHeader, ir.WireVersion)
	for k, v := range t.Headers {
		httpReq.Header.Set(k, v)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{
			Op:        "post",
			Retryable: !errors.Is(err, context.Canceled),
			Err:       err,
		}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &TransportError{Op: "read response", Retryable: true, Err: err}
	}

	code := httpResp.StatusCode
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500 {
		msg := truncate(string(bytes.TrimSpace(data)), 200)
		if msg == "" {
			msg = http.StatusText(code)
		}
		return Response{}, &TransportError{Op: "post", Retryable: true, StatusCode: code, Err: errors.New(msg)}
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil || resp.Status == "" {
		if err == nil {
			err = errors.New("response has no status")
		}
		return Response{}, &TransportError{Op: "decode response", StatusCode: code, Err: err}
	}
	return resp, nil
}
