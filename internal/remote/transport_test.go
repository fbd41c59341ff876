package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

// TestHelperProcess is not a real test. ExecTransport tests run the test
// binary itself as the child process, selected by OFFSYNC_HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("OFFSYNC_HELPER_MODE")
	if mode == "" {
		return
	}

	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(3)
	}

	switch mode {
	case "echo":
		json.NewEncoder(os.Stdout).Encode(Response{
			Status:    StatusSuccess,
			Operation: "create",
			Data: map[string]any{
				"entity_type":  req.EntityType,
				"policy":       string(req.ConflictPolicy),
				"wire_version": os.Getenv("OFFSYNC_WIRE_VERSION"),
			},
		})
	case "conflict-exit":
		json.NewEncoder(os.Stdout).Encode(Response{Status: StatusConflict, Message: "server version is newer"})
		os.Exit(1)
	case "crash":
		fmt.Fprintln(os.Stderr, "database locked")
		os.Exit(2)
	case "garbage":
		fmt.Fprintln(os.Stdout, "not json")
	case "hang":
		time.Sleep(10 * time.Second)
	}
	os.Exit(0)
}

func helperTransport(mode string) *ExecTransport {
	return &ExecTransport{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperProcess$"},
		Env:     []string{"OFFSYNC_HELPER_MODE=" + mode},
	}
}

func TestExecTransport_Echo(t *testing.T) {
	resp, err := helperTransport("echo").Send(context.Background(), NewRequest(testAction()))
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "users", resp.Data["entity_type"])
	assert.Equal(t, "TIMESTAMP", resp.Data["policy"])
	assert.Equal(t, ir.WireVersion, resp.Data["wire_version"])
}

func TestExecTransport_ResponseWinsOverExitStatus(t *testing.T) {
	resp, err := helperTransport("conflict-exit").Send(context.Background(), NewRequest(testAction()))
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, resp.Status)
}

func TestExecTransport_CrashIsRetryable(t *testing.T) {
	_, err := helperTransport("crash").Send(context.Background(), NewRequest(testAction()))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "database locked")
}

func TestExecTransport_GarbageIsRetryable(t *testing.T) {
	_, err := helperTransport("garbage").Send(context.Background(), NewRequest(testAction()))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestExecTransport_Timeout(t *testing.T) {
	tr := helperTransport("hang")
	tr.Timeout = 200 * time.Millisecond

	_, err := tr.Send(context.Background(), NewRequest(testAction()))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestExecTransport_MissingCommand(t *testing.T) {
	tr := &ExecTransport{Command: "offsync-command-that-does-not-exist"}
	_, err := tr.Send(context.Background(), NewRequest(testAction()))

	require.Error(t, err)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Retryable)
}

func TestHTTPTransport(t *testing.T) {
	var gotReq Request
	var gotHeader, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		gotVersion = r.Header.Get(WireVersionHeader)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)

		switch gotReq.EntityID {
		case "conflict":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(Response{Status: StatusConflict, Message: "server version is newer"})
		case "unavailable":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "bad":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "<html>nope</html>")
		default:
			json.NewEncoder(w).Encode(Response{Status: StatusSuccess, Operation: "update"})
		}
	}))
	defer srv.Close()

	tr := &HTTPTransport{Endpoint: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}}
	send := func(id string) (Response, error) {
		a := testAction()
		a.EntityID = id
		return tr.Send(context.Background(), NewRequest(a))
	}

	resp, err := send("user_1")
	require.NoError(t, err)
	assert.Equal(t, "update", resp.Operation)
	assert.Equal(t, "Bearer t", gotHeader)
	assert.Equal(t, ir.WireVersion, gotVersion)
	assert.Equal(t, ir.KindUpdate, gotReq.Kind)

	resp, err = send("conflict")
	require.NoError(t, err)
	assert.Equal(t, StatusConflict, resp.Status)

	_, err = send("unavailable")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	_, err = send("bad")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestHTTPTransport_ConnectionRefusedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := (&HTTPTransport{Endpoint: url}).Send(context.Background(), NewRequest(testAction()))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
