package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "offsync.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue_file: /var/lib/offsync/queue.db
conflict_resolution: server-wins
batch_size: 4
respect_entity_order: false
retry:
  max_retries: 5
  base_delay: 250ms
  max_delay: 5s
  jitter_factor: 0.2
remote:
  transport: http
  endpoint: http://localhost:8080/actions
  timeout: 3s
  headers:
    Authorization: Bearer x
tracing:
  exporter: stdout
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/offsync/queue.db", cfg.QueueFile)
	assert.Equal(t, ir.PolicyServerWins, cfg.Policy())
	assert.Equal(t, ir.PolicyForceDelete, cfg.DeleteDefault())
	assert.Equal(t, 4, cfg.BatchSize)
	assert.False(t, cfg.RespectEntityOrder)
	assert.Equal(t, remote.RetryPolicy{
		MaxRetries:   5,
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.2,
	}, cfg.RetryPolicy())
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)

	tr, err := cfg.Transport()
	require.NoError(t, err)
	h, ok := tr.(*remote.HTTPTransport)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080/actions", h.Endpoint)
	assert.Equal(t, 3*time.Second, h.Client.Timeout)
	assert.Equal(t, "Bearer x", h.Headers["Authorization"])
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("batch_sise: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_sise")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero batch", "batch_size: 0\n", "batch_size"},
		{"unknown policy", "conflict_resolution: newest\n", "conflict_resolution"},
		{"unknown delete policy", "delete_policy: maybe\n", "delete_policy"},
		{"negative retries", "retry:\n  max_retries: -1\n", "retry.max_retries"},
		{"negative delay", "retry:\n  base_delay: -1s\n", "retry.base_delay"},
		{"jitter above one", "retry:\n  jitter_factor: 1.5\n", "retry.jitter_factor"},
		{"unknown transport", "remote:\n  transport: grpc\n", "remote.transport"},
		{"http without endpoint", "remote:\n  transport: http\n", "remote.endpoint"},
		{"exec without command", "remote:\n  command: \"\"\n", "remote.command"},
		{"unknown exporter", "tracing:\n  exporter: jaeger\n", "tracing.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, ir.IsValidation(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestTransport_Exec(t *testing.T) {
	cfg := Default()
	cfg.Remote.Args = []string{"mock-server", "--db", "r.db"}

	tr, err := cfg.Transport()
	require.NoError(t, err)
	e, ok := tr.(*remote.ExecTransport)
	require.True(t, ok)
	assert.Equal(t, "offsync", e.Command)
	assert.Equal(t, []string{"mock-server", "--db", "r.db"}, e.Args)
	assert.Equal(t, 30*time.Second, e.Timeout)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Remote.LegacyMessageClassification = true

	assert.Len(t, cfg.ClientOptions(), 2)
	assert.Len(t, cfg.EngineOptions(), 3)
}

func TestPolicy_EmptyFallsBack(t *testing.T) {
	cfg := Default()
	cfg.ConflictResolution = ""
	cfg.DeletePolicy = ""
	assert.Equal(t, ir.PolicyTimestamp, cfg.Policy())
	assert.Equal(t, ir.PolicyForceDelete, cfg.DeleteDefault())
}
