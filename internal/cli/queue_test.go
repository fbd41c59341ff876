package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

// decodeData unmarshals a JSON success envelope's data into v.
func decodeData(t *testing.T, stdout string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, stdout)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestCreate_Text(t *testing.T) {
	env := newEnv(t)

	stdout, _, code := env.run("create", "users", "--data", `{"id":"user_2","name":"Ann"}`)

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Queued CREATE users as act-001\n", stdout)
}

func TestUpdate_JSON(t *testing.T) {
	env := newEnv(t)

	stdout, _, code := env.run("--format", "json", "update", "users", "user_1",
		"-d", `{"name":"Jane"}`, "-p", "server-wins", "--client-version", "3")
	require.Equal(t, ExitSuccess, code)

	var a ir.Action
	decodeData(t, stdout, &a)
	assert.Equal(t, "act-001", a.ID)
	assert.Equal(t, ir.KindUpdate, a.Kind)
	assert.Equal(t, "user_1", a.EntityID)
	assert.Equal(t, ir.PolicyServerWins, a.ConflictPolicy)
	assert.Equal(t, ir.StatusPending, a.Status)
	require.NotNil(t, a.ClientVersion)
	assert.Equal(t, int64(3), *a.ClientVersion)
	assert.Equal(t, "Jane", a.Payload["name"])
}

func TestDelete_UsesConfiguredDeletePolicy(t *testing.T) {
	env := newEnv(t)

	stdout, _, code := env.run("delete", "users", "ghost")

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Queued DELETE users/ghost as act-001 (FORCE_DELETE)\n", stdout)
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad json", []string{"create", "users", "--data", "{nope"}},
		{"non-object payload", []string{"create", "users", "--data", `[1,2]`}},
		{"unknown policy", []string{"update", "users", "u1", "--data", `{"a":1}`, "--policy", "newest"}},
		{"delete with no id", []string{"delete", "users", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)

			stdout, _, code := env.run(append([]string{"--format", "json"}, tt.args...)...)

			assert.Equal(t, ExitCommandError, code)
			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(ir.CodeValidation), resp.Error.Code)
		})
	}
}

func TestList_EmptyAndFiltered(t *testing.T) {
	env := newEnv(t)

	stdout, _, code := env.run("list")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Queue is empty.\n", stdout)

	_, _, code = env.run("create", "users", "--data", `{"id":"u2"}`)
	require.Equal(t, ExitSuccess, code)
	_, _, code = env.run("update", "posts", "p1", "--data", `{"title":"x"}`)
	require.Equal(t, ExitSuccess, code)

	stdout, _, code = env.run("list")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "act-001")
	assert.Contains(t, stdout, "posts/p1")

	stdout, _, code = env.run("--format", "json", "list", "--entity", "posts")
	require.Equal(t, ExitSuccess, code)
	var actions []ir.Action
	decodeData(t, stdout, &actions)
	require.Len(t, actions, 1)
	assert.Equal(t, "act-002", actions[0].ID)
}

func TestStatus(t *testing.T) {
	env := newEnv(t)
	_, _, code := env.run("delete", "users", "u1")
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := env.run("status")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Actions: 1 total, 1 pending, 0 syncing, 0 completed, 0 failed")
	assert.Contains(t, stdout, "users/u1")

	stdout, _, code = env.run("--format", "json", "status")
	require.Equal(t, ExitSuccess, code)
	var result StatusResult
	decodeData(t, stdout, &result)
	assert.Equal(t, 1, result.Counts.Pending)
	require.Len(t, result.Pending, 1)
	assert.Equal(t, "act-001", result.Pending[0].ID)
}

func TestRemoveAndClear(t *testing.T) {
	env := newEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		_, _, code := env.run("delete", "users", id)
		require.Equal(t, ExitSuccess, code)
	}

	stdout, _, code := env.run("remove", "act-002")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Removed act-002\n", stdout)

	stdout, _, code = env.run("remove", "act-002")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "No action act-002\n", stdout)

	stdout, _, code = env.run("--format", "json", "clear")
	require.Equal(t, ExitSuccess, code)
	var cleared map[string]int
	decodeData(t, stdout, &cleared)
	assert.Equal(t, 2, cleared["removed"])

	stdout, _, code = env.run("list")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Queue is empty.\n", stdout)
}

func TestRecover_NothingStuck(t *testing.T) {
	env := newEnv(t)

	stdout, _, code := env.run("recover")

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Recovered 0 action(s)\n", stdout)
}
