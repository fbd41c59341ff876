package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(`{"name":"Ada","id":9007199254740993,"score":1.5}`))
	require.NoError(t, err)

	assert.Equal(t, "Ada", p["name"])
	assert.Equal(t, json.Number("9007199254740993"), p["id"])
	assert.Equal(t, json.Number("1.5"), p["score"])
}

func TestParsePayloadRejects(t *testing.T) {
	for _, in := range []string{``, `null`, `[1,2]`, `"x"`, `{"a":1} {"b":2}`, `{"a":`} {
		_, err := ParsePayload([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	in := Action{ID: "a1", Kind: KindUpdate, Payload: Payload{"n": json.Number("12345678901234567890")}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Action
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Payload, out.Payload)
}

func TestPayloadMerge(t *testing.T) {
	base := Payload{"name": "Ada", "email": "ada@example.com"}
	merged := base.Merge(Payload{"name": "Ada L."})

	assert.Equal(t, "Ada L.", merged["name"])
	assert.Equal(t, "ada@example.com", merged["email"])
	assert.Equal(t, "Ada", base["name"])
}

func TestSyncReportRecord(t *testing.T) {
	r := NewSyncReport(3)
	r.Record(Success("create", nil))
	r.Record(Conflict("server version is newer", nil))
	r.Record(Failure("bad payload", ErrorKindTerminal))

	assert.Equal(t, 1, r.Successful)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, 1, r.Conflicts)
	assert.Equal(t, 3, r.Processed())
}

func TestEmptyReportMarshalsDetailsAsArray(t *testing.T) {
	data, err := json.Marshal(NewSyncReport(0))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"details":[]`)
}
