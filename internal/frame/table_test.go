package frame_test

import (
	"testing"
	"time"

	"github.com/amqpio/amqpio/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeDecodeTable(t *testing.T, in map[string]any) map[string]any {
	t.Helper()
	args, err := frame.NewBuilder().Table(in).Bytes()
	require.NoError(t, err)
	r := frame.NewReader(args)
	out := r.Table()
	require.NoError(t, r.Err())
	return out
}

func TestTableRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1735689600, 0)
	out := encodeDecodeTable(t, map[string]any{
		"bool":    true,
		"int8":    int8(-5),
		"int16":   int16(-500),
		"int32":   int32(-500000),
		"int64":   int64(1) << 40,
		"float32": float32(1.5),
		"float64": 2.25,
		"string":  "hello",
		"bytes":   []byte{0xDE, 0xAD},
		"time":    ts,
		"nil":     nil,
		"nested": map[string]any{
			"inner": "value",
		},
		"array": []any{int32(1), "two", false},
	})

	assert.Equal(t, true, out["bool"])
	assert.Equal(t, int8(-5), out["int8"])
	assert.Equal(t, int16(-500), out["int16"])
	assert.Equal(t, int32(-500000), out["int32"])
	assert.Equal(t, int64(1)<<40, out["int64"])
	assert.Equal(t, float32(1.5), out["float32"])
	assert.Equal(t, 2.25, out["float64"])
	assert.Equal(t, "hello", out["string"])
	assert.Equal(t, []byte{0xDE, 0xAD}, out["bytes"])
	assert.Equal(t, ts, out["time"])
	assert.Nil(t, out["nil"])
	assert.Equal(t, map[string]any{"inner": "value"}, out["nested"])
	assert.Equal(t, []any{int32(1), "two", false}, out["array"])
}

func TestTablePlainIntBecomesInt32(t *testing.T) {
	t.Parallel()

	out := encodeDecodeTable(t, map[string]any{"n": 42})
	assert.Equal(t, int32(42), out["n"])

	out = encodeDecodeTable(t, map[string]any{"n": int(1) << 40})
	assert.Equal(t, int64(1)<<40, out["n"])
}

func TestTableRejectsUnsupportedValueType(t *testing.T) {
	t.Parallel()

	type custom struct{ X int }
	_, err := frame.NewBuilder().Table(map[string]any{"bad": custom{X: 1}}).Bytes()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported field table value type")
}

func TestTableEmpty(t *testing.T) {
	t.Parallel()

	out := encodeDecodeTable(t, map[string]any{})
	assert.Empty(t, out)
}
