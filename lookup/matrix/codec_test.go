package matrix

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
)

func TestMatrix_MsgpackRoundTrip(t *testing.T) {
	m := newSessions(t)
	for i := 0; i < 10; i++ {
		row, _ := m.AddRow(fmt.Sprintf("session-%d", i))
		require.NoError(t, m.SetRecord(row, map[string]any{
			"start":   i * 100,
			"end":     i*100 + 50,
			"country": []byte("US"),
			"user":    fmt.Sprintf("user-%d", i),
			"score":   float32(i) / 4,
			"vec":     []float32{float32(i), 0, -1},
		}))
	}
	require.NoError(t, m.StorageSet(3, "extra"))
	require.NoError(t, m.CloseRow(4))
	require.NoError(t, m.CloseRow(7))

	data, err := msgpack.Marshal(m)
	require.NoError(t, err)

	var decoded Matrix
	require.NoError(t, msgpack.Unmarshal(data, &decoded))

	assert.True(t, m.Equal(&decoded))
	assert.Equal(t, m.OpenRows(), decoded.OpenRows())
	assert.Equal(t, m.Version(), decoded.Version())
	assert.Equal(t, m.Generation(), decoded.Generation())
	assert.True(t, decoded.ClosedRows().Contains(4))

	for _, row := range m.OpenRows() {
		want, err := m.Record(row)
		require.NoError(t, err)
		got, err := decoded.Record(row)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	storage, ok := decoded.StorageGet(3)
	assert.True(t, ok)
	assert.Equal(t, "extra", storage)

	// Compaction after decode behaves like compaction before it.
	require.NoError(t, m.Rebuild(RebuildPartial))
	require.NoError(t, decoded.Rebuild(RebuildPartial))
	assert.True(t, m.Equal(&decoded))
}

func TestMatrix_StorageDecodesNormalized(t *testing.T) {
	m := newSessions(t)
	for i := 0; i < 8; i++ {
		_, err := m.AddRow(fmt.Sprintf("row-%d", i))
		require.NoError(t, err)
	}
	values := []struct {
		in   any
		want any
	}{
		{7, int64(7)},
		{int8(-3), int64(-3)},
		{uint8(200), uint64(200)},
		{float32(1.5), float64(1.5)},
		{[]byte("raw"), "raw"},
		{"text", "text"},
		{[]int{1, 2}, []any{int64(1), int64(2)}},
		{map[string]any{"n": 1, "tags": []string{"a"}}, map[string]any{"n": int64(1), "tags": []any{"a"}}},
	}
	for row, v := range values {
		require.NoError(t, m.StorageSet(row, v.in))
	}

	data, err := msgpack.Marshal(m)
	require.NoError(t, err)
	var decoded Matrix
	require.NoError(t, msgpack.Unmarshal(data, &decoded))

	for row, v := range values {
		got, ok := decoded.StorageGet(row)
		require.True(t, ok, "row %d", row)
		assert.Equal(t, v.want, got, "row %d: %T", row, v.in)
	}

	again, err := msgpack.Marshal(&decoded)
	require.NoError(t, err)
	var twice Matrix
	require.NoError(t, msgpack.Unmarshal(again, &twice))
	for row := range values {
		first, _ := decoded.StorageGet(row)
		second, _ := twice.StorageGet(row)
		assert.Equal(t, first, second, "normalized values are stable")
	}
}

func TestMatrix_UnmarshalInvalid(t *testing.T) {
	m := newSessions(t)
	row, _ := m.AddRow("keep")
	require.NoError(t, m.Set(row, "user", "still here"))

	err := m.UnmarshalMsgpack([]byte{0xc1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	bad, err := msgpack.Marshal(&document{
		Columns: []Column{{Name: "x", Kind: Int32}},
		Rows:    2,
		Data:    []msgpack.RawMessage{mustMarshal(t, []int32{1})},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, m.UnmarshalMsgpack(bad), errors.ErrParsingFailed)

	user, err := m.Get(row, "user")
	require.NoError(t, err)
	assert.Equal(t, "still here", user, "failed decode leaves the matrix untouched")
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return data
}
