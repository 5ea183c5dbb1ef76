package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMessage(t *testing.T) {
	now := time.Unix(1700000000, 500_000_000)

	data, err := StatusMessage(now, "hello")
	require.NoError(t, err)

	pairs, err := DecodeMap(data)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Equal(t, KeyText, pairs[0].Key)
	assert.Equal(t, "hello", pairs[0].Value)
	assert.Equal(t, KeyTime, pairs[1].Key)
	assert.InDelta(t, 1700000000.5, pairs[1].Value, 1e-6)
}

func TestEncodeMap(t *testing.T) {
	t.Run("canonical output", func(t *testing.T) {
		a, err := EncodeMap([]Pair{{Key: "b", Value: 2}, {Key: "a", Value: "x"}})
		require.NoError(t, err)
		b, err := EncodeMap([]Pair{{Key: "a", Value: "x"}, {Key: "b", Value: 2}})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("duplicate key", func(t *testing.T) {
		_, err := EncodeMap([]Pair{{Key: "k", Value: 1}, {Key: "k", Value: 2}})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("empty", func(t *testing.T) {
		data, err := EncodeMap(nil)
		require.NoError(t, err)

		pairs, err := DecodeMap(data)
		require.NoError(t, err)
		assert.Empty(t, pairs)
	})
}

func TestDecodeMapSortsKeys(t *testing.T) {
	data, err := EncodeMap([]Pair{
		{Key: "zeta", Value: true},
		{Key: "alpha", Value: 1.25},
		{Key: "mid", Value: "m"},
	})
	require.NoError(t, err)

	pairs, err := DecodeMap(data)
	require.NoError(t, err)

	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
	assert.Equal(t, "1.25", FormatValue(pairs[0].Value))
	assert.Equal(t, "m", FormatValue(pairs[1].Value))
	assert.Equal(t, "true", FormatValue(pairs[2].Value))
}

func TestDecodeMapErrors(t *testing.T) {
	_, err := DecodeMap([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotAMap)

	_, err = DecodeMap(nil)
	assert.Error(t, err)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"text", "text"},
		{[]byte("raw"), "raw"},
		{1700000000.5, "1700000000.5"},
		{float32(0.5), "0.5"},
		{false, "false"},
		{int64(-3), "-3"},
		{uint64(7), "7"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}
