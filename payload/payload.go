// Package payload encodes the small key/value maps the example publishers
// send, using MessagePack.
package payload

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

var (
	ErrDuplicateKey = errors.New("duplicate key in payload map")
	ErrNotAMap      = errors.New("payload is not a map")
)

// Keys of the status map composed by StatusMessage.
const (
	KeyTime = "time"
	KeyText = "text"
)

// Pair is one map entry.
type Pair struct {
	Key   string
	Value any
}

func handle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	h.Canonical = true
	return h
}

// EncodeMap encodes pairs as a MessagePack map.
func EncodeMap(pairs []Pair) ([]byte, error) {
	m := make(map[string]any, len(pairs))
	for _, p := range pairs {
		if _, dup := m[p.Key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, p.Key)
		}
		m[p.Key] = p.Value
	}

	var out []byte
	if err := codec.NewEncoderBytes(&out, handle()).Encode(m); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

// DecodeMap decodes a MessagePack map. Pairs are returned sorted by key.
func DecodeMap(data []byte) ([]Pair, error) {
	var v any
	if err := codec.NewDecoderBytes(data, handle()).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	pairs, ok := toPairs(v)
	if !ok {
		return nil, ErrNotAMap
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}

func toPairs(v any) ([]Pair, bool) {
	switch m := v.(type) {
	case map[string]any:
		pairs := make([]Pair, 0, len(m))
		for k, val := range m {
			pairs = append(pairs, Pair{Key: k, Value: val})
		}
		return pairs, true
	case map[any]any:
		pairs := make([]Pair, 0, len(m))
		for k, val := range m {
			pairs = append(pairs, Pair{Key: FormatValue(k), Value: val})
		}
		return pairs, true
	}
	return nil, false
}

// StatusMessage composes {"time": seconds since epoch, "text": text}.
func StatusMessage(now time.Time, text string) ([]byte, error) {
	return EncodeMap([]Pair{
		{Key: KeyTime, Value: float64(now.UnixMicro()) / 1e6},
		{Key: KeyText, Value: text},
	})
}

// FormatValue renders a decoded value for printing.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}
