package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack is the default ValueCodec: a compact, schema-less round trip of
// arbitrary in-memory values, sufficient for the numbers, strings, slices,
// and maps that flow through task outputs.
type Msgpack struct{}

// NewMsgpack constructs the default msgpack-backed ValueCodec.
func NewMsgpack() Msgpack { return Msgpack{} }

func (Msgpack) Tag() string { return "msgpack/v5" }

func (Msgpack) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack) Decode(data []byte) (any, error) {
	var out any
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
