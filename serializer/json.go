package serializer

import "encoding/json"

// NewJSON creates a serializer using JSON encoding.
func NewJSON() Serializer {
	return &jsonSerializer{}
}

type jsonSerializer struct{}

func (jsonSerializer) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
