package serializer

import (
	"bytes"
	"encoding/gob"
)

// NewGob creates a serializer using Go's binary gob format.
func NewGob() Serializer {
	return &gobSerializer{}
}

type gobSerializer struct{}

func (gobSerializer) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobSerializer) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
