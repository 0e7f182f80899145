package serializer

import "fmt"

// NewRaw creates a pass-through serializer for pre-encoded payloads.
// Encode accepts []byte or string; Decode requires a *[]byte target.
func NewRaw() Serializer {
	return &rawSerializer{}
}

type rawSerializer struct{}

func (rawSerializer) Encode(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("raw serializer: unsupported payload type %T", v)
	}
}

func (rawSerializer) Decode(data []byte, v any) error {
	target, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw serializer: decode target must be *[]byte, got %T", v)
	}
	*target = data
	return nil
}
