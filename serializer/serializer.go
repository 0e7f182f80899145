// Package serializer defines the payload codec capability consumed by the
// protocol writer. The client treats serializers as opaque: any type that can
// turn a value into bytes and back can carry payloads.
package serializer

// Serializer encodes and decodes message payloads.
type Serializer interface {
	// Encode serializes a value into a byte slice.
	Encode(v any) ([]byte, error)
	// Decode deserializes a byte slice into the value pointed to by v.
	Decode(data []byte, v any) error
}
