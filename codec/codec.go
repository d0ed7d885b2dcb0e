// Package codec converts cached values to and from bytes.
//
// The engine encodes every value once per Set: the encoded length is the
// entry size used for capacity accounting and the bytes feed the checksum.
// Provider-backed tiers store the same bytes inside their wire envelope.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
