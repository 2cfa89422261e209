// Package codec provides pluggable value serialization for the cache: a
// Codec[V] turns caller values into the bytes stored (and sized) by the
// persistent tier. The encoded length also serves as the approximate entry
// size for the memory tier's byte budget.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
