// Package codec converts values to and from bytes for the stores in
// package source. Every codec here is stateless after construction and
// safe for concurrent use.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
