package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is wrapped by Limit when a payload exceeds its bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit guards Decode of an inner codec by payload size. Stored bytes can come
// from a shared store, so the size check runs before Inner sees them.
// MaxDecode <= 0 disables the check. Encode is not limited.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
