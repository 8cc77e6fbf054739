// Package wire frames a stored slot value so that foreign or truncated bytes
// in a shared store are detected instead of being decoded as a value.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("slotcache: corrupt stored frame")
	magic4     = [...]byte{'S', 'L', 'O', 'T'}
)

// Encode lays out: magic(4) | ver(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
func Encode(gen uint64, payload []byte) []byte {
	b := make([]byte, hdrLen, hdrLen+len(payload))
	copy(b, magic4[:])
	b[4] = version
	binary.BigEndian.PutUint64(b[5:13], gen)
	binary.BigEndian.PutUint32(b[13:17], uint32(len(payload)))
	return append(b, payload...)
}

// Decode validates a frame and returns its generation and payload. The
// payload aliases b. Frames with trailing bytes are rejected.
func Decode(b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return 0, nil, ErrCorrupt
	}
	gen = binary.BigEndian.Uint64(b[5:13])
	vlen := uint64(binary.BigEndian.Uint32(b[13:17]))
	if vlen != uint64(len(b)-hdrLen) {
		return 0, nil, ErrCorrupt
	}
	return gen, b[hdrLen:], nil
}
