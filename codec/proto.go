package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Proto encodes protobuf messages. newMsg returns an empty message to decode
// into, e.g. func() *pb.Settings { return &pb.Settings{} }.
type Proto[M proto.Message] struct {
	newMsg func() M
}

func NewProto[M proto.Message](newMsg func() M) Proto[M] {
	return Proto[M]{newMsg: newMsg}
}

func (c Proto[M]) Encode(m M) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

func (c Proto[M]) Decode(b []byte) (M, error) {
	if c.newMsg == nil {
		var zero M
		return zero, errors.New("codec: Proto built without a message constructor")
	}
	m := c.newMsg()
	return m, proto.Unmarshal(b, m)
}
