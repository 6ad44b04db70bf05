package codec

import (
	"fmt"
)

// ProtoMessage is implemented by every type the schema-based backend
// can carry. The methods play the role of generated code.
type ProtoMessage interface {
	AppendProto(b []byte) []byte
	UnmarshalProto(b []byte) error
}

// Protowire encodes values through their ProtoMessage methods.
type Protowire struct{}

func (Protowire) Marshal(v any) ([]byte, error) {
	m, ok := v.(ProtoMessage)
	if !ok {
		return nil, marshalError(fmt.Errorf("%T does not implement ProtoMessage", v))
	}
	return m.AppendProto(nil), nil
}

func (Protowire) Unmarshal(data []byte, v any) error {
	m, ok := v.(ProtoMessage)
	if !ok {
		return unmarshalError(fmt.Errorf("%T does not implement ProtoMessage", v))
	}
	if err := m.UnmarshalProto(data); err != nil {
		return unmarshalError(err)
	}
	return nil
}

func (Protowire) Name() string { return "protowire" }
