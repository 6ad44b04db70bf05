// Package codec is the serialization boundary of statexfer.
//
// Two backends exist. Cramberry is schema-free: any struct with
// cramberry tags encodes deterministically. Protowire is schema-based:
// only values implementing ProtoMessage, with fixed field numbers,
// can be encoded. Exactly one of them is the Default for a build,
// chosen with the "protowire" build tag.
package codec

import (
	statexfer "github.com/blockberries/statexfer"
)

// Codec encodes and decodes wire values. Its method set matches
// google.golang.org/grpc/encoding.Codec so a Codec can be registered
// with gRPC directly.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Marshal encodes v with the Default codec.
func Marshal(v any) ([]byte, error) {
	return Default.Marshal(v)
}

// Unmarshal decodes data into v with the Default codec.
func Unmarshal(data []byte, v any) error {
	return Default.Unmarshal(data, v)
}

func marshalError(err error) error {
	return &statexfer.SerializationError{Op: "marshal", Err: err}
}

func unmarshalError(err error) error {
	return &statexfer.SerializationError{Op: "unmarshal", Err: err}
}
