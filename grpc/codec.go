// Package statexfergrpc provides the gRPC transport for state
// transfer, serializing with the build's default codec.
//
// No protobuf code generation is required. Types from
// statexfer/types travel directly through codec.Default, either via
// cramberry struct tags or via their protowire methods.
package statexfergrpc

import (
	"google.golang.org/grpc/encoding"

	"github.com/blockberries/statexfer/codec"
)

// Codec adapts codec.Default to grpc/encoding.Codec.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) { return codec.Default.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return codec.Default.Unmarshal(data, v) }

func (Codec) Name() string { return codec.Default.Name() }

func init() {
	encoding.RegisterCodec(Codec{})
}
