// Package statexfer defines the data model and contracts used to move
// a replica's application state between nodes during checkpointing,
// recovery and onboarding of new replicas.
//
// Two state representations are supported. A monolithic state (package
// monolithic) is one deterministically serializable value. A divisible
// state (package divisible) is split into parts that are addressed,
// hashed and transferred independently, described by a
// types.StateDescriptor.
//
// This package holds the error taxonomy shared by both families and
// the Source contract implemented by the transports.
package statexfer

import (
	"context"

	"github.com/blockberries/statexfer/types"
)

// Orderable is implemented by every value tied to a point in the
// replicated log.
type Orderable interface {
	SequenceNumber() types.SeqNo
}

// Source serves the committed state of one remote or local replica.
// Both the gRPC client and the in-process adapter implement it.
//
// A Source does not select peers and does not retry; failures are
// returned to the caller.
type Source interface {
	// Descriptor returns the descriptor of the source's committed
	// checkpoint. The returned value must be treated as read-only.
	Descriptor(ctx context.Context) (*types.StateDescriptor, error)

	// FetchParts returns the parts with the given ids from the
	// source's committed checkpoint. Ids the source does not hold are
	// omitted from the result.
	FetchParts(ctx context.Context, ids [][]byte) ([]types.StatePart, error)
}
