// Package divisible defines the contract for states split into
// independently addressable, hashable and transferable parts, the
// envelopes that move those parts, and an Assembler implementing the
// acceptance rules every implementation must follow.
package divisible

import (
	"context"
	"errors"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/types"
)

// ErrNoTransfer is returned when parts arrive before BeginTransfer.
var ErrNoTransfer = errors.New("divisible: no transfer in progress")

// Reader is the read side of a divisible state. Readers must not
// overlap an in-progress AcceptParts or FinalizeTransfer; the install
// Driver enforces this.
type Reader interface {
	// Descriptor returns the descriptor of the committed state. It does
	// not block on mutation and returns nil before the first
	// checkpoint. The result is shared and read-only.
	Descriptor() *types.StateDescriptor

	// Parts returns the parts needed to reconstruct the committed
	// state, for serving other replicas.
	Parts(ctx context.Context) ([]types.StatePart, error)

	// SeqNo returns the sequence number of the committed state. It
	// fails with statexfer.ErrStateUnavailable before initialization.
	SeqNo() (types.SeqNo, error)
}

// State is a divisible state owned by a single writer.
//
// The writer calls BeginTransfer once per transfer, AcceptParts any
// number of times, then FinalizeTransfer. Until FinalizeTransfer
// succeeds, the Reader methods keep reporting the previously committed
// state.
type State interface {
	Reader

	// BeginTransfer fixes the descriptor the following parts must
	// satisfy. Parts the state already holds under an identical
	// description count as accepted, so a sender only needs to ship
	// target.Diff(Descriptor()). Calling it again discards the previous
	// transfer.
	BeginTransfer(target *types.StateDescriptor) error

	// AcceptParts verifies and stores parts. Invalid parts are skipped
	// while valid ones in the same batch are kept; every rejection is
	// reported in the returned error. Accepting an identical part
	// twice is a no-op.
	AcceptParts(ctx context.Context, parts []types.StatePart) error

	// FinalizeTransfer checks that every part of the target was
	// accepted and makes the new state current. It fails with
	// statexfer.ErrIncompleteState otherwise and leaves the committed
	// state untouched.
	FinalizeTransfer(ctx context.Context) error
}

// VerifyPart checks that p's digest is the digest of its bytes and
// matches the content committed in its own description.
func VerifyPart(p *types.StatePart) error {
	if !p.HashValid() {
		return statexfer.NewVerificationError(p, "digest does not match bytes")
	}
	if !p.MatchesDescription() {
		return statexfer.NewVerificationError(p, "digest does not match content description")
	}
	return nil
}
