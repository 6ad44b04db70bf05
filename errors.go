package statexfer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blockberries/statexfer/types"
)

// Error kinds. Every error returned by this module matches exactly one
// of these with errors.Is.
var (
	// ErrPartVerificationFailed: a part's digest does not match its
	// bytes or its committed content description. Recoverable; the
	// part may be requested again.
	ErrPartVerificationFailed = errors.New("part verification failed")

	// ErrSequenceMismatch: a part, descriptor or state carries a
	// sequence number inconsistent with the transfer target.
	ErrSequenceMismatch = errors.New("sequence number mismatch")

	// ErrIncompleteState: finalization was attempted before every
	// required part was accepted.
	ErrIncompleteState = errors.New("incomplete state")

	// ErrSerialization: the active codec failed to encode or decode.
	ErrSerialization = errors.New("serialization failure")

	// ErrStateUnavailable: the state is not initialized or its storage
	// could not be read.
	ErrStateUnavailable = errors.New("state unavailable")

	// ErrDigestMismatch: an installed monolithic state does not hash
	// to the expected digest.
	ErrDigestMismatch = errors.New("state digest mismatch")
)

// PartError reports why a single part was rejected.
type PartError struct {
	ID     []byte
	Seq    types.SeqNo
	Kind   error // ErrPartVerificationFailed or ErrSequenceMismatch
	Reason string
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %x at %d: %v: %s", e.ID, e.Seq, e.Kind, e.Reason)
}

func (e *PartError) Unwrap() error { return e.Kind }

// NewVerificationError creates a PartError of kind ErrPartVerificationFailed.
func NewVerificationError(p *types.StatePart, reason string) *PartError {
	return &PartError{ID: p.ID(), Seq: p.Description.Seq, Kind: ErrPartVerificationFailed, Reason: reason}
}

// NewSequenceError creates a PartError of kind ErrSequenceMismatch.
func NewSequenceError(p *types.StatePart, want types.SeqNo) *PartError {
	return &PartError{
		ID:     p.ID(),
		Seq:    p.Description.Seq,
		Kind:   ErrSequenceMismatch,
		Reason: fmt.Sprintf("target expects %d", want),
	}
}

// IsPartError checks whether err is or wraps a PartError and returns
// the first one found.
func IsPartError(err error) (*PartError, bool) {
	var p *PartError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// IncompleteStateError lists the parts still missing at finalization.
type IncompleteStateError struct {
	Seq     types.SeqNo
	Missing [][]byte
}

func (e *IncompleteStateError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = fmt.Sprintf("%x", id)
	}
	return fmt.Sprintf("%v at %d: %d part(s) missing [%s]",
		ErrIncompleteState, e.Seq, len(e.Missing), strings.Join(ids, " "))
}

func (e *IncompleteStateError) Unwrap() error { return ErrIncompleteState }

// SerializationError wraps a codec failure. The codec's own error is
// preserved and reachable through errors.Is/As.
type SerializationError struct {
	Op  string // "marshal" or "unmarshal"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSerialization, e.Op, e.Err)
}

func (e *SerializationError) Unwrap() []error { return []error{ErrSerialization, e.Err} }

// DescriptorError reports a malformed target descriptor. It matches
// ErrPartVerificationFailed and the types validation error.
type DescriptorError struct {
	Seq types.SeqNo
	Err error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("%v: target descriptor at %d: %v", ErrPartVerificationFailed, e.Seq, e.Err)
}

func (e *DescriptorError) Unwrap() []error { return []error{ErrPartVerificationFailed, e.Err} }

// StateUnavailableError reports why the state could not be read.
type StateUnavailableError struct {
	Reason string
	Err    error
}

func (e *StateUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrStateUnavailable, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrStateUnavailable, e.Reason)
}

func (e *StateUnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStateUnavailable}
	}
	return []error{ErrStateUnavailable, e.Err}
}

// NewStateUnavailable creates a StateUnavailableError.
func NewStateUnavailable(reason string, err error) *StateUnavailableError {
	return &StateUnavailableError{Reason: reason, Err: err}
}
