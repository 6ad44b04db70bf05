// Package monolithic defines the contract for states transferred as a
// single opaque value, the envelopes that carry them and the digest
// used to compare them across replicas.
package monolithic

import (
	"bytes"
	"errors"
	"io"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/types"
)

// State is a value transferred whole.
//
// Serialization must be deterministic and lossless: deserializing the
// output of SerializeState must yield a value that serializes to the
// same bytes. The state digest is computed over these bytes, so any
// nondeterminism makes replicas disagree.
type State interface {
	// SerializeState writes the state to w.
	SerializeState(w io.Writer) error

	// DeserializeState replaces the receiver with the state read from r.
	DeserializeState(r io.Reader) error

	// Size is a capacity hint for the serialized form. It is not
	// required to be exact.
	Size() int
}

// AppStateMessage is emitted by the checkpointing side.
type AppStateMessage[S State] struct {
	seq   types.SeqNo
	state S
}

// NewAppStateMessage pairs a state with the checkpoint it was taken at.
func NewAppStateMessage[S State](seq types.SeqNo, state S) AppStateMessage[S] {
	return AppStateMessage[S]{seq: seq, state: state}
}

// SequenceNumber implements statexfer.Orderable.
func (m AppStateMessage[S]) SequenceNumber() types.SeqNo { return m.seq }

// State returns the carried state.
func (m AppStateMessage[S]) State() S { return m.state }

// IntoState returns the pair the message was built from.
func (m AppStateMessage[S]) IntoState() (types.SeqNo, S) { return m.seq, m.state }

// InstallStateMessage carries a state to the installing side.
type InstallStateMessage[S State] struct {
	seq   types.SeqNo
	state S
}

// NewInstallStateMessage builds an install message.
func NewInstallStateMessage[S State](seq types.SeqNo, state S) InstallStateMessage[S] {
	return InstallStateMessage[S]{seq: seq, state: state}
}

// SequenceNumber implements statexfer.Orderable.
func (m InstallStateMessage[S]) SequenceNumber() types.SeqNo { return m.seq }

// State returns the carried state.
func (m InstallStateMessage[S]) State() S { return m.state }

// IntoState returns the pair the message was built from.
func (m InstallStateMessage[S]) IntoState() (types.SeqNo, S) { return m.seq, m.state }

// SerializeState serializes s into a buffer pre-sized from s.Size().
func SerializeState(s State) ([]byte, error) {
	var buf bytes.Buffer
	if hint := s.Size(); hint > 0 {
		buf.Grow(hint)
	}
	if err := s.SerializeState(&buf); err != nil {
		return nil, asSerializationError("marshal", err)
	}
	return buf.Bytes(), nil
}

// DeserializeState decodes data into the given state.
func DeserializeState(data []byte, into State) error {
	if err := into.DeserializeState(bytes.NewReader(data)); err != nil {
		return asSerializationError("unmarshal", err)
	}
	return nil
}

// DigestState serializes s and returns the digest of the bytes.
func DigestState(s State) (types.Digest, error) {
	data, err := SerializeState(s)
	if err != nil {
		return types.Digest{}, err
	}
	h := types.NewHasher()
	h.Update(data)
	return h.Finish(), nil
}

func asSerializationError(op string, err error) error {
	if errors.Is(err, statexfer.ErrSerialization) {
		return err
	}
	return &statexfer.SerializationError{Op: op, Err: err}
}
