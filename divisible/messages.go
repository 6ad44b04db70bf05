package divisible

import (
	"fmt"

	"github.com/blockberries/statexfer/types"
)

// AppStateKind tags the payload of an AppState.
type AppStateKind uint8

const (
	// AppStateDescriptor carries the checkpoint's descriptor.
	AppStateDescriptor AppStateKind = iota + 1
	// AppStateParts carries a batch of parts.
	AppStateParts
	// AppStateDone ends the checkpoint's stream.
	AppStateDone
)

func (k AppStateKind) String() string {
	switch k {
	case AppStateDescriptor:
		return "Descriptor"
	case AppStateParts:
		return "Parts"
	case AppStateDone:
		return "Done"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// AppState is the payload emitted by the checkpointing side.
type AppState struct {
	kind       AppStateKind
	descriptor *types.StateDescriptor
	parts      types.MaybeVec[types.StatePart]
}

// DescriptorState wraps a descriptor.
func DescriptorState(d *types.StateDescriptor) AppState {
	return AppState{kind: AppStateDescriptor, descriptor: d}
}

// PartsState wraps a batch of parts.
func PartsState(parts types.MaybeVec[types.StatePart]) AppState {
	return AppState{kind: AppStateParts, parts: parts}
}

// DoneState ends a checkpoint stream.
func DoneState() AppState {
	return AppState{kind: AppStateDone}
}

// Kind returns the payload tag.
func (s AppState) Kind() AppStateKind { return s.kind }

// Descriptor returns the descriptor for AppStateDescriptor payloads.
func (s AppState) Descriptor() (*types.StateDescriptor, bool) {
	return s.descriptor, s.kind == AppStateDescriptor
}

// Parts returns the batch for AppStateParts payloads.
func (s AppState) Parts() (types.MaybeVec[types.StatePart], bool) {
	return s.parts, s.kind == AppStateParts
}

// AppStateMessage tags an AppState with the checkpoint it belongs to.
type AppStateMessage struct {
	seq   types.SeqNo
	state AppState
}

// NewAppStateMessage builds a checkpoint message.
func NewAppStateMessage(seq types.SeqNo, state AppState) AppStateMessage {
	return AppStateMessage{seq: seq, state: state}
}

// SequenceNumber implements statexfer.Orderable.
func (m AppStateMessage) SequenceNumber() types.SeqNo { return m.seq }

// State returns the payload.
func (m AppStateMessage) State() AppState { return m.state }

// IntoState returns the pair the message was built from.
func (m AppStateMessage) IntoState() (types.SeqNo, AppState) { return m.seq, m.state }

// InstallKind tags an InstallStateMessage.
type InstallKind uint8

const (
	// InstallStatePart carries a batch of parts.
	InstallStatePart InstallKind = iota + 1
	// InstallDone signals no more parts are coming for this transfer;
	// the receiver finalizes and resumes normal processing.
	InstallDone
)

func (k InstallKind) String() string {
	switch k {
	case InstallStatePart:
		return "StatePart"
	case InstallDone:
		return "Done"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// InstallStateMessage is consumed by whatever drives the install loop.
type InstallStateMessage struct {
	kind  InstallKind
	parts types.MaybeVec[types.StatePart]
}

// InstallParts wraps a batch of parts.
func InstallParts(parts types.MaybeVec[types.StatePart]) InstallStateMessage {
	return InstallStateMessage{kind: InstallStatePart, parts: parts}
}

// InstallDoneMessage returns the terminal message of a transfer.
func InstallDoneMessage() InstallStateMessage {
	return InstallStateMessage{kind: InstallDone}
}

// Kind returns the message tag.
func (m InstallStateMessage) Kind() InstallKind { return m.kind }

// IsDone reports whether m is the terminal message.
func (m InstallStateMessage) IsDone() bool { return m.kind == InstallDone }

// Parts returns the carried batch; it is empty for Done.
func (m InstallStateMessage) Parts() types.MaybeVec[types.StatePart] { return m.parts }
