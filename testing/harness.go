package statexfertest

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/install"
	"github.com/blockberries/statexfer/types"
)

// Harness drives a divisible state through install.Driver and fails the
// test on unexpected errors.
type Harness struct {
	t   *testing.T
	drv *install.Driver
}

// NewHarness creates a test harness wrapping the given state.
func NewHarness(t *testing.T, state divisible.State, opts ...install.Option) *Harness {
	t.Helper()
	return &Harness{t: t, drv: install.NewDriver(state, opts...)}
}

// Driver returns the underlying driver for direct access.
func (h *Harness) Driver() *install.Driver {
	return h.drv
}

// Prepare starts a transfer towards target.
func (h *Harness) Prepare(target *types.StateDescriptor) uuid.UUID {
	h.t.Helper()
	id, err := h.drv.Prepare(target)
	if err != nil {
		h.t.Fatalf("Prepare (seq=%d) failed: %v", target.Seq, err)
	}
	return id
}

// Send delivers parts as one StatePart batch.
func (h *Harness) Send(parts ...types.StatePart) {
	h.t.Helper()
	msg := divisible.InstallParts(types.FromSlice(parts))
	if err := h.drv.Handle(context.Background(), msg); err != nil {
		h.t.Fatalf("Handle (%d parts) failed: %v", len(parts), err)
	}
}

// SendBatches delivers parts in batches of at most size.
func (h *Harness) SendBatches(parts []types.StatePart, size int) {
	h.t.Helper()
	for start := 0; start < len(parts); start += size {
		h.Send(parts[start:min(start+size, len(parts))]...)
	}
}

// DoneErr sends Done and returns the finalize result.
func (h *Harness) DoneErr() error {
	return h.drv.Handle(context.Background(), divisible.InstallDoneMessage())
}

// Done sends Done and asserts the driver reached Ready.
func (h *Harness) Done() {
	h.t.Helper()
	if err := h.DoneErr(); err != nil {
		h.t.Fatalf("Done failed: %v", err)
	}
	h.MustPhase(install.Ready)
}

// Install prepares target, sends parts in two batches and finalizes.
func (h *Harness) Install(target *types.StateDescriptor, parts []types.StatePart) {
	h.t.Helper()
	h.Prepare(target)
	h.SendBatches(parts, max((len(parts)+1)/2, 1))
	h.Done()
}

// MustPhase asserts the driver's phase.
func (h *Harness) MustPhase(want install.Phase) {
	h.t.Helper()
	if got := h.drv.Phase(); got != want {
		h.t.Fatalf("expected phase %s, got %s", want, got)
	}
}

// --- Helper Factories ---

// MakeParts creates n parts at seq with ids 0..n-1 encoded as 2-byte
// big-endian integers.
func MakeParts(seq types.SeqNo, n int) []types.StatePart {
	parts := make([]types.StatePart, n)
	for i := range parts {
		id := binary.BigEndian.AppendUint16(nil, uint16(i))
		parts[i] = types.NewStatePart(id, seq, fmt.Appendf(nil, "part-%d@%d", i, seq))
	}
	return parts
}

// Describe builds the descriptor for parts at seq.
func Describe(t testing.TB, seq types.SeqNo, parts []types.StatePart) *types.StateDescriptor {
	t.Helper()
	descs := make([]types.PartDescription, len(parts))
	for i := range parts {
		descs[i] = parts[i].Description
	}
	d, err := types.NewStateDescriptor(seq, descs)
	if err != nil {
		t.Fatalf("NewStateDescriptor: %v", err)
	}
	return d
}

// Tamper returns a copy of p whose bytes no longer match its digest.
func Tamper(p types.StatePart) types.StatePart {
	data := append([]byte(nil), p.Data...)
	if len(data) == 0 {
		data = []byte{0}
	} else {
		data[0] ^= 0xff
	}
	p.Data = data
	return p
}
