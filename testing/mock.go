// Package statexfertest provides test utilities for state
// implementations, including a configurable in-memory divisible state,
// a harness around install.Driver and a compliance suite checking the
// accept/finalize invariants.
package statexfertest

import (
	"context"
	"sync"
	"sync/atomic"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/types"
)

// Compile-time check that MockState satisfies divisible.State.
var _ divisible.State = (*MockState)(nil)

// MockState is an in-memory divisible state. Unconfigured methods use
// a working implementation built on divisible.Assembler, so a
// MockState can act both as a transfer source and as a target.
//
// Overlaps counts reader calls that started while AcceptParts or
// FinalizeTransfer was running, which a correct driver never allows.
type MockState struct {
	mu        sync.Mutex
	committed *types.StateDescriptor
	parts     map[string]types.StatePart
	asm       *divisible.Assembler
	writing   atomic.Int32

	// Configurable handlers. If nil, the in-memory behavior is used.
	DescriptorFn       func() *types.StateDescriptor
	PartsFn            func(context.Context) ([]types.StatePart, error)
	SeqNoFn            func() (types.SeqNo, error)
	BeginTransferFn    func(*types.StateDescriptor) error
	AcceptPartsFn      func(context.Context, []types.StatePart) error
	FinalizeTransferFn func(context.Context) error

	// Call counters (atomic for concurrent access).
	DescriptorCalls atomic.Int64
	PartsCalls      atomic.Int64
	AcceptCalls     atomic.Int64
	FinalizeCalls   atomic.Int64
	Overlaps        atomic.Int64
}

// NewMockState returns an uninitialized MockState.
func NewMockState() *MockState {
	return &MockState{parts: make(map[string]types.StatePart)}
}

// Commit replaces the committed state with parts at seq, bypassing the
// transfer path. It returns the new descriptor.
func (m *MockState) Commit(seq types.SeqNo, parts ...types.StatePart) (*types.StateDescriptor, error) {
	descs := make([]types.PartDescription, len(parts))
	for i := range parts {
		descs[i] = parts[i].Description
	}
	d, err := types.NewStateDescriptor(seq, descs)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = d
	m.parts = make(map[string]types.StatePart, len(parts))
	for _, p := range parts {
		m.parts[string(p.ID())] = p
	}
	return d, nil
}

func (m *MockState) read() {
	if m.writing.Load() > 0 {
		m.Overlaps.Add(1)
	}
}

func (m *MockState) Descriptor() *types.StateDescriptor {
	m.DescriptorCalls.Add(1)
	m.read()
	if m.DescriptorFn != nil {
		return m.DescriptorFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *MockState) Parts(ctx context.Context) ([]types.StatePart, error) {
	m.PartsCalls.Add(1)
	m.read()
	if m.PartsFn != nil {
		return m.PartsFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed == nil {
		return nil, statexfer.NewStateUnavailable("no committed checkpoint", nil)
	}
	out := make([]types.StatePart, 0, m.committed.Len())
	for _, e := range m.committed.Parts() {
		out = append(out, m.parts[string(e.ID())])
	}
	return out, nil
}

func (m *MockState) SeqNo() (types.SeqNo, error) {
	m.read()
	if m.SeqNoFn != nil {
		return m.SeqNoFn()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed == nil {
		return 0, statexfer.NewStateUnavailable("no committed checkpoint", nil)
	}
	return m.committed.Seq, nil
}

func (m *MockState) BeginTransfer(target *types.StateDescriptor) error {
	if m.BeginTransferFn != nil {
		return m.BeginTransferFn(target)
	}
	asm, err := divisible.NewAssembler(target)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parts {
		asm.Seed(p)
	}
	m.asm = asm
	return nil
}

func (m *MockState) AcceptParts(ctx context.Context, parts []types.StatePart) error {
	m.AcceptCalls.Add(1)
	m.writing.Add(1)
	defer m.writing.Add(-1)
	if m.AcceptPartsFn != nil {
		return m.AcceptPartsFn(ctx, parts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.asm == nil {
		return divisible.ErrNoTransfer
	}
	_, err := m.asm.Accept(parts...)
	return err
}

func (m *MockState) FinalizeTransfer(ctx context.Context) error {
	m.FinalizeCalls.Add(1)
	m.writing.Add(1)
	defer m.writing.Add(-1)
	if m.FinalizeTransferFn != nil {
		return m.FinalizeTransferFn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.asm == nil {
		return divisible.ErrNoTransfer
	}
	parts, err := m.asm.Finalize()
	if err != nil {
		return err
	}
	m.committed = m.asm.Target()
	m.parts = make(map[string]types.StatePart, len(parts))
	for _, p := range parts {
		m.parts[string(p.ID())] = p
	}
	m.asm = nil
	return nil
}
