// Package store persists the committed checkpoint of a divisible
// state: its descriptor and the parts it lists.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/statexfer/types"
)

var (
	// ErrNotFound: nothing has been committed, or a requested part is
	// not part of the committed checkpoint.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed: the store was closed.
	ErrClosed = errors.New("store: closed")
)

// PartStore holds exactly one committed checkpoint.
type PartStore interface {
	// Commit atomically replaces the stored checkpoint with desc and
	// parts. parts must be exactly the parts desc lists.
	Commit(ctx context.Context, desc *types.StateDescriptor, parts []types.StatePart) error

	// Descriptor returns the stored descriptor, or ErrNotFound.
	Descriptor(ctx context.Context) (*types.StateDescriptor, error)

	// Parts returns the stored parts with the given ids, in the order
	// requested. A nil ids returns every part in descriptor order.
	// An unknown id fails with ErrNotFound.
	Parts(ctx context.Context, ids [][]byte) ([]types.StatePart, error)

	Close() error
}

// CheckCommit verifies that parts are exactly the parts desc lists.
// Stores call it before writing.
func CheckCommit(desc *types.StateDescriptor, parts []types.StatePart) error {
	if desc == nil {
		return fmt.Errorf("store: nil descriptor")
	}
	if len(parts) != desc.Len() {
		return fmt.Errorf("store: descriptor lists %d parts, got %d", desc.Len(), len(parts))
	}
	seen := make(map[string]struct{}, len(parts))
	for i := range parts {
		p := &parts[i]
		want, ok := desc.Lookup(p.ID())
		if !ok || !want.Equal(&p.Description) {
			return fmt.Errorf("store: part %x is not described by the descriptor", p.ID())
		}
		if _, dup := seen[string(p.ID())]; dup {
			return fmt.Errorf("store: part %x given twice", p.ID())
		}
		seen[string(p.ID())] = struct{}{}
	}
	return nil
}

// Compile-time interface check.
var _ PartStore = (*Memory)(nil)

// Memory is a PartStore kept in memory.
type Memory struct {
	mu     sync.RWMutex
	desc   *types.StateDescriptor
	parts  map[string]types.StatePart
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Commit(_ context.Context, desc *types.StateDescriptor, parts []types.StatePart) error {
	if err := CheckCommit(desc, parts); err != nil {
		return err
	}
	byID := make(map[string]types.StatePart, len(parts))
	for _, p := range parts {
		byID[string(p.ID())] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.desc, m.parts = desc, byID
	return nil
}

func (m *Memory) Descriptor(_ context.Context) (*types.StateDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.desc == nil {
		return nil, ErrNotFound
	}
	return m.desc, nil
}

func (m *Memory) Parts(_ context.Context, ids [][]byte) ([]types.StatePart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.desc == nil {
		return nil, ErrNotFound
	}
	if ids == nil {
		ids = make([][]byte, 0, m.desc.Len())
		for _, e := range m.desc.Parts() {
			ids = append(ids, e.ID())
		}
	}
	out := make([]types.StatePart, 0, len(ids))
	for _, id := range ids {
		p, ok := m.parts[string(id)]
		if !ok {
			return nil, fmt.Errorf("%w: part %x", ErrNotFound, id)
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
