// Package kv implements a replicated key/value store whose state is
// divisible. Keys are spread over a fixed number of buckets with
// murmur3; each bucket is one part, so a checkpoint only changes the
// parts whose buckets were written to.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/codec"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/store"
	"github.com/blockberries/statexfer/types"
)

// DefaultBuckets is the bucket count used when Open is given zero.
const DefaultBuckets = 64

// Compile-time interface check.
var _ divisible.State = (*State)(nil)

// State is the key/value store.
//
// Writes go to a working map. Checkpoint freezes the working map into
// parts and commits them to the part store; the Reader methods always
// report the last committed checkpoint. Installing a transfer replaces
// both, discarding writes made since the last checkpoint.
type State struct {
	mu      sync.RWMutex
	ps      store.PartStore
	buckets uint32

	data  map[string][]byte
	dirty map[uint32]struct{}

	desc  *types.StateDescriptor
	parts []types.StatePart // committed, indexed by bucket

	asm *divisible.Assembler
}

// Open restores the checkpoint held by ps, if any.
func Open(ctx context.Context, ps store.PartStore, buckets uint32) (*State, error) {
	if buckets == 0 {
		buckets = DefaultBuckets
	}
	s := &State{
		ps:      ps,
		buckets: buckets,
		data:    make(map[string][]byte),
		dirty:   make(map[uint32]struct{}),
	}

	desc, err := ps.Descriptor(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, statexfer.NewStateUnavailable("read descriptor", err)
	}
	if err := s.checkShape(desc); err != nil {
		return nil, err
	}
	parts, err := ps.Parts(ctx, nil)
	if err != nil {
		return nil, statexfer.NewStateUnavailable("read parts", err)
	}
	data, byBucket, err := s.decode(parts)
	if err != nil {
		return nil, err
	}
	s.data, s.desc, s.parts = data, desc, byBucket
	return s, nil
}

// Buckets returns the number of buckets.
func (s *State) Buckets() uint32 { return s.buckets }

// Get returns the working value of key.
func (s *State) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return v, ok
}

// Set writes key. The write becomes part of the next checkpoint.
func (s *State) Set(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	s.dirty[bucketOf(key, s.buckets)] = struct{}{}
}

// Delete removes key.
func (s *State) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[string(key)]; !ok {
		return
	}
	delete(s.data, string(key))
	s.dirty[bucketOf(key, s.buckets)] = struct{}{}
}

// Len returns the number of working keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Checkpoint commits the working map as the checkpoint at seq and
// returns its descriptor. Buckets whose content did not change keep
// their part, and with it the sequence number they were last changed
// at. seq must be greater than the committed checkpoint's.
func (s *State) Checkpoint(ctx context.Context, seq types.SeqNo) (*types.StateDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.desc != nil && seq <= s.desc.Seq {
		return nil, fmt.Errorf("%w: checkpoint at %d is not after committed %d",
			statexfer.ErrSequenceMismatch, seq, s.desc.Seq)
	}

	contents := make([][]Entry, s.buckets)
	for k, v := range s.data {
		b := bucketOf([]byte(k), s.buckets)
		contents[b] = append(contents[b], Entry{Key: []byte(k), Value: v})
	}

	parts := make([]types.StatePart, s.buckets)
	descs := make([]types.PartDescription, s.buckets)
	for b := range s.buckets {
		_, dirty := s.dirty[b]
		if s.parts != nil && !dirty {
			parts[b] = s.parts[b]
		} else {
			sortEntries(contents[b])
			data, err := codec.Marshal(&Bucket{Index: b, Entries: contents[b]})
			if err != nil {
				return nil, err
			}
			if s.parts != nil && s.parts[b].Digest == types.DigestOf(data) {
				parts[b] = s.parts[b]
			} else {
				parts[b] = types.NewStatePart(bucketID(b), seq, data)
			}
		}
		descs[b] = parts[b].Description
	}

	desc, err := types.NewStateDescriptor(seq, descs)
	if err != nil {
		return nil, err
	}
	if err := s.ps.Commit(ctx, desc, parts); err != nil {
		return nil, fmt.Errorf("kv: commit checkpoint %d: %w", seq, err)
	}
	s.desc, s.parts = desc, parts
	clear(s.dirty)
	return desc, nil
}

// Descriptor implements divisible.Reader.
func (s *State) Descriptor() *types.StateDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// Parts implements divisible.Reader. Parts share their bytes with the
// committed checkpoint.
func (s *State) Parts(_ context.Context) ([]types.StatePart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.desc == nil {
		return nil, statexfer.NewStateUnavailable("no committed checkpoint", nil)
	}
	return append([]types.StatePart(nil), s.parts...), nil
}

// SeqNo implements divisible.Reader.
func (s *State) SeqNo() (types.SeqNo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.desc == nil {
		return 0, statexfer.NewStateUnavailable("no committed checkpoint", nil)
	}
	return s.desc.Seq, nil
}

// BeginTransfer implements divisible.State. The committed parts that
// already match target are carried over.
func (s *State) BeginTransfer(target *types.StateDescriptor) error {
	asm, err := divisible.NewAssembler(target)
	if err != nil {
		return err
	}
	if err := s.checkShape(target); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	asm.Seed(s.parts...)
	s.asm = asm
	return nil
}

// AcceptParts implements divisible.State.
func (s *State) AcceptParts(_ context.Context, parts []types.StatePart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asm == nil {
		return divisible.ErrNoTransfer
	}
	_, err := s.asm.Accept(parts...)
	return err
}

// FinalizeTransfer implements divisible.State. Every bucket is decoded
// and checked to hold only keys that hash to it before anything is
// committed. On failure nothing is committed and the previous checkpoint
// stays current; a new BeginTransfer restarts the transfer.
func (s *State) FinalizeTransfer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asm == nil {
		return divisible.ErrNoTransfer
	}

	parts, err := s.asm.Finalize()
	if err != nil {
		return err
	}
	data, byBucket, err := s.decode(parts)
	if err != nil {
		return err
	}
	target := s.asm.Target()
	if err := s.ps.Commit(ctx, target, parts); err != nil {
		return statexfer.NewStateUnavailable("commit transfer", err)
	}

	s.data, s.desc, s.parts = data, target, byBucket
	clear(s.dirty)
	s.asm = nil
	return nil
}

// checkShape verifies a descriptor lists exactly one part per bucket.
func (s *State) checkShape(d *types.StateDescriptor) error {
	if d == nil {
		return fmt.Errorf("kv: nil descriptor")
	}
	if err := d.Validate(); err != nil {
		return &statexfer.DescriptorError{Seq: d.Seq, Err: err}
	}
	if uint32(d.Len()) != s.buckets {
		return fmt.Errorf("kv: descriptor has %d parts, store uses %d buckets", d.Len(), s.buckets)
	}
	for _, e := range d.Parts() {
		if _, err := parseBucketID(e.ID(), s.buckets); err != nil {
			return err
		}
	}
	return nil
}

// decode rebuilds the key/value map from a complete, verified set of
// parts and indexes the parts by bucket.
func (s *State) decode(parts []types.StatePart) (map[string][]byte, []types.StatePart, error) {
	data := make(map[string][]byte)
	byBucket := make([]types.StatePart, s.buckets)
	for i := range parts {
		p := &parts[i]
		b, err := parseBucketID(p.ID(), s.buckets)
		if err != nil {
			return nil, nil, statexfer.NewVerificationError(p, err.Error())
		}
		var bk Bucket
		if err := codec.Unmarshal(p.Data, &bk); err != nil {
			return nil, nil, err
		}
		if bk.Index != b {
			return nil, nil, statexfer.NewVerificationError(p,
				fmt.Sprintf("bucket index %d does not match id", bk.Index))
		}
		for _, e := range bk.Entries {
			if bucketOf(e.Key, s.buckets) != b {
				return nil, nil, statexfer.NewVerificationError(p,
					fmt.Sprintf("key %q does not belong to bucket %d", e.Key, b))
			}
			data[string(e.Key)] = e.Value
		}
		byBucket[b] = *p
	}
	return data, byBucket, nil
}
