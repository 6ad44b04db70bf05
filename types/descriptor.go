package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicatePartID is returned when a descriptor would list the same
// part identity twice.
var ErrDuplicatePartID = errors.New("types: duplicate part id in descriptor")

// ErrUnsortedEntries is returned by Validate when entries are not in
// part id order.
var ErrUnsortedEntries = errors.New("types: descriptor entries not sorted by part id")

// ErrRootMismatch is returned by Validate when the recorded root does
// not match the entries.
var ErrRootMismatch = errors.New("types: descriptor root does not match its entries")

// StateDescriptor describes the shape of a divisible checkpoint
// without carrying part payloads.
//
// A descriptor is read-only once produced. It is handed around as a
// *StateDescriptor so every consumer shares the same part descriptions.
type StateDescriptor struct {
	Seq SeqNo `cramberry:"1"`
	// Sorted by ComparePartDescriptions; ids are unique.
	Entries []PartDescription `cramberry:"2"`
	// Digest over the ordered entries. Optional.
	Root *Digest `cramberry:"3"`
}

// NewStateDescriptor builds a descriptor for the checkpoint at seq.
// The parts are sorted and the root digest is computed over them.
func NewStateDescriptor(seq SeqNo, parts []PartDescription) (*StateDescriptor, error) {
	entries := make([]PartDescription, len(parts))
	copy(entries, parts)
	slices.SortFunc(entries, func(a, b PartDescription) int {
		return ComparePartDescriptions(&a, &b)
	})
	for i := 1; i < len(entries); i++ {
		if bytes.Equal(entries[i-1].PartID, entries[i].PartID) {
			return nil, fmt.Errorf("%w: %x", ErrDuplicatePartID, entries[i].PartID)
		}
	}
	d := &StateDescriptor{Seq: seq, Entries: entries}
	root := d.ComputeRoot()
	d.Root = &root
	return d, nil
}

// Validate checks a descriptor that was not built by
// NewStateDescriptor, such as one decoded from a peer. Part ids must be
// strictly increasing and a recorded root must match the entries.
func (d *StateDescriptor) Validate() error {
	for i := 1; i < len(d.Entries); i++ {
		switch c := bytes.Compare(d.Entries[i-1].PartID, d.Entries[i].PartID); {
		case c == 0:
			return fmt.Errorf("%w: %x", ErrDuplicatePartID, d.Entries[i].PartID)
		case c > 0:
			return fmt.Errorf("%w: %x after %x", ErrUnsortedEntries, d.Entries[i].PartID, d.Entries[i-1].PartID)
		}
	}
	if root, ok := d.Digest(); ok && root != d.ComputeRoot() {
		return ErrRootMismatch
	}
	return nil
}

// SequenceNumber implements statexfer.Orderable.
func (d *StateDescriptor) SequenceNumber() SeqNo { return d.Seq }

// Parts returns shared handles to the part descriptions. Callers must
// not modify them.
func (d *StateDescriptor) Parts() []*PartDescription {
	out := make([]*PartDescription, len(d.Entries))
	for i := range d.Entries {
		out[i] = &d.Entries[i]
	}
	return out
}

// Len returns the number of parts.
func (d *StateDescriptor) Len() int { return len(d.Entries) }

// Lookup finds the description with the given id.
func (d *StateDescriptor) Lookup(id []byte) (*PartDescription, bool) {
	i, ok := slices.BinarySearchFunc(d.Entries, id, func(e PartDescription, id []byte) int {
		return bytes.Compare(e.PartID, id)
	})
	if !ok {
		return nil, false
	}
	return &d.Entries[i], true
}

// Digest returns the whole-descriptor digest if one was recorded.
func (d *StateDescriptor) Digest() (Digest, bool) {
	if d.Root == nil {
		return Digest{}, false
	}
	return *d.Root, true
}

// ComputeRoot recomputes the whole-descriptor digest from the entries.
func (d *StateDescriptor) ComputeRoot() Digest {
	h := NewHasher()
	var buf [binary.MaxVarintLen64]byte
	for i := range d.Entries {
		e := &d.Entries[i]
		n := binary.PutUvarint(buf[:], uint64(len(e.PartID)))
		h.Update(buf[:n])
		h.Update(e.PartID)
		binary.BigEndian.PutUint64(buf[:8], uint64(e.Seq))
		h.Update(buf[:8])
		h.Update(e.Content[:])
	}
	return h.Finish()
}

// Equal reports value equality. Two descriptors produced independently
// for the same checkpoint compare equal iff the underlying states agree.
func (d *StateDescriptor) Equal(other *StateDescriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Seq != other.Seq || len(d.Entries) != len(other.Entries) {
		return false
	}
	if (d.Root == nil) != (other.Root == nil) {
		return false
	}
	if d.Root != nil && *d.Root != *other.Root {
		return false
	}
	for i := range d.Entries {
		if !d.Entries[i].Equal(&other.Entries[i]) {
			return false
		}
	}
	return true
}

// Less orders descriptors by sequence number.
func (d *StateDescriptor) Less(other *StateDescriptor) bool {
	return d.Seq < other.Seq
}

// Diff returns the ids of parts in d that have no identical entry in
// have. A nil have yields every id.
func (d *StateDescriptor) Diff(have *StateDescriptor) [][]byte {
	var ids [][]byte
	for i := range d.Entries {
		e := &d.Entries[i]
		if have != nil {
			if h, ok := have.Lookup(e.PartID); ok && h.Equal(e) {
				continue
			}
		}
		ids = append(ids, e.PartID)
	}
	return ids
}
