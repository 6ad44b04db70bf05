package types

import (
	"bytes"
	"fmt"
)

// PartDescription identifies one part of a divisible state.
type PartDescription struct {
	// Opaque identity, unique within one StateDescriptor.
	PartID []byte `cramberry:"1"`
	// Committed digest of the part's bytes.
	Content Digest `cramberry:"2"`
	// Checkpoint at which the part's content was produced.
	Seq SeqNo `cramberry:"3"`
}

// ID returns the part identity.
func (p *PartDescription) ID() []byte { return p.PartID }

// ContentDescription returns the committed content digest as bytes.
func (p *PartDescription) ContentDescription() []byte { return p.Content[:] }

// SeqNo returns the checkpoint the part belongs to.
func (p *PartDescription) SeqNo() SeqNo { return p.Seq }

// SequenceNumber implements statexfer.Orderable.
func (p *PartDescription) SequenceNumber() SeqNo { return p.Seq }

// Equal reports whether two descriptions have the same identity,
// content and sequence number.
func (p *PartDescription) Equal(other *PartDescription) bool {
	return ComparePartDescriptions(p, other) == 0
}

// Clone returns a deep copy.
func (p *PartDescription) Clone() PartDescription {
	return PartDescription{
		PartID:  bytes.Clone(p.PartID),
		Content: p.Content,
		Seq:     p.Seq,
	}
}

func (p *PartDescription) String() string {
	return fmt.Sprintf("part(%x@%d:%s)", p.PartID, p.Seq, p.Content.Short())
}

// ComparePartDescriptions orders descriptions by id bytes, then
// sequence number, then content digest. The order is total, so two
// replicas producing the same checkpoint list parts identically.
func ComparePartDescriptions(a, b *PartDescription) int {
	if c := bytes.Compare(a.PartID, b.PartID); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return bytes.Compare(a.Content[:], b.Content[:])
}

// StatePart is the payload of one part of a divisible state.
type StatePart struct {
	Description PartDescription `cramberry:"1"`
	Data        []byte          `cramberry:"2"`
	// Digest of Data. Must equal DigestOf(Data).
	Digest Digest `cramberry:"3"`
	// Logical size for capacity planning. Zero means len(Data).
	LogicalSize uint64 `cramberry:"4"`
}

// NewStatePart builds a part whose digest and content description are
// both computed from data.
func NewStatePart(id []byte, seq SeqNo, data []byte) StatePart {
	d := DigestOf(data)
	return StatePart{
		Description: PartDescription{PartID: id, Content: d, Seq: seq},
		Data:        data,
		Digest:      d,
	}
}

// Descriptor returns the part's description.
func (p *StatePart) Descriptor() *PartDescription { return &p.Description }

// Hash returns the carried digest of the part's bytes.
func (p *StatePart) Hash() Digest { return p.Digest }

// ID returns the part identity.
func (p *StatePart) ID() []byte { return p.Description.PartID }

// Length returns the number of payload bytes.
func (p *StatePart) Length() int { return len(p.Data) }

// Size returns the logical size of the part.
func (p *StatePart) Size() uint64 {
	if p.LogicalSize == 0 {
		return uint64(len(p.Data))
	}
	return p.LogicalSize
}

// Bytes returns the payload.
func (p *StatePart) Bytes() []byte { return p.Data }

// HashValid reports whether the carried digest matches the payload.
func (p *StatePart) HashValid() bool {
	return DigestOf(p.Data) == p.Digest
}

// MatchesDescription reports whether the carried digest matches the
// content committed in the part's description.
func (p *StatePart) MatchesDescription() bool {
	return p.Digest == p.Description.Content
}

// Valid reports whether the part verifies against itself.
func (p *StatePart) Valid() bool {
	return p.HashValid() && p.MatchesDescription()
}

// Equal reports whether two parts carry the same description and bytes.
func (p *StatePart) Equal(other *StatePart) bool {
	return p.Description.Equal(&other.Description) &&
		p.Digest == other.Digest &&
		bytes.Equal(p.Data, other.Data)
}
