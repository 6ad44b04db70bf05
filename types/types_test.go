package types_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/blockberries/statexfer/types"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// roundTrip marshals v, unmarshals into a new T, and returns it.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out T
	if err := cramberry.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return out
}

func threeParts() []types.StatePart {
	return []types.StatePart{
		types.NewStatePart([]byte{1}, 10, []byte("one")),
		types.NewStatePart([]byte{2}, 10, []byte("two")),
		types.NewStatePart([]byte{3}, 10, []byte("three")),
	}
}

func descriptions(parts []types.StatePart) []types.PartDescription {
	out := make([]types.PartDescription, len(parts))
	for i := range parts {
		out[i] = parts[i].Description
	}
	return out
}

func TestDigest(t *testing.T) {
	a := types.DigestOf([]byte("abc"))
	b := types.DigestOf([]byte("abc"))
	if a != b {
		t.Fatal("digest is not deterministic")
	}
	if a == types.DigestOf([]byte("abd")) {
		t.Fatal("different inputs produced the same digest")
	}
	if a.IsZero() {
		t.Fatal("digest of non-empty input should not be zero")
	}

	h := types.NewHasher()
	h.Update([]byte("a"))
	h.Update([]byte("bc"))
	if h.Finish() != a {
		t.Fatal("incremental hasher disagrees with DigestOf")
	}
	if len(a.String()) != 64 || len(a.Short()) != 8 {
		t.Fatalf("unexpected hex lengths %d/%d", len(a.String()), len(a.Short()))
	}
}

func TestStatePart_HashIsDigestOfBytes(t *testing.T) {
	for _, p := range threeParts() {
		if p.Hash() != types.DigestOf(p.Bytes()) {
			t.Fatalf("part %x: hash != digest(bytes)", p.ID())
		}
		if !p.Valid() {
			t.Fatalf("part %x should be valid", p.ID())
		}
		if p.Length() != len(p.Bytes()) || p.Size() != uint64(p.Length()) {
			t.Fatalf("part %x: length/size mismatch", p.ID())
		}
	}
}

func TestStatePart_TamperedBytes(t *testing.T) {
	p := types.NewStatePart([]byte{2}, 1, []byte("two"))
	p.Data = []byte("tw0")
	if p.HashValid() {
		t.Fatal("tampered bytes should not match carried hash")
	}

	// A sender that also recomputes the hash still fails against the
	// committed content description.
	p.Digest = types.DigestOf(p.Data)
	if !p.HashValid() {
		t.Fatal("recomputed hash should match bytes")
	}
	if p.MatchesDescription() {
		t.Fatal("recomputed hash must not match the committed description")
	}
	if p.Valid() {
		t.Fatal("part should not be valid")
	}
}

func TestPartDescription_Ordering(t *testing.T) {
	a := types.PartDescription{PartID: []byte{1}, Seq: 5}
	b := types.PartDescription{PartID: []byte{1}, Seq: 6}
	c := types.PartDescription{PartID: []byte{2}, Seq: 1}

	if types.ComparePartDescriptions(&a, &b) >= 0 {
		t.Error("same id: lower seq should order first")
	}
	if types.ComparePartDescriptions(&b, &c) >= 0 {
		t.Error("id orders before seq")
	}
	if types.ComparePartDescriptions(&a, &a) != 0 || !a.Equal(&a) {
		t.Error("description should equal itself")
	}
	clone := a.Clone()
	clone.PartID[0] = 9
	if a.PartID[0] != 1 {
		t.Error("Clone must deep-copy the id")
	}
}

func TestStateDescriptor_SortedAndShared(t *testing.T) {
	parts := threeParts()
	descs := descriptions(parts)
	// Reverse the input order.
	d, err := types.NewStateDescriptor(10, []types.PartDescription{descs[2], descs[0], descs[1]})
	if err != nil {
		t.Fatalf("NewStateDescriptor: %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("expected 3 parts, got %d", d.Len())
	}
	ps := d.Parts()
	for i, p := range ps {
		if p.ID()[0] != byte(i+1) {
			t.Fatalf("parts not sorted: index %d has id %x", i, p.ID())
		}
	}
	// Handles point into the descriptor rather than copies.
	if ps[0] != &d.Entries[0] {
		t.Fatal("Parts() should share the descriptor's entries")
	}

	got, ok := d.Lookup([]byte{2})
	if !ok || !got.Equal(&descs[1]) {
		t.Fatal("Lookup failed for id 2")
	}
	if _, ok := d.Lookup([]byte{7}); ok {
		t.Fatal("Lookup should fail for unknown id")
	}
}

func TestStateDescriptor_DuplicateIDs(t *testing.T) {
	a := types.NewStatePart([]byte{1}, 1, []byte("x"))
	b := types.NewStatePart([]byte{1}, 2, []byte("y"))
	_, err := types.NewStateDescriptor(2, []types.PartDescription{a.Description, b.Description})
	if !errors.Is(err, types.ErrDuplicatePartID) {
		t.Fatalf("expected ErrDuplicatePartID, got %v", err)
	}
}

func TestStateDescriptor_Validate(t *testing.T) {
	descs := descriptions(threeParts())
	built, _ := types.NewStateDescriptor(10, descs)
	if err := built.Validate(); err != nil {
		t.Fatalf("built descriptor should validate: %v", err)
	}

	raw := func(entries ...types.PartDescription) *types.StateDescriptor {
		d := &types.StateDescriptor{Seq: 10, Entries: entries}
		root := d.ComputeRoot()
		d.Root = &root
		return d
	}
	sorted := append([]types.PartDescription(nil), built.Entries...)

	if err := raw(sorted[0], sorted[0]).Validate(); !errors.Is(err, types.ErrDuplicatePartID) {
		t.Fatalf("expected ErrDuplicatePartID, got %v", err)
	}
	if err := raw(sorted[1], sorted[0], sorted[2]).Validate(); !errors.Is(err, types.ErrUnsortedEntries) {
		t.Fatalf("expected ErrUnsortedEntries, got %v", err)
	}

	bad := raw(append([]types.PartDescription(nil), sorted...)...)
	bad.Entries[0].Seq++
	if err := bad.Validate(); !errors.Is(err, types.ErrRootMismatch) {
		t.Fatalf("expected ErrRootMismatch, got %v", err)
	}

	noRoot := &types.StateDescriptor{Seq: 10, Entries: sorted}
	if err := noRoot.Validate(); err != nil {
		t.Fatalf("descriptor without root should validate: %v", err)
	}
}

func TestStateDescriptor_EqualityAndDigest(t *testing.T) {
	descs := descriptions(threeParts())
	d1, _ := types.NewStateDescriptor(10, descs)
	d2, _ := types.NewStateDescriptor(10, []types.PartDescription{descs[1], descs[2], descs[0]})

	if !d1.Equal(d2) {
		t.Fatal("independently built descriptors for the same state should be equal")
	}
	r1, ok1 := d1.Digest()
	r2, ok2 := d2.Digest()
	if !ok1 || !ok2 || r1 != r2 {
		t.Fatal("root digests should agree")
	}
	if d1.ComputeRoot() != r1 {
		t.Fatal("recorded root does not match recomputed root")
	}

	changed := types.NewStatePart([]byte{2}, 11, []byte("TWO"))
	d3, _ := types.NewStateDescriptor(11, []types.PartDescription{descs[0], changed.Description, descs[2]})
	if d1.Equal(d3) {
		t.Fatal("descriptors of different states should differ")
	}
	r3, _ := d3.Digest()
	if r3 == r1 {
		t.Fatal("root digest should change with content")
	}
	if !d1.Less(d3) || d3.Less(d1) {
		t.Fatal("descriptors should order by seq")
	}
	if d1.SequenceNumber() != 10 {
		t.Fatalf("expected seq 10, got %d", d1.SequenceNumber())
	}
}

func TestStateDescriptor_Diff(t *testing.T) {
	descs := descriptions(threeParts())
	have, _ := types.NewStateDescriptor(10, descs)

	changed := types.NewStatePart([]byte{3}, 12, []byte("drei"))
	extra := types.NewStatePart([]byte{4}, 12, []byte("vier"))
	want, _ := types.NewStateDescriptor(12, []types.PartDescription{
		descs[0], descs[1], changed.Description, extra.Description,
	})

	diff := want.Diff(have)
	if len(diff) != 2 || !bytes.Equal(diff[0], []byte{3}) || !bytes.Equal(diff[1], []byte{4}) {
		t.Fatalf("unexpected diff %x", diff)
	}
	if n := len(want.Diff(nil)); n != 4 {
		t.Fatalf("diff against nothing should list all 4 parts, got %d", n)
	}
	if n := len(want.Diff(want)); n != 0 {
		t.Fatalf("diff against itself should be empty, got %d", n)
	}
}

func TestStateDescriptor_RoundTrip(t *testing.T) {
	d, _ := types.NewStateDescriptor(10, descriptions(threeParts()))
	got := roundTrip(t, *d)
	if !got.Equal(d) {
		t.Fatalf("StateDescriptor round-trip failed: got %+v", got)
	}
}

func TestStatePart_RoundTrip(t *testing.T) {
	p := types.NewStatePart([]byte("bucket-7"), 3, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	got := roundTrip(t, p)
	if !got.Equal(&p) || !got.Valid() {
		t.Fatalf("StatePart round-trip failed: got %+v", got)
	}
}

func TestMaybeVec(t *testing.T) {
	empty := types.FromSlice[int](nil)
	if !empty.IsEmpty() || empty.Slice() != nil {
		t.Fatal("expected empty MaybeVec")
	}

	one := types.FromSlice([]int{42})
	if one.Len() != 1 || one.At(0) != 42 {
		t.Fatalf("unexpected single MaybeVec: %v", one.Slice())
	}

	many := types.FromSlice([]int{1, 2, 3})
	var sum int
	for v := range many.All() {
		sum += v
	}
	if many.Len() != 3 || sum != 6 {
		t.Fatalf("unexpected many MaybeVec: len=%d sum=%d", many.Len(), sum)
	}

	// Early break from the iterator.
	var seen int
	for range many.All() {
		seen++
		break
	}
	if seen != 1 {
		t.Fatalf("iterator did not stop, saw %d", seen)
	}
}
