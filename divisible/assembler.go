package divisible

import (
	"errors"
	"fmt"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/types"
)

// Assembler collects verified parts for one target descriptor.
//
// It holds no lock; the owning state's single writer calls it.
type Assembler struct {
	target   *types.StateDescriptor
	accepted map[string]types.StatePart
}

// NewAssembler starts collecting parts for target. A target that fails
// types.StateDescriptor.Validate is refused with a
// *statexfer.DescriptorError.
func NewAssembler(target *types.StateDescriptor) (*Assembler, error) {
	if target == nil {
		return nil, fmt.Errorf("divisible: nil target descriptor")
	}
	if err := target.Validate(); err != nil {
		return nil, &statexfer.DescriptorError{Seq: target.Seq, Err: err}
	}
	return &Assembler{
		target:   target,
		accepted: make(map[string]types.StatePart, target.Len()),
	}, nil
}

// Target returns the descriptor being assembled.
func (a *Assembler) Target() *types.StateDescriptor { return a.target }

// Check verifies p against the target without recording it.
func (a *Assembler) Check(p *types.StatePart) error {
	want, ok := a.target.Lookup(p.ID())
	if !ok {
		return statexfer.NewVerificationError(p, "part is not in the target descriptor")
	}
	if p.Description.Seq != want.Seq {
		return statexfer.NewSequenceError(p, want.Seq)
	}
	if err := VerifyPart(p); err != nil {
		return err
	}
	if p.Digest != want.Content {
		return statexfer.NewVerificationError(p, "digest does not match target content description")
	}
	return nil
}

// Accept verifies and records parts. Parts that fail verification are
// skipped; the valid ones are recorded regardless. The returned slice
// holds the parts recorded by this call, excluding ones already held.
// The error joins one *statexfer.PartError per rejected part.
func (a *Assembler) Accept(parts ...types.StatePart) ([]types.StatePart, error) {
	var (
		added []types.StatePart
		errs  []error
	)
	for i := range parts {
		p := &parts[i]
		if err := a.Check(p); err != nil {
			errs = append(errs, err)
			continue
		}
		key := string(p.ID())
		if _, ok := a.accepted[key]; ok {
			// Verified against the same target entry, so identical.
			continue
		}
		a.accepted[key] = *p
		added = append(added, *p)
	}
	return added, errors.Join(errs...)
}

// Seed records held parts whose description is identical to the
// target's entry, skipping the rest silently. It returns the number of
// parts recorded.
func (a *Assembler) Seed(parts ...types.StatePart) int {
	n := 0
	for i := range parts {
		p := &parts[i]
		want, ok := a.target.Lookup(p.ID())
		if !ok || !want.Equal(&p.Description) || a.Has(p.ID()) || VerifyPart(p) != nil {
			continue
		}
		a.accepted[string(p.ID())] = *p
		n++
	}
	return n
}

// Has reports whether the part with the given id was accepted.
func (a *Assembler) Has(id []byte) bool {
	_, ok := a.accepted[string(id)]
	return ok
}

// Accepted returns the number of accepted parts.
func (a *Assembler) Accepted() int { return len(a.accepted) }

// Missing returns the ids of target parts not yet accepted, in
// descriptor order.
func (a *Assembler) Missing() [][]byte {
	var missing [][]byte
	for _, e := range a.target.Parts() {
		if !a.Has(e.ID()) {
			missing = append(missing, e.ID())
		}
	}
	return missing
}

// Complete reports whether every target part was accepted. It agrees
// with Finalize.
func (a *Assembler) Complete() bool {
	for i := range a.target.Entries {
		if !a.Has(a.target.Entries[i].PartID) {
			return false
		}
	}
	return true
}

// Finalize returns the accepted parts in descriptor order, or an
// *statexfer.IncompleteStateError listing what is missing.
func (a *Assembler) Finalize() ([]types.StatePart, error) {
	if missing := a.Missing(); len(missing) > 0 {
		return nil, &statexfer.IncompleteStateError{Seq: a.target.Seq, Missing: missing}
	}
	out := make([]types.StatePart, 0, a.target.Len())
	for _, e := range a.target.Parts() {
		out = append(out, a.accepted[string(e.ID())])
	}
	return out, nil
}
