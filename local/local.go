// Package local provides a zero-copy, in-process statexfer.Source.
//
// For replicas hosted in the same binary (tests, tools, co-located
// services) this adapter serves the committed state of a
// divisible.Reader directly, with no serialization overhead. Parts and
// descriptors are shared with the reader, not copied.
package local

import (
	"context"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/divisible"
	"github.com/blockberries/statexfer/types"
)

// Compile-time interface check.
var _ statexfer.Source = (*Source)(nil)

// Source serves a local reader's committed checkpoint.
type Source struct {
	r divisible.Reader
}

// NewSource creates an in-process source over r. Wrap r in an
// install.Driver when it is also being written to.
func NewSource(r divisible.Reader) *Source {
	return &Source{r: r}
}

// Descriptor returns the reader's committed descriptor.
func (s *Source) Descriptor(ctx context.Context) (*types.StateDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := s.r.Descriptor()
	if d == nil {
		return nil, statexfer.NewStateUnavailable("no committed checkpoint", nil)
	}
	return d, nil
}

// FetchParts returns the committed parts with the given ids, in the
// order requested. Unknown ids are omitted.
func (s *Source) FetchParts(ctx context.Context, ids [][]byte) ([]types.StatePart, error) {
	all, err := s.r.Parts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(all))
	for i := range all {
		byID[string(all[i].ID())] = i
	}
	out := make([]types.StatePart, 0, len(ids))
	for _, id := range ids {
		if i, ok := byID[string(id)]; ok {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// SeqNo returns the reader's committed sequence number.
func (s *Source) SeqNo() (types.SeqNo, error) {
	return s.r.SeqNo()
}
