package statexfergrpc

import (
	"github.com/blockberries/statexfer/internal/pbwire"
	"github.com/blockberries/statexfer/types"
)

// Transport-specific request and response types. These are used only
// at the gRPC serialization boundary; descriptors and parts travel as
// their types package values.

// DescriptorRequest is the (empty) request for Descriptor.
type DescriptorRequest struct{}

// SeqNoRequest is the (empty) request for SeqNo.
type SeqNoRequest struct{}

// SeqNoResponse carries the committed sequence number.
type SeqNoResponse struct {
	Seq types.SeqNo `cramberry:"1"`
}

// FetchPartsRequest lists the part ids to stream back.
type FetchPartsRequest struct {
	IDs [][]byte `cramberry:"1"`
}

func (*DescriptorRequest) AppendProto(b []byte) []byte { return b }

func (r *DescriptorRequest) UnmarshalProto(b []byte) error {
	*r = DescriptorRequest{}
	return pbwire.Range(b, func(pbwire.Field) error { return nil })
}

func (*SeqNoRequest) AppendProto(b []byte) []byte { return b }

func (r *SeqNoRequest) UnmarshalProto(b []byte) error {
	*r = SeqNoRequest{}
	return pbwire.Range(b, func(pbwire.Field) error { return nil })
}

func (r *SeqNoResponse) AppendProto(b []byte) []byte {
	return pbwire.AppendVarint(b, 1, uint64(r.Seq))
}

func (r *SeqNoResponse) UnmarshalProto(b []byte) error {
	*r = SeqNoResponse{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		if f.Num != 1 {
			return nil
		}
		v, err := pbwire.Uint(f)
		r.Seq = types.SeqNo(v)
		return err
	})
}

func (r *FetchPartsRequest) AppendProto(b []byte) []byte {
	for _, id := range r.IDs {
		b = pbwire.AppendMessage(b, 1, id)
	}
	return b
}

func (r *FetchPartsRequest) UnmarshalProto(b []byte) error {
	*r = FetchPartsRequest{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		if f.Num != 1 {
			return nil
		}
		id, err := pbwire.Message(f)
		if err != nil {
			return err
		}
		r.IDs = append(r.IDs, append([]byte{}, id...))
		return nil
	})
}
