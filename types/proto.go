package types

import (
	"github.com/blockberries/statexfer/internal/pbwire"
)

// Schema-based encoding. Field numbers match the cramberry tags.

// AppendProto appends the protowire encoding of p to b.
func (p *PartDescription) AppendProto(b []byte) []byte {
	b = pbwire.AppendBytes(b, 1, p.PartID)
	if !p.Content.IsZero() {
		b = pbwire.AppendBytes(b, 2, p.Content[:])
	}
	return pbwire.AppendVarint(b, 3, uint64(p.Seq))
}

// UnmarshalProto decodes b into p.
func (p *PartDescription) UnmarshalProto(b []byte) error {
	*p = PartDescription{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			p.PartID, err = pbwire.Clone(f)
		case 2:
			err = pbwire.CopyFixed(p.Content[:], f)
		case 3:
			var v uint64
			v, err = pbwire.Uint(f)
			p.Seq = SeqNo(v)
		}
		return err
	})
}

// AppendProto appends the protowire encoding of d to b.
func (d *StateDescriptor) AppendProto(b []byte) []byte {
	b = pbwire.AppendVarint(b, 1, uint64(d.Seq))
	for i := range d.Entries {
		b = pbwire.AppendMessage(b, 2, d.Entries[i].AppendProto(nil))
	}
	if d.Root != nil {
		b = pbwire.AppendMessage(b, 3, d.Root[:])
	}
	return b
}

// UnmarshalProto decodes b into d.
func (d *StateDescriptor) UnmarshalProto(b []byte) error {
	*d = StateDescriptor{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			v, err := pbwire.Uint(f)
			if err != nil {
				return err
			}
			d.Seq = SeqNo(v)
		case 2:
			msg, err := pbwire.Message(f)
			if err != nil {
				return err
			}
			var e PartDescription
			if err := e.UnmarshalProto(msg); err != nil {
				return err
			}
			d.Entries = append(d.Entries, e)
		case 3:
			var root Digest
			if err := pbwire.CopyFixed(root[:], f); err != nil {
				return err
			}
			d.Root = &root
		}
		return nil
	})
}

// AppendProto appends the protowire encoding of p to b.
func (p *StatePart) AppendProto(b []byte) []byte {
	b = pbwire.AppendMessage(b, 1, p.Description.AppendProto(nil))
	b = pbwire.AppendBytes(b, 2, p.Data)
	if !p.Digest.IsZero() {
		b = pbwire.AppendBytes(b, 3, p.Digest[:])
	}
	return pbwire.AppendVarint(b, 4, p.LogicalSize)
}

// UnmarshalProto decodes b into p.
func (p *StatePart) UnmarshalProto(b []byte) error {
	*p = StatePart{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			var msg []byte
			if msg, err = pbwire.Message(f); err == nil {
				err = p.Description.UnmarshalProto(msg)
			}
		case 2:
			p.Data, err = pbwire.Clone(f)
		case 3:
			err = pbwire.CopyFixed(p.Digest[:], f)
		case 4:
			p.LogicalSize, err = pbwire.Uint(f)
		}
		return err
	})
}
