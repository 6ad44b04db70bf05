package codec_test

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	statexfer "github.com/blockberries/statexfer"
	"github.com/blockberries/statexfer/codec"
	"github.com/blockberries/statexfer/types"
)

var backends = []codec.Codec{codec.Cramberry{}, codec.Protowire{}}

func sampleDescriptor(t *testing.T) *types.StateDescriptor {
	t.Helper()
	p1 := types.NewStatePart([]byte{1}, 4, []byte("alpha"))
	p2 := types.NewStatePart([]byte{2}, 5, []byte("beta"))
	d, err := types.NewStateDescriptor(5, []types.PartDescription{p2.Description, p1.Description})
	if err != nil {
		t.Fatalf("NewStateDescriptor: %v", err)
	}
	return d
}

func TestCodec_StatePartRoundTrip(t *testing.T) {
	for _, c := range backends {
		t.Run(c.Name(), func(t *testing.T) {
			p := types.NewStatePart([]byte{0x0A, 0x0B}, 12, bytes.Repeat([]byte{0x5A}, 300))
			p.LogicalSize = 4096

			data, err := c.Marshal(&p)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got types.StatePart
			if err := c.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !got.Equal(&p) {
				t.Fatalf("part mismatch: got %v, want %v", got.Descriptor(), p.Descriptor())
			}
			if got.Size() != 4096 {
				t.Fatalf("expected logical size 4096, got %d", got.Size())
			}
			if !got.Valid() {
				t.Fatal("decoded part should verify")
			}
		})
	}
}

func TestCodec_DescriptorDeterministic(t *testing.T) {
	for _, c := range backends {
		t.Run(c.Name(), func(t *testing.T) {
			d := sampleDescriptor(t)

			first, err := c.Marshal(d)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var decoded types.StateDescriptor
			if err := c.Unmarshal(first, &decoded); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !decoded.Equal(d) {
				t.Fatal("decoded descriptor differs")
			}
			second, err := c.Marshal(&decoded)
			if err != nil {
				t.Fatalf("re-Marshal: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Fatalf("serialize -> deserialize -> serialize changed bytes:\n%x\n%x", first, second)
			}
		})
	}
}

func TestProtowire_RejectsUnknownTypes(t *testing.T) {
	type plain struct{ N int }

	_, err := codec.Protowire{}.Marshal(&plain{N: 1})
	if !errors.Is(err, statexfer.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
	err = codec.Protowire{}.Unmarshal([]byte{0x08, 0x01}, &plain{})
	if !errors.Is(err, statexfer.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}

func TestProtowire_TruncatedInput(t *testing.T) {
	p := types.NewStatePart([]byte{1}, 1, []byte("truncate me"))
	data, err := codec.Protowire{}.Marshal(&p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got types.StatePart
	err = codec.Protowire{}.Unmarshal(data[:len(data)-3], &got)
	if !errors.Is(err, statexfer.ErrSerialization) {
		t.Fatalf("expected ErrSerialization for truncated input, got %v", err)
	}
}

func TestDefault_IsOneOfTheBackends(t *testing.T) {
	switch codec.Default.Name() {
	case "cramberry", "protowire":
	default:
		t.Fatalf("unexpected default codec %q", codec.Default.Name())
	}

	d := sampleDescriptor(t)
	data, err := codec.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got types.StateDescriptor
	if err := codec.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Equal(d) {
		t.Fatal("default codec round trip changed the descriptor")
	}
}

func TestProtowire_WrongWireType(t *testing.T) {
	// Seq (field 3) sent length-delimited instead of as a varint.
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x01})
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x05})

	var got types.PartDescription
	err := codec.Protowire{}.Unmarshal(b, &got)
	if !errors.Is(err, statexfer.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}
