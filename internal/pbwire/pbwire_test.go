package pbwire

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func fields(t *testing.T, b []byte) []Field {
	t.Helper()
	var out []Field
	if err := Range(b, func(f Field) error {
		out = append(out, f)
		return nil
	}); err != nil {
		t.Fatalf("Range: %v", err)
	}
	return out
}

func TestUint_RejectsBytesField(t *testing.T) {
	b := AppendMessage(nil, 3, []byte{0x05})
	f := fields(t, b)[0]
	if _, err := Uint(f); err == nil {
		t.Fatal("expected wire type error for bytes field read as varint")
	}
}

func TestMessage_RejectsVarintField(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	f := fields(t, b)[0]
	if _, err := Message(f); err == nil {
		t.Fatal("expected wire type error for varint field read as bytes")
	}
	if _, err := Clone(f); err == nil {
		t.Fatal("Clone must reject a varint field")
	}
	var dst [4]byte
	if err := CopyFixed(dst[:], f); err == nil {
		t.Fatal("CopyFixed must reject a varint field")
	}
}

func TestRoundTrip_TypedAccessors(t *testing.T) {
	b := AppendVarint(nil, 1, 42)
	b = AppendBytes(b, 2, []byte("abc"))
	fs := fields(t, b)
	if len(fs) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fs))
	}
	if v, err := Uint(fs[0]); err != nil || v != 42 {
		t.Fatalf("Uint = %d, %v", v, err)
	}
	c, err := Clone(fs[1])
	if err != nil || string(c) != "abc" {
		t.Fatalf("Clone = %q, %v", c, err)
	}
	c[0] = 'x'
	if string(fs[1].Bytes) != "abc" {
		t.Fatal("Clone must copy the payload")
	}
}

func TestAppend_SkipsZeroValues(t *testing.T) {
	if b := AppendVarint(nil, 1, 0); len(b) != 0 {
		t.Fatalf("zero varint encoded as %x", b)
	}
	if b := AppendBytes(nil, 1, nil); len(b) != 0 {
		t.Fatalf("empty bytes encoded as %x", b)
	}
	if b := AppendMessage(nil, 1, nil); len(b) == 0 {
		t.Fatal("AppendMessage must encode an empty message")
	}
}
