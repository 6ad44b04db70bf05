// Package pbwire holds the small amount of glue the schema-based codec
// needs on top of protowire: field iteration and append helpers that
// skip zero values the way proto3 does.
package pbwire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded top-level field. Bytes aliases the input.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Range calls fn for every varint and length-delimited field in b.
// Fields of other wire types are skipped.
func Range(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.Varint = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.Bytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// AppendBytes appends a length-delimited field, omitting it when empty.
func AppendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return AppendMessage(b, num, v)
}

// AppendMessage appends a length-delimited field even when v is empty.
// Used for repeated and embedded messages.
func AppendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// AppendVarint appends a varint field, omitting it when zero.
func AppendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Uint returns the value of a varint field.
func Uint(f Field) (uint64, error) {
	if f.Type != protowire.VarintType {
		return 0, fmt.Errorf("pbwire: field %d: expected varint, got wire type %d", f.Num, f.Type)
	}
	return f.Varint, nil
}

// Message returns the payload of a length-delimited field. The result
// aliases the input.
func Message(f Field) ([]byte, error) {
	if f.Type != protowire.BytesType {
		return nil, fmt.Errorf("pbwire: field %d: expected bytes, got wire type %d", f.Num, f.Type)
	}
	return f.Bytes, nil
}

// CopyFixed copies a length-delimited field into a fixed-size array.
func CopyFixed(dst []byte, f Field) error {
	b, err := Message(f)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("pbwire: field %d: expected %d bytes, got %d", f.Num, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// Clone returns a copy of a length-delimited field's payload, or nil
// for an empty payload.
func Clone(f Field) ([]byte, error) {
	b, err := Message(f)
	if err != nil || len(b) == 0 {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}
