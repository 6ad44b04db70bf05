package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/spaolacci/murmur3"

	"github.com/blockberries/statexfer/internal/pbwire"
)

// Entry is one key/value pair.
type Entry struct {
	Key   []byte `cramberry:"1"`
	Value []byte `cramberry:"2"`
}

// Bucket is the encoded content of one part: every entry whose key
// hashes to Index, sorted by key.
type Bucket struct {
	Index   uint32  `cramberry:"1"`
	Entries []Entry `cramberry:"2"`
}

// bucketOf returns the bucket a key belongs to.
func bucketOf(key []byte, buckets uint32) uint32 {
	return murmur3.Sum32(key) % buckets
}

// bucketID encodes a bucket index as a part id.
func bucketID(b uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, b)
}

// parseBucketID decodes a part id produced by bucketID.
func parseBucketID(id []byte, buckets uint32) (uint32, error) {
	if len(id) != 4 {
		return 0, fmt.Errorf("kv: part id %x is not a bucket id", id)
	}
	b := binary.BigEndian.Uint32(id)
	if b >= buckets {
		return 0, fmt.Errorf("kv: bucket %d out of range (%d buckets)", b, buckets)
	}
	return b, nil
}

// sortEntries orders entries by key.
func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return bytes.Compare(a.Key, b.Key) })
}

func (e *Entry) AppendProto(b []byte) []byte {
	b = pbwire.AppendBytes(b, 1, e.Key)
	return pbwire.AppendBytes(b, 2, e.Value)
}

func (e *Entry) UnmarshalProto(b []byte) error {
	*e = Entry{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			e.Key, err = pbwire.Clone(f)
		case 2:
			e.Value, err = pbwire.Clone(f)
		}
		return err
	})
}

func (bk *Bucket) AppendProto(b []byte) []byte {
	b = pbwire.AppendVarint(b, 1, uint64(bk.Index))
	for i := range bk.Entries {
		b = pbwire.AppendMessage(b, 2, bk.Entries[i].AppendProto(nil))
	}
	return b
}

func (bk *Bucket) UnmarshalProto(b []byte) error {
	*bk = Bucket{}
	return pbwire.Range(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			v, err := pbwire.Uint(f)
			if err != nil {
				return err
			}
			bk.Index = uint32(v)
		case 2:
			msg, err := pbwire.Message(f)
			if err != nil {
				return err
			}
			var e Entry
			if err := e.UnmarshalProto(msg); err != nil {
				return err
			}
			bk.Entries = append(bk.Entries, e)
		}
		return nil
	})
}
