// Package types defines the wire types moved between replicas during
// state transfer.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. The same field numbers are used
// by the schema-based protowire encoding in proto.go. Transport
// concerns (gRPC codec registration) are handled in the transport
// packages.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// SeqNo identifies the point in the replicated log a checkpoint,
// part or message corresponds to.
type SeqNo uint64

// Next returns the sequence number following s.
func (s SeqNo) Next() SeqNo { return s + 1 }

// Less reports whether s orders before other.
func (s SeqNo) Less(other SeqNo) bool { return s < other }

func (s SeqNo) String() string { return fmt.Sprintf("seq(%d)", uint64(s)) }

// DigestSize is the length of a Digest in bytes.
const DigestSize = sha256.Size

// Digest is a 32-byte SHA-256 content digest.
type Digest [DigestSize]byte

// DigestOf returns the digest of b.
func DigestOf(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// String returns the hex encoding of d.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 8 hex characters, for logs.
func (d Digest) Short() string { return hex.EncodeToString(d[:4]) }

// Hasher is an incremental digest context.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns an empty hashing context.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Update feeds b into the context.
func (h *Hasher) Update(b []byte) {
	h.h.Write(b) // never returns an error
}

// Write implements io.Writer so a Hasher can sit behind an encoder.
func (h *Hasher) Write(b []byte) (int, error) {
	return h.h.Write(b)
}

// Finish returns the digest of everything written so far.
func (h *Hasher) Finish() Digest {
	var d Digest
	h.h.Sum(d[:0])
	return d
}
