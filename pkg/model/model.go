// Package model holds the data-model types shared by the dedup index,
// block store, transaction manager, and object layer (spec §3), kept
// separate from any one of those packages so none of them has to
// import another just to share a struct.
package model

import "github.com/lostatc/acid-store/pkg/crypto"

// ChunkID identifies a chunk by the BLAKE3-256 hash of its plaintext
// (spec §3: chunk_id = H(plaintext)).
type ChunkID = crypto.Hash

// BlockID is the random 128-bit identifier of a backend block (spec §3).
type BlockID [16]byte

// Locator is (block_id, offset, length): where a chunk's payload sits
// inside a block (spec §3).
type Locator struct {
	BlockID BlockID
	Offset  uint32
	Length  uint32
}

// ChunkRef is the persisted record binding a chunk_id to its locator
// and refcount (spec §3).
type ChunkRef struct {
	ChunkID  ChunkID
	Locator  Locator
	Refcount int64
}

// ObjectEntry is the persisted record for one logical object (spec
// §3): ordered chunk list, logical length, header bytes, and
// caller-defined metadata (SPEC_FULL.md §4 "object metadata blob").
type ObjectEntry struct {
	ID       []byte
	ChunkIDs []ChunkID
	Length   uint64
	Header   []byte
	Metadata []byte
}

// Clone returns a deep copy of an ObjectEntry, used whenever a
// staging overlay needs to mutate an entry without affecting the
// committed base table another reader might still be observing.
func (o *ObjectEntry) Clone() *ObjectEntry {
	cp := &ObjectEntry{
		ID:     append([]byte(nil), o.ID...),
		Length: o.Length,
	}
	cp.ChunkIDs = append([]ChunkID(nil), o.ChunkIDs...)
	cp.Header = append([]byte(nil), o.Header...)
	cp.Metadata = append([]byte(nil), o.Metadata...)
	return cp
}
