package blockstore

import (
	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/model"
)

// openPack accumulates compressed chunk payloads for the block
// currently being assembled (spec §4.4: "packing accumulates several
// small chunk payloads into one block, sealed once it reaches a
// target size"). Its block_id is minted up front, at open/reset time
// rather than at seal time, so every Locator handed back by add is
// already final and needs no later patching once the pack is sealed.
type openPack struct {
	blockID [16]byte
	entries []wire.PayloadEntry
	buf     []byte
}

func newOpenPack(blockID [16]byte) *openPack {
	return &openPack{blockID: blockID}
}

// add appends compressed to the pack and returns its final Locator.
func (p *openPack) add(id model.ChunkID, compressed []byte) model.Locator {
	off := uint32(len(p.buf))
	p.buf = append(p.buf, compressed...)
	length := uint32(len(compressed))
	p.entries = append(p.entries, wire.PayloadEntry{ChunkID: id, Offset: off, Len: length})
	return model.Locator{BlockID: model.BlockID(p.blockID), Offset: off, Length: length}
}

func (p *openPack) size() int {
	return len(p.buf)
}

func (p *openPack) empty() bool {
	return len(p.buf) == 0
}

// seal returns the accumulated payload directory and plaintext blob,
// ready for the caller to AEAD-seal under p.blockID.
func (p *openPack) seal() ([]wire.PayloadEntry, []byte) {
	return p.entries, p.buf
}
