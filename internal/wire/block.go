package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// BlockMagic identifies an acid-store data/index block.
var BlockMagic = [4]byte{'a', 'b', 'l', 'k'}

// BlockVersion is the current block wire format version.
const BlockVersion uint8 = 1

// PayloadEntry locates one packed chunk payload within a block (spec
// §6: "count(u32) then count x {chunk_id(32), offset(u32), len(u32)}").
// A block is sealed under exactly one AEAD operation covering every
// packed payload at once (pkg/blockstore's sealAndWrite/Get): Offset
// and Len describe a byte range within that single post-decrypt
// buffer, not within an encrypted or per-chunk-sealed blob. Each
// chunk's compressed bytes live at buffer[Offset:Offset+Len]; the
// caller decompresses that slice after the one whole-block AEAD open.
type PayloadEntry struct {
	ChunkID [32]byte
	Offset  uint32
	Len     uint32
}

// Block is the decoded form of one backend block (spec §6).
type Block struct {
	Version  uint8
	Flags    uint8
	Nonce    [24]byte
	Entries  []PayloadEntry
	// Ciphertext holds the block's single AEAD-sealed payload region as
	// written to the backend, still fully encrypted at this point. It is
	// opened once by the caller (see sealAndWrite/Get in pkg/blockstore,
	// which layer AEAD around this codec rather than duplicating it
	// here); the resulting plaintext is a packed, still-compressed
	// buffer addressed by each PayloadEntry's Offset/Len.
	Ciphertext []byte
}

// EncodeHeader serializes the block header and payload directory: the
// part of the wire format that precedes the AEAD ciphertext (spec §6:
// "block_header ... payload_entries ... ciphertext(...) | aead_tag").
func (b *Block) EncodeHeader() []byte {
	var buf bytes.Buffer
	buf.Write(BlockMagic[:])
	buf.WriteByte(b.Version)
	buf.WriteByte(b.Flags)
	buf.Write(b.Nonce[:])

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(b.Entries)))
	buf.Write(countBuf[:])

	for _, e := range b.Entries {
		buf.Write(e.ChunkID[:])
		var off, ln [4]byte
		binary.LittleEndian.PutUint32(off[:], e.Offset)
		binary.LittleEndian.PutUint32(ln[:], e.Len)
		buf.Write(off[:])
		buf.Write(ln[:])
	}
	return buf.Bytes()
}

// DecodeHeader parses the block header and payload directory from the
// front of data, returning the header fields and the number of bytes
// consumed so the caller can slice off the remaining AEAD ciphertext.
func DecodeHeader(data []byte) (hdr *Block, consumed int, err error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, 0, fmt.Errorf("reading block magic: %w", err)
	}
	if magic != BlockMagic {
		return nil, 0, fmt.Errorf("bad block magic %x", magic)
	}

	hdr = &Block{}
	var err1 error
	if hdr.Version, err1 = r.ReadByte(); err1 != nil {
		return nil, 0, fmt.Errorf("reading block version: %w", err1)
	}
	if hdr.Flags, err1 = r.ReadByte(); err1 != nil {
		return nil, 0, fmt.Errorf("reading block flags: %w", err1)
	}
	if _, err := io.ReadFull(r, hdr.Nonce[:]); err != nil {
		return nil, 0, fmt.Errorf("reading block nonce: %w", err)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("reading payload count: %w", err)
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	hdr.Entries = make([]PayloadEntry, count)
	for i := range hdr.Entries {
		var e PayloadEntry
		if _, err := io.ReadFull(r, e.ChunkID[:]); err != nil {
			return nil, 0, fmt.Errorf("reading payload entry %d chunk id: %w", i, err)
		}
		var off, ln [4]byte
		if _, err := io.ReadFull(r, off[:]); err != nil {
			return nil, 0, fmt.Errorf("reading payload entry %d offset: %w", i, err)
		}
		if _, err := io.ReadFull(r, ln[:]); err != nil {
			return nil, 0, fmt.Errorf("reading payload entry %d len: %w", i, err)
		}
		e.Offset = binary.LittleEndian.Uint32(off[:])
		e.Len = binary.LittleEndian.Uint32(ln[:])
		hdr.Entries[i] = e
	}

	consumed = len(data) - r.Len()
	return hdr, consumed, nil
}
