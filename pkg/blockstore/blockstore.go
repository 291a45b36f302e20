// Package blockstore implements the block store (spec §4.4): the
// compress-then-encrypt-then-pack pipeline that turns chunk plaintext
// into backend blocks, and the reverse pipeline that recovers chunk
// plaintext from a block on read.
package blockstore

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
	"github.com/lostatc/acid-store/pkg/compress"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/model"
)

// FormatVersion is embedded in every block's AEAD associated data
// (spec §6). Bumping it invalidates every previously sealed block, so
// it only changes on an incompatible wire format revision.
const FormatVersion uint32 = 1

// Store drives the block store pipeline over a Backend (spec §4.1,
// §4.4). It holds no chunk-level state of its own; the dedup index
// (pkg/dedup) is Store's caller, not its dependency, keeping the
// packing/crypto concern separate from the identity concern.
type Store struct {
	backend    backend.Backend
	masterKey  [crypto.MasterKeySize]byte
	compress   compress.Algorithm
	packing    bool
	packTarget int

	open *openPack

	written []model.BlockID
}

// New constructs a Store. packTarget is the approximate plaintext
// size (spec §4.4 "target size, e.g. 4-8 MiB") a pack block is sealed
// at; packing disables packing entirely, sealing one block per chunk,
// when false.
func New(be backend.Backend, masterKey [crypto.MasterKeySize]byte, algo compress.Algorithm, packing bool, packTarget int) (*Store, error) {
	s := &Store{backend: be, masterKey: masterKey, compress: algo, packing: packing, packTarget: packTarget}
	if packing {
		blockID, err := crypto.GenerateBlockID()
		if err != nil {
			return nil, err
		}
		s.open = newOpenPack(blockID)
	}
	return s, nil
}

// Put runs plaintext through compress -> encrypt -> pack (spec §4.4
// steps 3-5) and returns the Locator recording where it landed. If
// packing is enabled the chunk may not hit the backend immediately;
// call Flush (or let the next Put trigger a seal) to guarantee
// durability before a transaction commits.
func (s *Store) Put(ctx context.Context, id model.ChunkID, plaintext []byte) (model.Locator, error) {
	compressed, err := compress.Compress(s.compress, plaintext)
	if err != nil {
		return model.Locator{}, fmt.Errorf("compressing chunk %x: %w", id, err)
	}

	if !s.packing {
		return s.putSingle(ctx, id, compressed)
	}
	return s.putPacked(ctx, id, compressed)
}

// putSingle seals one chunk as its own block (spec §4.4: packing may
// be disabled entirely).
func (s *Store) putSingle(ctx context.Context, id model.ChunkID, compressed []byte) (model.Locator, error) {
	blockID, err := crypto.GenerateBlockID()
	if err != nil {
		return model.Locator{}, err
	}

	entries := []wire.PayloadEntry{{ChunkID: id, Offset: 0, Len: uint32(len(compressed))}}
	blk := &wire.Block{Version: wire.BlockVersion, Entries: entries}
	if err := s.sealAndWrite(ctx, blockID, blk, compressed); err != nil {
		return model.Locator{}, err
	}
	return model.Locator{BlockID: model.BlockID(blockID), Offset: 0, Length: uint32(len(compressed))}, nil
}

// putPacked accumulates compressed into the currently open pack,
// sealing it to the backend once it reaches packTarget (spec §4.4
// "packing accumulates several small chunk payloads into one block").
func (s *Store) putPacked(ctx context.Context, id model.ChunkID, compressed []byte) (model.Locator, error) {
	loc := s.open.add(id, compressed)
	if s.open.size() >= s.packTarget {
		if err := s.Flush(ctx); err != nil {
			return model.Locator{}, err
		}
	}
	return loc, nil
}

// Flush seals the currently open pack (if non-empty) to the backend.
// Called by pkg/txn before a commit's index tables are written, so
// every locator referenced by the object/index tables already points
// at durable backend state.
func (s *Store) Flush(ctx context.Context) error {
	if s.open == nil || s.open.empty() {
		return nil
	}

	blockID := s.open.blockID
	entries, plaintext := s.open.seal()
	blk := &wire.Block{Version: wire.BlockVersion, Entries: entries}
	if err := s.sealAndWrite(ctx, blockID, blk, plaintext); err != nil {
		return err
	}

	nextID, err := crypto.GenerateBlockID()
	if err != nil {
		return err
	}
	s.open = newOpenPack(nextID)
	return nil
}

// sealAndWrite AEAD-seals plaintext under blockID and writes the
// resulting block to the backend.
func (s *Store) sealAndWrite(ctx context.Context, blockID [16]byte, blk *wire.Block, plaintext []byte) error {
	ad := crypto.BuildAD(blockID, FormatVersion)
	nonce, ciphertext, err := crypto.SealBlock(s.masterKey, ad, plaintext)
	if err != nil {
		return fmt.Errorf("sealing block %x: %w", blockID, err)
	}
	copy(blk.Nonce[:], nonce)
	blk.Ciphertext = ciphertext

	header := blk.EncodeHeader()
	payload := append(header, blk.Ciphertext...)

	key := backend.BlockKey(hex.EncodeToString(blockID[:]))
	if err := s.backend.Write(ctx, key, payload); err != nil {
		return apierr.New(apierr.CodeIO, fmt.Sprintf("writing block %x", blockID), err).WithBlock(hex.EncodeToString(blockID[:]))
	}
	s.written = append(s.written, model.BlockID(blockID))
	return nil
}

// TakeWritten returns every block_id written via Put/Flush since the
// last call to TakeWritten, and clears the internal record. Used by
// pkg/txn to know which blocks a transaction wrote, so rollback can
// delete them all (spec §4.6: "delete staging-only blocks from the
// backend") and a successful commit can simply discard the record.
func (s *Store) TakeWritten() []model.BlockID {
	out := s.written
	s.written = nil
	return out
}

// WriteRaw AEAD-seals and writes an arbitrary metadata payload (the
// index root, not a chunk) under a fresh block_id, reusing the same
// block wire format and key namespace as chunk data. Returns the
// block_id so the caller (pkg/txn) can record it in the superblock.
func (s *Store) WriteRaw(ctx context.Context, plaintext []byte) (model.BlockID, error) {
	blockID, err := crypto.GenerateBlockID()
	if err != nil {
		return model.BlockID{}, err
	}
	blk := &wire.Block{Version: wire.BlockVersion}
	if err := s.sealAndWrite(ctx, blockID, blk, plaintext); err != nil {
		return model.BlockID{}, err
	}
	return model.BlockID(blockID), nil
}

// ReadRaw fetches and authenticates the metadata payload written by
// WriteRaw, without any chunk-hash verification (there is no single
// chunk_id for an index root).
func (s *Store) ReadRaw(ctx context.Context, blockID model.BlockID) ([]byte, error) {
	raw := [16]byte(blockID)
	blockHex := hex.EncodeToString(raw[:])
	key := backend.BlockKey(blockHex)
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if ae, ok := apierr.AsRepoError(err); ok {
			return nil, ae
		}
		return nil, apierr.New(apierr.CodeIO, fmt.Sprintf("reading block %x", raw), err).WithBlock(blockHex)
	}
	hdr, consumed, err := wire.DecodeHeader(data)
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("decoding block %x header", raw), err).WithBlock(blockHex)
	}
	ad := crypto.BuildAD(raw, FormatVersion)
	plaintext, err := crypto.OpenBlock(s.masterKey, ad, hdr.Nonce[:], data[consumed:])
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("authenticating block %x", raw), err).WithBlock(blockHex)
	}
	return plaintext, nil
}

// Get fetches and reverses the pipeline for the chunk at loc,
// verifying its content hash against id (spec §4.4 step reverse:
// "verify chunk_id hash; mismatch is Corrupt").
func (s *Store) Get(ctx context.Context, id model.ChunkID, loc model.Locator) ([]byte, error) {
	blockID := [16]byte(loc.BlockID)
	blockHex := hex.EncodeToString(blockID[:])
	key := backend.BlockKey(blockHex)
	raw, err := s.backend.Read(ctx, key)
	if err != nil {
		if ae, ok := apierr.AsRepoError(err); ok {
			return nil, ae
		}
		return nil, apierr.New(apierr.CodeIO, fmt.Sprintf("reading block %x", blockID), err).WithBlock(blockHex)
	}

	hdr, consumed, err := wire.DecodeHeader(raw)
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("decoding block %x header", blockID), err).WithBlock(blockHex)
	}
	ciphertext := raw[consumed:]

	ad := crypto.BuildAD(blockID, FormatVersion)
	plaintext, err := crypto.OpenBlock(s.masterKey, ad, hdr.Nonce[:], ciphertext)
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("authenticating block %x", blockID), err).WithBlock(blockHex)
	}

	if int(loc.Offset)+int(loc.Length) > len(plaintext) {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("locator out of range for block %x", blockID), nil).WithBlock(blockHex)
	}
	compressed := plaintext[loc.Offset : loc.Offset+loc.Length]

	chunkHex := hex.EncodeToString(id[:])
	decompressed, err := compress.Decompress(s.compress, compressed)
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("decompressing chunk %x", id), err).WithChunk(chunkHex)
	}

	got := crypto.HashBytes(decompressed)
	if got != crypto.Hash(id) {
		return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("chunk %x hash mismatch", id), nil).WithChunk(chunkHex).WithBlock(blockHex)
	}
	return decompressed, nil
}

// Remove deletes the backend block identified by id. Called by
// pkg/txn once every chunk-ref pointing into a block has been
// unreferenced by a commit (spec §4.6: "orphaned blocks are deleted").
func (s *Store) Remove(ctx context.Context, blockID model.BlockID) error {
	raw := [16]byte(blockID)
	blockHex := hex.EncodeToString(raw[:])
	key := backend.BlockKey(blockHex)
	if err := s.backend.Remove(ctx, key); err != nil {
		return apierr.New(apierr.CodeIO, fmt.Sprintf("removing block %x", blockID), err).WithBlock(blockHex)
	}
	return nil
}
