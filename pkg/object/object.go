// Package object implements the object layer (spec §4.8): the public
// read/write/truncate/verify surface built on top of the transaction
// manager, deduplication index, and block store.
package object

import (
	"bytes"
	"context"
	"fmt"

	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/chunker"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/model"
	"github.com/lostatc/acid-store/pkg/txn"
)

// Handle is an open reference to one logical object (spec §4.8:
// "create_object(id) -> handle" / "open_object(id) -> handle").
// Reads and writes go through the handle's own in-memory copy of the
// object entry, staged into the transaction manager on every mutation
// so a concurrent OpenObject in the same transaction observes them.
type Handle struct {
	mgr    *txn.Manager
	params chunker.Params
	entry  *model.ObjectEntry
}

// Create stages a brand-new object (spec §4.8: fails AlreadyExists).
func Create(mgr *txn.Manager, id []byte, params chunker.Params) (*Handle, error) {
	entry, err := mgr.CreateObject(id)
	if err != nil {
		return nil, err
	}
	return &Handle{mgr: mgr, params: params, entry: entry}, nil
}

// Open returns a handle to an existing object (spec §4.8: fails
// NotFound).
func Open(mgr *txn.Manager, id []byte, params chunker.Params) (*Handle, error) {
	entry, err := mgr.OpenObject(id)
	if err != nil {
		return nil, err
	}
	return &Handle{mgr: mgr, params: params, entry: entry}, nil
}

// Remove stages the removal of id (spec §4.8: fails NotFound,
// decrements refcounts for all its chunks).
func Remove(mgr *txn.Manager, id []byte) error {
	return mgr.RemoveObject(id)
}

// List returns every object ID visible under the current transaction
// state (spec §4.8: "snapshot of current transaction state").
func List(mgr *txn.Manager) [][]byte {
	return mgr.ListObjects()
}

// Length returns the object's logical length.
func (h *Handle) Length() uint64 { return h.entry.Length }

// Metadata returns the caller-defined metadata blob attached to this
// object (SPEC_FULL.md's supplemented per-object metadata feature).
func (h *Handle) Metadata() []byte { return append([]byte(nil), h.entry.Metadata...) }

// SetMetadata stages a new metadata blob for this object.
func (h *Handle) SetMetadata(metadata []byte) error {
	h.entry.Metadata = append([]byte(nil), metadata...)
	return h.mgr.StageObject(h.entry)
}

// Read returns length bytes starting at offset (spec §4.8: fails
// Corrupt on verification mismatch, which propagates from the block
// store's own hash check).
func (h *Handle) Read(ctx context.Context, offset uint64, length uint64) ([]byte, error) {
	if offset > h.entry.Length {
		return nil, nil
	}
	end := offset + length
	if end > h.entry.Length {
		end = h.entry.Length
	}
	if end <= offset {
		return nil, nil
	}

	full, err := h.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return full[offset:end], nil
}

// readAll materializes the object's full plaintext by fetching and
// concatenating every chunk in order. Whole-object materialization on
// every read/write keeps the copy-on-write logic simple and, since
// content-defined chunking makes the chunk boundaries a pure function
// of content, does not compromise deduplication: a large-object
// streaming path would slice this the same way pkg/blockstore already
// streams chunk-by-chunk during Put.
func (h *Handle) readAll(ctx context.Context) ([]byte, error) {
	idx := h.mgr.Index()
	bs := h.mgr.BlockStore()

	// Chunks staged earlier in this transaction may still sit in the
	// unsealed open pack; seal it so every locator can be read back.
	if err := bs.Flush(ctx); err != nil {
		h.mgr.Poison(err)
		return nil, err
	}

	buf := make([]byte, 0, h.entry.Length)
	for _, chunkID := range h.entry.ChunkIDs {
		ref, ok := idx.Lookup(chunkID)
		if !ok {
			return nil, apierr.New(apierr.CodeCorrupt, fmt.Sprintf("object references unknown chunk %x", chunkID), nil)
		}
		plaintext, err := bs.Get(ctx, chunkID, ref.Locator)
		if err != nil {
			return nil, err
		}
		buf = append(buf, plaintext...)
	}
	return buf, nil
}

// Write performs a copy-on-write update at the chunk level (spec
// §4.8): the object's full content is re-chunked after the write is
// applied, previously referenced chunks are unreferenced, and
// unchanged chunks are transparently reused by the deduplication
// index because their chunk_id is unchanged.
func (h *Handle) Write(ctx context.Context, offset uint64, data []byte) error {
	full, err := h.readAll(ctx)
	if err != nil {
		return err
	}

	end := offset + uint64(len(data))
	if end > uint64(len(full)) {
		grown := make([]byte, end)
		copy(grown, full)
		full = grown
	}
	copy(full[offset:end], data)

	return h.rechunk(ctx, full)
}

// Truncate changes the object's logical length, zero-extending or
// discarding the tail as needed (spec §4.8: truncate(handle, len)).
func (h *Handle) Truncate(ctx context.Context, length uint64) error {
	full, err := h.readAll(ctx)
	if err != nil {
		return err
	}
	if length <= uint64(len(full)) {
		full = full[:length]
	} else {
		grown := make([]byte, length)
		copy(grown, full)
		full = grown
	}
	return h.rechunk(ctx, full)
}

// rechunk splits full into chunks, dedups each against the
// transaction's index, unreferences the handle's previous chunk list,
// and stages the resulting entry.
func (h *Handle) rechunk(ctx context.Context, full []byte) error {
	idx := h.mgr.Index()
	bs := h.mgr.BlockStore()

	for _, chunkID := range h.entry.ChunkIDs {
		idx.IncRef(chunkID, -1)
	}

	chunks, err := chunker.Split(bytes.NewReader(full), h.params)
	if err != nil {
		return fmt.Errorf("re-chunking object: %w", err)
	}

	chunkIDs := make([]model.ChunkID, 0, len(chunks))
	for _, c := range chunks {
		id := crypto.HashBytes(c.Data)
		if _, ok := idx.Lookup(id); ok {
			idx.IncRef(id, 1)
		} else {
			loc, err := bs.Put(ctx, id, c.Data)
			if err != nil {
				h.mgr.Poison(err)
				return err
			}
			idx.StageNew(id, loc)
		}
		chunkIDs = append(chunkIDs, id)
	}

	h.entry.ChunkIDs = chunkIDs
	h.entry.Length = uint64(len(full))
	return h.mgr.StageObject(h.entry)
}

// Flush forces any open pack containing this object's chunks to seal,
// without committing the transaction (spec §4.8: "flush(handle):
// forces any open pack ... to seal, still uncommitted").
func (h *Handle) Flush(ctx context.Context) error {
	return h.mgr.BlockStore().Flush(ctx)
}
