// Package dedup implements the deduplication index (spec §4.5): an
// in-memory chunk_id -> (locator, refcount) map loaded from the
// committed index block tree on open, augmented by a staging overlay
// for the transaction currently in progress.
package dedup

import (
	"sync"

	"github.com/lostatc/acid-store/pkg/model"
)

// entry tracks a chunk-ref plus whether staging has touched it this
// transaction, so Merge only has to look at the overlay, never diff
// against the base map.
type entry struct {
	ref     model.ChunkRef
	present bool // false means "known absent", used for tombstoning within staging
}

// Index is the deduplication index (spec §4.5). All methods are safe
// for concurrent use; the repository-wide mutex (spec §5) means
// contention here is never actually concurrent within one process,
// but Index does not assume that of its caller.
type Index struct {
	mu      sync.RWMutex
	base    map[model.ChunkID]model.ChunkRef
	staging map[model.ChunkID]entry
}

// New constructs an Index from the chunk-ref table read from the
// committed index block tree (empty on a freshly created repository).
func New(committed []model.ChunkRef) *Index {
	base := make(map[model.ChunkID]model.ChunkRef, len(committed))
	for _, ref := range committed {
		base[ref.ChunkID] = ref
	}
	return &Index{base: base, staging: make(map[model.ChunkID]entry)}
}

// Lookup finds a chunk's ref, checking staging first (spec §4.5:
// "Lookups consult staging first").
func (idx *Index) Lookup(id model.ChunkID) (model.ChunkRef, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if e, ok := idx.staging[id]; ok {
		if !e.present {
			return model.ChunkRef{}, false
		}
		return e.ref, true
	}
	ref, ok := idx.base[id]
	return ref, ok
}

// StageNew records a brand-new chunk (spec §4.4 step 2 miss path)
// with an initial refcount of 1, in the staging overlay only.
func (idx *Index) StageNew(id model.ChunkID, loc model.Locator) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.staging[id] = entry{present: true, ref: model.ChunkRef{ChunkID: id, Locator: loc, Refcount: 1}}
}

// IncRef bumps a chunk's staging refcount by delta (may be negative),
// copying it from base into staging on first touch. delta is positive
// on an object write that reuses an existing chunk, negative on
// object removal or truncation (spec §4.5's "refcount arithmetic").
func (idx *Index) IncRef(id model.ChunkID, delta int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.staging[id]; ok {
		e.ref.Refcount += delta
		idx.staging[id] = e
		return
	}
	if ref, ok := idx.base[id]; ok {
		ref.Refcount += delta
		idx.staging[id] = entry{present: true, ref: ref}
		return
	}
	// IncRef on an unknown chunk is a caller bug (every referenced
	// chunk must have been staged via StageNew or already exist), but
	// staging a zero-locator placeholder here would corrupt I2; the
	// caller (pkg/object) never calls IncRef without a prior Lookup
	// hit, so this path is unreachable in practice.
}

// StagingRefcount returns the effective refcount of id as staging
// currently sees it, or 0 if the chunk does not exist.
func (idx *Index) StagingRefcount(id model.ChunkID) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if e, ok := idx.staging[id]; ok {
		if !e.present {
			return 0
		}
		return e.ref.Refcount
	}
	if ref, ok := idx.base[id]; ok {
		return ref.Refcount
	}
	return 0
}

// DiscardStaging drops the staging overlay entirely, used by
// rollback (spec §4.6).
func (idx *Index) DiscardStaging() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.staging = make(map[model.ChunkID]entry)
}

// StagingEntry is the exported shape of a staging-overlay entry, used
// to snapshot and restore staging state for savepoints (pkg/txn's
// Manager.Savepoint/Restore) without exposing the unexported entry
// type across the package boundary.
type StagingEntry struct {
	Ref     model.ChunkRef
	Present bool
}

// SnapshotStaging returns a deep copy of the current staging overlay,
// the in-memory half of a savepoint (spec C6's mid-transaction
// restore points): cheap, since it never touches base or the backend.
func (idx *Index) SnapshotStaging() map[model.ChunkID]StagingEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[model.ChunkID]StagingEntry, len(idx.staging))
	for id, e := range idx.staging {
		out[id] = StagingEntry{Ref: e.ref, Present: e.present}
	}
	return out
}

// RestoreStaging replaces the staging overlay with a deep copy of
// snapshot, restoring the dedup half of a savepoint.
func (idx *Index) RestoreStaging(snapshot map[model.ChunkID]StagingEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	staging := make(map[model.ChunkID]entry, len(snapshot))
	for id, e := range snapshot {
		staging[id] = entry{ref: e.Ref, present: e.Present}
	}
	idx.staging = staging
}

// Merge folds the staging overlay into the base map (spec §4.5: "on
// commit, the overlay is merged into the base map"). Any chunk whose
// merged refcount is zero is dropped, and its locator is returned in
// unreferenced so pkg/txn can schedule the backing block for
// reclamation once the chunk's block becomes fully unreferenced.
func (idx *Index) Merge() (unreferenced []model.Locator) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for id, e := range idx.staging {
		if !e.present || e.ref.Refcount <= 0 {
			if loc, ok := idx.base[id]; ok {
				unreferenced = append(unreferenced, loc.Locator)
			}
			delete(idx.base, id)
			continue
		}
		idx.base[id] = e.ref
	}
	idx.staging = make(map[model.ChunkID]entry)
	return unreferenced
}

// BlockChunkCount returns how many committed chunk-refs currently
// point into blockID, used by pkg/txn to decide whether a block that
// lost a chunk-ref during Merge is now wholly unreferenced and safe
// to delete (a packed block holding several chunks must survive as
// long as any one of them is still live).
func (idx *Index) BlockChunkCount(blockID model.BlockID) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, ref := range idx.base {
		if ref.Locator.BlockID == blockID {
			n++
		}
	}
	return n
}

// Snapshot returns every committed chunk-ref, for serialization into
// the index block tree at commit time.
func (idx *Index) Snapshot() []model.ChunkRef {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]model.ChunkRef, 0, len(idx.base))
	for _, ref := range idx.base {
		out = append(out, ref)
	}
	return out
}

// TotalRefcount sums every chunk-ref's refcount across the merged
// (base+staging) view, for the testable property in spec §8 ("sum of
// chunk-ref refcounts equals total chunk references from all object
// chunk lists").
func (idx *Index) TotalRefcount() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[model.ChunkID]bool, len(idx.base)+len(idx.staging))
	var total int64
	for id, e := range idx.staging {
		seen[id] = true
		if e.present {
			total += e.ref.Refcount
		}
	}
	for id, ref := range idx.base {
		if seen[id] {
			continue
		}
		total += ref.Refcount
	}
	return total
}
