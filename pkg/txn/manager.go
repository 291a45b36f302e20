package txn

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
	"github.com/lostatc/acid-store/pkg/blockstore"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/dedup"
	"github.com/lostatc/acid-store/pkg/model"
)

// stagedObject records a pending mutation to one object's entry
// within the transaction currently in progress.
type stagedObject struct {
	removed bool
	entry   model.ObjectEntry
}

// Manager owns the superblock, the deduplication index, and the
// staged object table for one open repository instance (spec §4.6:
// "one writable transaction per repository instance at a time").
type Manager struct {
	mu sync.Mutex

	be        backend.Backend
	bs        *blockstore.Store
	idx       *dedup.Index
	masterKey [crypto.MasterKeySize]byte

	sb *wire.Superblock

	committed map[string]model.ObjectEntry
	staging   map[string]*stagedObject

	// generation counts commits. Every Savepoint records the
	// generation it was captured at; Restore rejects a savepoint whose
	// generation no longer matches, since a commit makes the staging
	// state it captured meaningless (spec C6, grounded on the original
	// acid-store's Arc/Weak transaction-id rotation in
	// repo/common/repository.rs's commit(), ported as a plain
	// generation counter since Go has no weak-reference primitive).
	generation uint64

	poisoned error
}

// NewManager wires a Manager over an already-opened backend, block
// store, and master key. Call Bootstrap for a brand-new repository or
// Open for an existing one before using the Manager further.
func NewManager(be backend.Backend, bs *blockstore.Store, masterKey [crypto.MasterKeySize]byte) *Manager {
	return &Manager{be: be, bs: bs, masterKey: masterKey, staging: make(map[string]*stagedObject)}
}

// Bootstrap initializes a brand-new repository: it writes an empty
// index root and the first canonical superblock. sb must already
// carry its feature flags, chunker params, and wrapped master key;
// Bootstrap fills in IndexRootBlockID/Len, TxCounter, and the
// integrity tag.
func (m *Manager) Bootstrap(ctx context.Context, sb *wire.Superblock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rootBlockID, err := m.bs.WriteRaw(ctx, wire.EncodeIndexRoot(nil, nil))
	if err != nil {
		return fmt.Errorf("writing initial index root: %w", err)
	}
	sb.FormatVersion = FormatVersion
	sb.IndexRootBlockID = [16]byte(rootBlockID)
	sb.IndexRootLen = 0
	sb.TxCounter = 0
	if err := sign(sb, m.masterKey); err != nil {
		return err
	}
	if err := m.be.Write(ctx, backend.KeySuper, sb.Encode()); err != nil {
		return apierr.New(apierr.CodeIO, "writing initial superblock", err)
	}

	m.sb = sb
	m.idx = dedup.New(nil)
	m.committed = make(map[string]model.ObjectEntry)
	m.bs.TakeWritten() // the bootstrap block is part of the canonical state, not a staging block
	return nil
}

// Open loads the canonical superblock and its referenced index root,
// verifies the superblock's integrity tag, and runs the crash-
// recovery sweep (spec §4.6: "walk all blocks reachable from the
// canonical superblock; any backend block not in the reachable set
// ... is deleted").
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.be.Read(ctx, backend.KeySuper)
	if err != nil {
		return err
	}
	sb, err := wire.DecodeSuperblock(raw)
	if err != nil {
		return apierr.New(apierr.CodeCorrupt, "decoding superblock", err)
	}
	ok, err := verify(sb, m.masterKey)
	if err != nil {
		return err
	}
	if !ok {
		// The master key has already been unwrapped and authenticated by
		// the caller's password before Open is ever reached (see
		// repository.go's Open, which fails CodeWrongPassword there); a
		// tag mismatch here means the superblock's integrity_tag bytes
		// were corrupted or tampered with independently of
		// wrapped_master_key, not that the password was wrong.
		return apierr.New(apierr.CodeCorrupt, "superblock integrity tag mismatch after password verification succeeded", nil)
	}
	if sb.FeatureFlags&^wire.KnownFeatureFlags != 0 {
		return apierr.New(apierr.CodeUnsupportedFeature, "superblock declares unknown feature flags", nil)
	}
	if sb.FormatVersion > FormatVersion {
		return apierr.New(apierr.CodeUnsupportedFeature, fmt.Sprintf("superblock format version %d newer than supported %d", sb.FormatVersion, FormatVersion), nil)
	}

	rootPlain, err := m.bs.ReadRaw(ctx, model.BlockID(sb.IndexRootBlockID))
	if err != nil {
		return err
	}
	refs, objects, err := wire.DecodeIndexRoot(rootPlain)
	if err != nil {
		return apierr.New(apierr.CodeCorrupt, "decoding index root", err)
	}

	m.sb = sb
	m.idx = dedup.New(refs)
	m.committed = make(map[string]model.ObjectEntry, len(objects))
	for _, obj := range objects {
		m.committed[hex.EncodeToString(obj.ID)] = obj
	}
	m.bs.TakeWritten()

	return m.recover(ctx)
}

// recover deletes every backend block not reachable from the just-
// loaded superblock (spec §4.6). Reachable = the index root block
// plus every block a committed chunk-ref points into.
func (m *Manager) recover(ctx context.Context) error {
	reachable := map[string]bool{
		hex.EncodeToString(m.sb.IndexRootBlockID[:]): true,
	}
	for _, ref := range m.idx.Snapshot() {
		raw := [16]byte(ref.Locator.BlockID)
		reachable[hex.EncodeToString(raw[:])] = true
	}

	keys, err := m.be.List(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		hexID, ok := blockKeyHex(key)
		if !ok {
			continue
		}
		if reachable[hexID] {
			continue
		}
		if err := m.be.Remove(ctx, key); err != nil {
			return apierr.New(apierr.CodeIO, fmt.Sprintf("reclaiming orphan block %s", hexID), err)
		}
	}
	return nil
}

func blockKeyHex(key string) (string, bool) {
	const prefix = "block/"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}

// Superblock returns the currently loaded superblock. Callers must
// not mutate the returned value.
func (m *Manager) Superblock() *wire.Superblock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb
}

// Index returns the deduplication index backing this transaction.
func (m *Manager) Index() *dedup.Index { return m.idx }

// BlockStore returns the block store backing this transaction.
func (m *Manager) BlockStore() *blockstore.Store { return m.bs }

// checkPoisoned returns the poisoning error, if any (spec §7:
// "transient backend errors during a transaction mark the
// transaction poisoned - all subsequent writes fail; only rollback is
// valid").
func (m *Manager) checkPoisoned() error {
	if m.poisoned != nil {
		return apierr.New(apierr.CodeIO, "transaction poisoned by a prior backend error; rollback required", m.poisoned)
	}
	return nil
}

// Poison marks the transaction as failed so every subsequent write
// through this Manager is rejected until Rollback is called.
func (m *Manager) Poison(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.poisoned == nil {
		m.poisoned = cause
	}
}

// CreateObject stages a brand-new object entry, failing AlreadyExists
// if id is already known, committed or staged (spec §4.8).
func (m *Manager) CreateObject(id []byte) (*model.ObjectEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return nil, err
	}

	key := hex.EncodeToString(id)
	if s, ok := m.staging[key]; ok {
		if !s.removed {
			return nil, apierr.New(apierr.CodeAlreadyExists, "object already exists", nil)
		}
	} else if _, ok := m.committed[key]; ok {
		return nil, apierr.New(apierr.CodeAlreadyExists, "object already exists", nil)
	}

	entry := model.ObjectEntry{ID: append([]byte(nil), id...)}
	m.staging[key] = &stagedObject{entry: entry}
	cp := entry.Clone()
	return cp, nil
}

// OpenObject returns a copy of the current staged-or-committed entry
// for id, failing NotFound if it does not exist or was removed in
// this transaction.
func (m *Manager) OpenObject(id []byte) (*model.ObjectEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hex.EncodeToString(id)
	if s, ok := m.staging[key]; ok {
		if s.removed {
			return nil, apierr.New(apierr.CodeNotFound, "object not found", nil)
		}
		return s.entry.Clone(), nil
	}
	if entry, ok := m.committed[key]; ok {
		return entry.Clone(), nil
	}
	return nil, apierr.New(apierr.CodeNotFound, "object not found", nil)
}

// StageObject records obj as this transaction's pending state for its
// ID, overwriting any previous staged version. Called by pkg/object
// after write/truncate/SetMetadata mutate a Handle's in-memory entry.
func (m *Manager) StageObject(obj *model.ObjectEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return err
	}
	key := hex.EncodeToString(obj.ID)
	m.staging[key] = &stagedObject{entry: *obj.Clone()}
	return nil
}

// RemoveObject stages the removal of id, decrementing dedup refcounts
// for all of its chunks, and fails NotFound if it does not currently
// exist (spec §4.8).
func (m *Manager) RemoveObject(id []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return err
	}

	key := hex.EncodeToString(id)
	var entry model.ObjectEntry
	if s, ok := m.staging[key]; ok {
		if s.removed {
			return apierr.New(apierr.CodeNotFound, "object not found", nil)
		}
		entry = s.entry
	} else if e, ok := m.committed[key]; ok {
		entry = e
	} else {
		return apierr.New(apierr.CodeNotFound, "object not found", nil)
	}

	for _, chunkID := range entry.ChunkIDs {
		m.idx.IncRef(chunkID, -1)
	}
	m.staging[key] = &stagedObject{removed: true, entry: entry}
	return nil
}

// ListObjects returns a snapshot of every object ID visible under the
// current transaction state (spec §4.8: "snapshot of current
// transaction state").
func (m *Manager) ListObjects() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.committed)+len(m.staging))
	var out [][]byte
	for key, s := range m.staging {
		seen[key] = true
		if !s.removed {
			out = append(out, append([]byte(nil), s.entry.ID...))
		}
	}
	for key, entry := range m.committed {
		if seen[key] {
			continue
		}
		out = append(out, append([]byte(nil), entry.ID...))
	}
	return out
}

// Commit runs the two-phase, copy-on-write commit protocol (spec
// §4.6). On success the staging overlay is empty and the transaction
// counter has advanced by one.
func (m *Manager) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return err
	}

	// Step 1: flush any open pack so every new block is durable.
	if err := m.bs.Flush(ctx); err != nil {
		m.poisoned = err
		return apierr.New(apierr.CodeIO, "flushing open pack", err)
	}

	// Fold staged object mutations into the committed table.
	for key, s := range m.staging {
		if s.removed {
			delete(m.committed, key)
		} else {
			m.committed[key] = s.entry
		}
	}

	unreferenced := m.idx.Merge()

	// Step 2: serialize and write the updated index tables.
	objects := make([]model.ObjectEntry, 0, len(m.committed))
	for _, obj := range m.committed {
		objects = append(objects, obj)
	}
	rootBytes := wire.EncodeIndexRoot(m.idx.Snapshot(), objects)
	newRootBlockID, err := m.bs.WriteRaw(ctx, rootBytes)
	if err != nil {
		m.poisoned = err
		return apierr.New(apierr.CodeIO, "writing index root", err)
	}

	// Step 3: construct and sign the new superblock, write it staged.
	oldRootBlockID := m.sb.IndexRootBlockID
	newSB := *m.sb
	newSB.IndexRootBlockID = [16]byte(newRootBlockID)
	newSB.IndexRootLen = uint64(len(rootBytes))
	newSB.TxCounter = m.sb.TxCounter + 1
	if err := sign(&newSB, m.masterKey); err != nil {
		m.poisoned = err
		return err
	}
	if err := m.be.Write(ctx, backend.KeySuperStaging, newSB.Encode()); err != nil {
		m.poisoned = err
		return apierr.New(apierr.CodeIO, "writing staging superblock", err)
	}

	// Step 4: atomically publish by overwriting the canonical key.
	if err := m.be.Write(ctx, backend.KeySuper, newSB.Encode()); err != nil {
		m.poisoned = err
		return apierr.New(apierr.CodeIO, "publishing superblock", err)
	}
	m.sb = &newSB

	// Step 5: delete blocks that are now unreferenced: the superseded
	// index root, plus any data block whose last live chunk-ref just
	// disappeared.
	m.bs.TakeWritten() // everything written this commit is now canonical, not orphaned by rollback
	if oldRootBlockID != newSB.IndexRootBlockID {
		if err := m.bs.Remove(ctx, model.BlockID(oldRootBlockID)); err != nil {
			// Non-fatal: the block is already unreachable and recovery
			// will reclaim it on the next open.
			_ = err
		}
	}
	deadBlocks := map[model.BlockID]bool{}
	for _, loc := range unreferenced {
		if m.idx.BlockChunkCount(loc.BlockID) == 0 {
			deadBlocks[loc.BlockID] = true
		}
	}
	for blockID := range deadBlocks {
		if err := m.bs.Remove(ctx, blockID); err != nil {
			_ = err
		}
	}

	// A successful commit invalidates every outstanding savepoint in
	// O(1): each carries the generation it was captured at, and none
	// will match this one again.
	m.generation++

	return nil
}

// RewriteSuperblock re-signs and republishes a superblock that only
// differs from the current one in its key-wrapping fields (spec
// §4.2's password rotation: "re-wrapped with a new password without
// re-encrypting data blocks"). It does not touch the index root or
// bump the transaction counter, since no object or chunk data changed.
func (m *Manager) RewriteSuperblock(ctx context.Context, sb *wire.Superblock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return err
	}

	cp := *sb
	if err := sign(&cp, m.masterKey); err != nil {
		return err
	}
	if err := m.be.Write(ctx, backend.KeySuperStaging, cp.Encode()); err != nil {
		return apierr.New(apierr.CodeIO, "writing staging superblock for rotation", err)
	}
	if err := m.be.Write(ctx, backend.KeySuper, cp.Encode()); err != nil {
		return apierr.New(apierr.CodeIO, "publishing rotated superblock", err)
	}
	m.sb = &cp
	return nil
}

// Rollback discards the staging overlay and every block written
// during this transaction, leaving the canonical superblock untouched
// (spec §4.6).
func (m *Manager) Rollback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.staging = make(map[string]*stagedObject)
	m.idx.DiscardStaging()
	m.poisoned = nil

	for _, blockID := range m.bs.TakeWritten() {
		if err := m.bs.Remove(ctx, blockID); err != nil {
			return apierr.New(apierr.CodeIO, fmt.Sprintf("removing staging block %x during rollback", blockID), err)
		}
	}
	return nil
}
