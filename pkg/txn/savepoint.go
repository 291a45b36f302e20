package txn

import (
	"context"

	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/dedup"
	"github.com/lostatc/acid-store/pkg/model"
)

// Savepoint is a cheap, in-memory snapshot of a transaction's staged
// object table and deduplication overlay, captured without touching
// the backend beyond flushing any pack already buffered in memory
// (spec's C6 transaction manager module, grounded on the original
// acid-store's repo/common/savepoint.rs Savepoint type and
// repository.rs's KeyRepo::savepoint/restore).
//
// A Savepoint supports both undo (restoring to an earlier savepoint)
// and redo (restoring to a later one already captured, even after
// having restored to an earlier one), since each snapshot holds a
// complete independent copy of the staged state rather than a diff
// against whatever the live state happens to be at restore time. It
// is invalidated the instant its owning Manager commits: Restore on
// an invalidated savepoint fails with apierr.CodeInvalidSavepoint. An
// ordinary Rollback does not invalidate savepoints captured before
// it — rollback only ever undoes to the last commit, a boundary every
// savepoint already lives inside of.
type Savepoint struct {
	generation uint64
	staging    map[string]*stagedObject
	dedupStage map[model.ChunkID]dedup.StagingEntry
}

// Savepoint captures the transaction's current staged state. Like
// Commit, it first flushes any pack buffered in the block store, so a
// later Restore to this savepoint can never resurrect a reference to
// a chunk whose backing block was never durably written.
func (m *Manager) Savepoint(ctx context.Context) (*Savepoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkPoisoned(); err != nil {
		return nil, err
	}

	if err := m.bs.Flush(ctx); err != nil {
		m.poisoned = err
		return nil, apierr.New(apierr.CodeIO, "flushing open pack for savepoint", err)
	}

	return &Savepoint{
		generation: m.generation,
		staging:    cloneStaging(m.staging),
		dedupStage: m.idx.SnapshotStaging(),
	}, nil
}

// Restore resets the transaction's staged object table and
// deduplication overlay to exactly what they were when sp was
// captured, without touching the canonical superblock or any already
// committed state. It also clears any poisoning, since restoring to a
// known-good staged state is itself a recovery action. Fails with
// apierr.CodeInvalidSavepoint if the Manager has committed since sp
// was captured.
//
// sp itself remains valid and reusable after Restore returns (redo
// support): restoring to a savepoint captured earlier than sp, then
// restoring back to sp, is well-defined.
func (m *Manager) Restore(sp *Savepoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sp.generation != m.generation {
		return apierr.New(apierr.CodeInvalidSavepoint, "savepoint no longer valid: transaction committed since it was captured", nil)
	}

	m.staging = cloneStaging(sp.staging)
	m.idx.RestoreStaging(sp.dedupStage)
	m.poisoned = nil

	return nil
}

func cloneStaging(src map[string]*stagedObject) map[string]*stagedObject {
	out := make(map[string]*stagedObject, len(src))
	for key, s := range src {
		cp := *s
		cp.entry = *s.entry.Clone()
		out[key] = &cp
	}
	return out
}
