// Package acidstore is a transactional, deduplicated, encrypted,
// content-addressed object store library. Repository is the top-level
// entry point wiring the backend, crypto envelope, chunker,
// deduplication index, block store, transaction manager, instance
// lock, and object layer together (spec.md §3-§4).
package acidstore

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lostatc/acid-store/internal/config"
	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
	"github.com/lostatc/acid-store/pkg/blockstore"
	"github.com/lostatc/acid-store/pkg/chunker"
	"github.com/lostatc/acid-store/pkg/compress"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/lock"
	"github.com/lostatc/acid-store/pkg/object"
	"github.com/lostatc/acid-store/pkg/txn"
)

// Object is a re-export of pkg/object.Handle, so callers of this
// package never need to import an internal package directly.
type Object = object.Handle

// VerifyReport is a re-export of pkg/object.Report.
type VerifyReport = object.Report

// Savepoint is a re-export of pkg/txn.Savepoint: a cheap, in-memory
// mid-transaction restore point (spec's C6 transaction manager
// module), distinct from and nested inside the commit/rollback
// boundary.
type Savepoint = txn.Savepoint

// Repository is one open attachment to an acid-store backend (spec
// §5). It is not safe for concurrent use from multiple goroutines: the
// transaction model is single-writer-per-instance, matching spec
// §4.6's "one writable transaction per repository instance at a
// time".
type Repository struct {
	be     backend.Backend
	mgr    *txn.Manager
	lock   *lock.Lock
	params chunker.Params
	log    *logrus.Logger
}

// Create initializes a brand-new repository on be, deriving a fresh
// master key wrapped under password, and writes the first superblock
// (spec §4.2, §4.6).
func Create(ctx context.Context, be backend.Backend, password string, cfg config.RepositoryConfig) (*Repository, error) {
	log := cfg.EffectiveLogger()

	masterKey, err := crypto.GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.WrapMasterKey(password, salt, cfg.KDFParams, masterKey)
	if err != nil {
		return nil, err
	}

	sb := &wire.Superblock{
		FeatureFlags:     featureFlags(cfg),
		ChunkerMin:       uint32(cfg.ChunkerParams.Min),
		ChunkerAvg:       uint32(cfg.ChunkerParams.Avg),
		ChunkerMax:       uint32(cfg.ChunkerParams.Max),
		Argon2Salt:       salt,
		KDFMemoryKiB:     cfg.KDFParams.MemoryKiB,
		KDFTime:          cfg.KDFParams.Time,
		KDFThreads:       cfg.KDFParams.Threads,
		WrappedMasterKey: wrapped,
	}

	bs, err := blockstore.New(be, masterKey, cfg.Compression, cfg.Packing, cfg.PackTargetSize)
	if err != nil {
		return nil, err
	}
	mgr := txn.NewManager(be, bs, masterKey)
	if err := mgr.Bootstrap(ctx, sb); err != nil {
		return nil, err
	}

	log.Info("created new repository")
	return &Repository{be: be, mgr: mgr, params: cfg.ChunkerParams, log: log}, nil
}

// Open attaches to an existing repository on be (spec §4.6 "Open"
// recovery sweep, §4.7 instance lock). Fails WrongPassword if
// password does not unwrap the stored master key, Locked/StaleLock
// per the instance lock's rules.
func Open(ctx context.Context, be backend.Backend, opts config.OpenConfig) (*Repository, error) {
	log := opts.EffectiveLogger()

	raw, err := be.Read(ctx, backend.KeySuper)
	if err != nil {
		return nil, err
	}
	sb, err := wire.DecodeSuperblock(raw)
	if err != nil {
		return nil, apierr.New(apierr.CodeCorrupt, "decoding superblock", err)
	}

	masterKey, err := crypto.UnwrapMasterKey(opts.Password, sb.Argon2Salt, crypto.KDFParams{
		MemoryKiB: sb.KDFMemoryKiB, Time: sb.KDFTime, Threads: sb.KDFThreads,
	}, sb.WrappedMasterKey)
	if err != nil {
		return nil, apierr.New(apierr.CodeWrongPassword, "unwrapping master key", err)
	}

	gracePeriod := time.Duration(opts.LockGracePeriodS) * time.Second
	l, err := lock.Acquire(ctx, be, gracePeriod, 0, opts.ForceStaleLock)
	if err != nil {
		return nil, err
	}

	packing := sb.FeatureFlags&wire.FeaturePacking != 0
	algo := compressionFromFlags(sb.FeatureFlags)
	bs, err := blockstore.New(be, masterKey, algo, packing, 4*1024*1024)
	if err != nil {
		_ = l.Release(ctx)
		return nil, err
	}
	mgr := txn.NewManager(be, bs, masterKey)
	if err := mgr.Open(ctx); err != nil {
		_ = l.Release(ctx)
		return nil, err
	}

	params := chunker.Params{Min: int(sb.ChunkerMin), Avg: int(sb.ChunkerAvg), Max: int(sb.ChunkerMax)}
	if sb.FeatureFlags&wire.FeatureChunkingFixed != 0 {
		params.Mode = chunker.Fixed
	} else {
		params.Mode = chunker.ContentDefined
	}

	log.Info("opened repository")
	return &Repository{be: be, mgr: mgr, lock: l, params: params, log: log}, nil
}

// Close releases the instance lock. It does not commit or roll back
// any pending transaction; callers must do that explicitly first.
func (r *Repository) Close(ctx context.Context) error {
	if r.lock == nil {
		return nil
	}
	return r.lock.Release(ctx)
}

// CreateObject stages a brand-new object (spec §4.8).
func (r *Repository) CreateObject(id []byte) (*Object, error) {
	return object.Create(r.mgr, id, r.params)
}

// OpenObject opens an existing object (spec §4.8).
func (r *Repository) OpenObject(id []byte) (*Object, error) {
	return object.Open(r.mgr, id, r.params)
}

// RemoveObject stages the removal of an object (spec §4.8).
func (r *Repository) RemoveObject(id []byte) error {
	return object.Remove(r.mgr, id)
}

// ListObjects returns every object ID visible in the current
// transaction (spec §4.8).
func (r *Repository) ListObjects() [][]byte {
	return object.List(r.mgr)
}

// Commit runs the two-phase commit protocol (spec §4.6).
func (r *Repository) Commit(ctx context.Context) error {
	if err := r.mgr.Commit(ctx); err != nil {
		r.log.WithError(err).Error("commit failed")
		return err
	}
	r.log.Info("committed transaction")
	return nil
}

// Rollback discards the staging overlay (spec §4.6).
func (r *Repository) Rollback(ctx context.Context) error {
	if err := r.mgr.Rollback(ctx); err != nil {
		return err
	}
	r.log.Info("rolled back transaction")
	return nil
}

// Savepoint captures the current transaction's staged state, without
// committing it, so a later call to Restore can undo everything
// staged since (or, if Restore is later called against an earlier
// savepoint and then this one again, redo it). It is invalidated the
// instant Commit succeeds.
func (r *Repository) Savepoint(ctx context.Context) (*Savepoint, error) {
	return r.mgr.Savepoint(ctx)
}

// Restore resets the current transaction's staged state to sp,
// discarding any object creation, write, truncation, metadata change,
// or removal staged since sp was captured (or redoing it, if sp was
// captured after a savepoint already restored to). It does not touch
// the canonical superblock: Restore only ever moves the in-progress
// transaction, never a past commit. Fails with a CodeInvalidSavepoint
// RepoError if the repository has committed since sp was captured.
func (r *Repository) Restore(sp *Savepoint) error {
	return r.mgr.Restore(sp)
}

// Verify walks every reachable chunk, forcing a decrypt and rehash of
// each (spec §4.8).
func (r *Repository) Verify(ctx context.Context) (*VerifyReport, error) {
	return object.Verify(ctx, r.mgr)
}

// VerifySince is the incremental variant of Verify (SPEC_FULL.md §5.4
// decision 3).
func (r *Repository) VerifySince(ctx context.Context, txnCounter uint64) (*VerifyReport, error) {
	return object.VerifySince(ctx, r.mgr, txnCounter)
}

// ChangePassword re-wraps the repository master key under newPassword
// without touching any data block (SPEC_FULL.md §4's supplemented key
// rotation feature, spec §4.2).
func (r *Repository) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	sb := r.mgr.Superblock()
	masterKey, err := crypto.UnwrapMasterKey(oldPassword, sb.Argon2Salt, crypto.KDFParams{
		MemoryKiB: sb.KDFMemoryKiB, Time: sb.KDFTime, Threads: sb.KDFThreads,
	}, sb.WrappedMasterKey)
	if err != nil {
		return apierr.New(apierr.CodeWrongPassword, "unwrapping master key for rotation", err)
	}

	salt, wrapped, err := crypto.Rewrap(newPassword, crypto.KDFParams{
		MemoryKiB: sb.KDFMemoryKiB, Time: sb.KDFTime, Threads: sb.KDFThreads,
	}, masterKey)
	if err != nil {
		return err
	}

	newSB := *sb
	newSB.Argon2Salt = salt
	newSB.WrappedMasterKey = wrapped
	if err := r.mgr.RewriteSuperblock(ctx, &newSB); err != nil {
		return err
	}
	r.log.Info("rotated repository password")
	return nil
}

func featureFlags(cfg config.RepositoryConfig) wire.FeatureFlag {
	flags := wire.FeatureEncryption
	if cfg.Packing {
		flags |= wire.FeaturePacking
	}
	switch cfg.Compression {
	case compress.LZ4:
		flags |= wire.FeatureCompressionLZ4
	case compress.XZ:
		flags |= wire.FeatureCompressionXZ
	}
	if cfg.ChunkerParams.Mode == chunker.Fixed {
		flags |= wire.FeatureChunkingFixed
	} else {
		flags |= wire.FeatureChunkingCDC
	}
	return flags
}

func compressionFromFlags(flags wire.FeatureFlag) compress.Algorithm {
	switch {
	case flags&wire.FeatureCompressionLZ4 != 0:
		return compress.LZ4
	case flags&wire.FeatureCompressionXZ != 0:
		return compress.XZ
	default:
		return compress.None
	}
}
