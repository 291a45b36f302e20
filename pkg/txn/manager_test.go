package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
	"github.com/lostatc/acid-store/pkg/blockstore"
	"github.com/lostatc/acid-store/pkg/compress"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/model"
)

func newBootstrapped(t *testing.T) (*Manager, backend.Backend, [crypto.MasterKeySize]byte) {
	t.Helper()
	ctx := context.Background()
	be := backend.NewMemory()

	var masterKey [crypto.MasterKeySize]byte
	masterKey[0] = 0x42

	bs, err := blockstore.New(be, masterKey, compress.None, false, 4096)
	require.NoError(t, err)

	mgr := NewManager(be, bs, masterKey)
	sb := &wire.Superblock{FeatureFlags: wire.FeatureEncryption}
	require.NoError(t, mgr.Bootstrap(ctx, sb))
	return mgr, be, masterKey
}

func TestBootstrapThenOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, be, masterKey := newBootstrapped(t)

	bs2, err := blockstore.New(be, masterKey, compress.None, false, 4096)
	require.NoError(t, err)
	mgr2 := NewManager(be, bs2, masterKey)
	require.NoError(t, mgr2.Open(ctx))

	assert.Equal(t, mgr.Superblock().TxCounter, mgr2.Superblock().TxCounter)
	assert.Empty(t, mgr2.ListObjects())
}

func TestCreateStageCommitPersistsObject(t *testing.T) {
	ctx := context.Background()
	mgr, be, masterKey := newBootstrapped(t)

	entry, err := mgr.CreateObject([]byte("obj-1"))
	require.NoError(t, err)
	entry.Length = 10
	require.NoError(t, mgr.StageObject(entry))
	require.NoError(t, mgr.Commit(ctx))

	bs2, err := blockstore.New(be, masterKey, compress.None, false, 4096)
	require.NoError(t, err)
	mgr2 := NewManager(be, bs2, masterKey)
	require.NoError(t, mgr2.Open(ctx))

	got, err := mgr2.OpenObject([]byte("obj-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Length)
	assert.Equal(t, uint64(1), mgr2.Superblock().TxCounter)
}

func TestCreateObjectAlreadyExists(t *testing.T) {
	mgr, _, _ := newBootstrapped(t)
	_, err := mgr.CreateObject([]byte("dup"))
	require.NoError(t, err)
	_, err = mgr.CreateObject([]byte("dup"))
	require.Error(t, err)
	re, ok := apierr.AsRepoError(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeAlreadyExists, re.Code)
}

func TestRollbackDiscardsStagingAndWrittenBlocks(t *testing.T) {
	ctx := context.Background()
	mgr, be, _ := newBootstrapped(t)

	entry, err := mgr.CreateObject([]byte("obj-2"))
	require.NoError(t, err)
	loc, err := mgr.BlockStore().Put(ctx, model.ChunkID{1}, []byte("payload"))
	require.NoError(t, err)
	entry.ChunkIDs = []model.ChunkID{{1}}
	entry.Length = uint64(loc.Length)
	mgr.Index().StageNew(model.ChunkID{1}, loc)
	require.NoError(t, mgr.StageObject(entry))

	keysBefore, err := be.List(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Rollback(ctx))

	_, err = mgr.OpenObject([]byte("obj-2"))
	assert.Error(t, err)

	keysAfter, err := be.List(ctx)
	require.NoError(t, err)
	assert.Less(t, len(keysAfter), len(keysBefore))
}

func TestOpenReclaimsBlocksWrittenBeforeCrash(t *testing.T) {
	ctx := context.Background()
	mgr, be, masterKey := newBootstrapped(t)

	// Simulate a crash: write a block but never stage it or call
	// Commit, so the canonical superblock never references the new
	// block.
	_, err := mgr.BlockStore().Put(ctx, model.ChunkID{9}, []byte("orphan"))
	require.NoError(t, err)

	keysBeforeReopen, err := be.List(ctx)
	require.NoError(t, err)
	require.Greater(t, len(keysBeforeReopen), 1)

	bs2, err := blockstore.New(be, masterKey, compress.None, false, 4096)
	require.NoError(t, err)
	mgr2 := NewManager(be, bs2, masterKey)
	require.NoError(t, mgr2.Open(ctx))

	keysAfterReopen, err := be.List(ctx)
	require.NoError(t, err)
	assert.Less(t, len(keysAfterReopen), len(keysBeforeReopen))
	assert.Empty(t, mgr2.ListObjects())
}

func TestRemoveObjectThenCommitReclaimsBlock(t *testing.T) {
	ctx := context.Background()
	mgr, be, _ := newBootstrapped(t)

	entry, err := mgr.CreateObject([]byte("obj-3"))
	require.NoError(t, err)
	loc, err := mgr.BlockStore().Put(ctx, model.ChunkID{5}, []byte("data"))
	require.NoError(t, err)
	entry.ChunkIDs = []model.ChunkID{{5}}
	mgr.Index().StageNew(model.ChunkID{5}, loc)
	require.NoError(t, mgr.StageObject(entry))
	require.NoError(t, mgr.Commit(ctx))

	keysAfterFirstCommit, err := be.List(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.RemoveObject([]byte("obj-3")))
	require.NoError(t, mgr.Commit(ctx))

	keysAfterSecondCommit, err := be.List(ctx)
	require.NoError(t, err)
	assert.Less(t, len(keysAfterSecondCommit), len(keysAfterFirstCommit))

	_, err = mgr.OpenObject([]byte("obj-3"))
	assert.Error(t, err)
}

func TestPoisonBlocksFurtherWritesUntilRollback(t *testing.T) {
	mgr, _, _ := newBootstrapped(t)
	mgr.Poison(assert.AnError)

	_, err := mgr.CreateObject([]byte("x"))
	require.Error(t, err)

	require.NoError(t, mgr.Rollback(context.Background()))
	_, err = mgr.CreateObject([]byte("x"))
	require.NoError(t, err)
}
