package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/pkg/apierr"
)

func TestSavepointRestoreUndoesStagedObject(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newBootstrapped(t)

	_, err := mgr.CreateObject([]byte("before"))
	require.NoError(t, err)

	sp, err := mgr.Savepoint(ctx)
	require.NoError(t, err)

	_, err = mgr.CreateObject([]byte("after"))
	require.NoError(t, err)
	assert.Len(t, mgr.ListObjects(), 2)

	require.NoError(t, mgr.Restore(sp))

	objs := mgr.ListObjects()
	assert.Len(t, objs, 1)
	_, err = mgr.OpenObject([]byte("before"))
	assert.NoError(t, err)
	_, err = mgr.OpenObject([]byte("after"))
	assert.Error(t, err)
}

func TestSavepointRestoreSupportsRedo(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newBootstrapped(t)

	spEmpty, err := mgr.Savepoint(ctx)
	require.NoError(t, err)

	_, err = mgr.CreateObject([]byte("later"))
	require.NoError(t, err)
	spWithObject, err := mgr.Savepoint(ctx)
	require.NoError(t, err)

	// Undo back to before the object was created.
	require.NoError(t, mgr.Restore(spEmpty))
	assert.Empty(t, mgr.ListObjects())

	// Redo forward to the later savepoint: savepoints are independent
	// snapshots, not a linear undo stack, so this must still work even
	// after having restored to an earlier one.
	require.NoError(t, mgr.Restore(spWithObject))
	assert.Len(t, mgr.ListObjects(), 1)
}

func TestSavepointInvalidatedByCommit(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newBootstrapped(t)

	sp, err := mgr.Savepoint(ctx)
	require.NoError(t, err)

	_, err = mgr.CreateObject([]byte("committed"))
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(ctx))

	err = mgr.Restore(sp)
	require.Error(t, err)
	re, ok := apierr.AsRepoError(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeInvalidSavepoint, re.Code)

	// The commit itself must be unaffected by the rejected restore.
	_, err = mgr.OpenObject([]byte("committed"))
	assert.NoError(t, err)
}

func TestSavepointSurvivesRollback(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newBootstrapped(t)

	_, err := mgr.CreateObject([]byte("staged"))
	require.NoError(t, err)
	sp, err := mgr.Savepoint(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Rollback(ctx))
	assert.Empty(t, mgr.ListObjects())

	// A rollback only ever undoes to the last commit; it does not bump
	// the generation counter, so a savepoint captured before it is
	// still restorable afterward.
	require.NoError(t, mgr.Restore(sp))
	_, err = mgr.OpenObject([]byte("staged"))
	assert.NoError(t, err)
}
