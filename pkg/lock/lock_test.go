package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/pkg/apierr"
	"github.com/lostatc/acid-store/pkg/backend"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()

	l, err := Acquire(ctx, be, time.Minute, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))

	_, err = be.Read(ctx, backend.KeyLock)
	assert.Error(t, err)
}

func TestSecondAcquireFailsLocked(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()

	l, err := Acquire(ctx, be, time.Minute, time.Hour, false)
	require.NoError(t, err)
	defer l.Release(ctx)

	_, err = Acquire(ctx, be, time.Minute, time.Hour, false)
	require.Error(t, err)
	re, ok := apierr.AsRepoError(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeLocked, re.Code)
}

func TestStaleLockRequiresForce(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMemory()

	l, err := Acquire(ctx, be, time.Millisecond, time.Hour, false)
	require.NoError(t, err)
	defer func() { _ = l.cancel }()

	time.Sleep(10 * time.Millisecond)

	_, err = Acquire(ctx, be, time.Millisecond, time.Hour, false)
	require.Error(t, err)
	re, ok := apierr.AsRepoError(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeStaleLock, re.Code)

	l2, err := Acquire(ctx, be, time.Millisecond, time.Hour, true)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}
