package object

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/backend"
	"github.com/lostatc/acid-store/pkg/blockstore"
	"github.com/lostatc/acid-store/pkg/chunker"
	"github.com/lostatc/acid-store/pkg/compress"
	"github.com/lostatc/acid-store/pkg/crypto"
	"github.com/lostatc/acid-store/pkg/txn"
)

func newTestManager(t *testing.T) *txn.Manager {
	t.Helper()
	ctx := context.Background()
	be := backend.NewMemory()

	var masterKey [crypto.MasterKeySize]byte
	masterKey[0] = 7

	bs, err := blockstore.New(be, masterKey, compress.LZ4, true, 64*1024)
	require.NoError(t, err)

	mgr := txn.NewManager(be, bs, masterKey)
	require.NoError(t, mgr.Bootstrap(ctx, &wire.Superblock{FeatureFlags: wire.FeatureEncryption | wire.FeaturePacking}))
	return mgr
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	params := chunker.DefaultParams

	h, err := Create(mgr, []byte("obj"), params)
	require.NoError(t, err)

	payload := randomBytes(t, 256*1024)
	require.NoError(t, h.Write(ctx, 0, payload))

	got, err := h.Read(ctx, 0, uint64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(len(payload)), h.Length())
}

func TestOverwriteWithIdenticalContentReusesChunks(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	params := chunker.Params{Mode: chunker.Fixed, Avg: 4096}

	h, err := Create(mgr, []byte("obj"), params)
	require.NoError(t, err)

	payload := randomBytes(t, 64*1024)
	require.NoError(t, h.Write(ctx, 0, payload))
	firstChunkIDs := h.entry.ChunkIDs

	// Re-open the same object and write the exact same content again.
	h2, err := Open(mgr, []byte("obj"), params)
	require.NoError(t, err)
	require.NoError(t, h2.Write(ctx, 0, payload))
	secondChunkIDs := h2.entry.ChunkIDs

	assert.Equal(t, firstChunkIDs, secondChunkIDs)

	total := mgr.Index().TotalRefcount()
	assert.Greater(t, total, int64(0))
}

func TestTruncateShrinksAndZeroExtends(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	params := chunker.Params{Mode: chunker.Fixed, Avg: 4096}

	h, err := Create(mgr, []byte("obj"), params)
	require.NoError(t, err)

	payload := randomBytes(t, 20*1024)
	require.NoError(t, h.Write(ctx, 0, payload))

	require.NoError(t, h.Truncate(ctx, 10*1024))
	assert.Equal(t, uint64(10*1024), h.Length())

	got, err := h.Read(ctx, 0, 10*1024)
	require.NoError(t, err)
	assert.Equal(t, payload[:10*1024], got)

	require.NoError(t, h.Truncate(ctx, 15*1024))
	tail, err := h.Read(ctx, 10*1024, 5*1024)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 5*1024), tail)
}

func TestRemoveThenOpenFails(t *testing.T) {
	mgr := newTestManager(t)
	_, err := Create(mgr, []byte("obj"), chunker.DefaultParams)
	require.NoError(t, err)
	require.NoError(t, Remove(mgr, []byte("obj")))

	_, err = Open(mgr, []byte("obj"), chunker.DefaultParams)
	assert.Error(t, err)
}

func TestSetMetadataPersistsOnHandle(t *testing.T) {
	mgr := newTestManager(t)
	h, err := Create(mgr, []byte("obj"), chunker.DefaultParams)
	require.NoError(t, err)

	require.NoError(t, h.SetMetadata([]byte("hello")))
	assert.Equal(t, []byte("hello"), h.Metadata())
}
