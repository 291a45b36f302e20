package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/pkg/model"
)

func chunkID(b byte) model.ChunkID {
	var id model.ChunkID
	id[0] = b
	return id
}

func TestLookupConsultsStagingFirst(t *testing.T) {
	base := []model.ChunkRef{{ChunkID: chunkID(1), Locator: model.Locator{Offset: 1}, Refcount: 1}}
	idx := New(base)

	idx.IncRef(chunkID(1), 5)
	ref, ok := idx.Lookup(chunkID(1))
	require.True(t, ok)
	assert.Equal(t, int64(6), ref.Refcount)
}

func TestStageNewThenLookup(t *testing.T) {
	idx := New(nil)
	loc := model.Locator{Offset: 3, Length: 10}
	idx.StageNew(chunkID(2), loc)

	ref, ok := idx.Lookup(chunkID(2))
	require.True(t, ok)
	assert.Equal(t, int64(1), ref.Refcount)
	assert.Equal(t, loc, ref.Locator)
}

func TestMergeDropsZeroRefcount(t *testing.T) {
	base := []model.ChunkRef{{ChunkID: chunkID(3), Locator: model.Locator{}, Refcount: 1}}
	idx := New(base)

	idx.IncRef(chunkID(3), -1)
	unreferenced := idx.Merge()
	require.Len(t, unreferenced, 1)

	_, ok := idx.Lookup(chunkID(3))
	assert.False(t, ok)
}

func TestMergeKeepsPositiveRefcount(t *testing.T) {
	base := []model.ChunkRef{{ChunkID: chunkID(4), Locator: model.Locator{}, Refcount: 1}}
	idx := New(base)

	idx.IncRef(chunkID(4), 1)
	unreferenced := idx.Merge()
	assert.Empty(t, unreferenced)

	ref, ok := idx.Lookup(chunkID(4))
	require.True(t, ok)
	assert.Equal(t, int64(2), ref.Refcount)
}

func TestDiscardStagingUndoesUnmergedChanges(t *testing.T) {
	idx := New(nil)
	idx.StageNew(chunkID(5), model.Locator{})
	idx.DiscardStaging()

	_, ok := idx.Lookup(chunkID(5))
	assert.False(t, ok)
}

func TestBlockChunkCountAfterMerge(t *testing.T) {
	blockID := model.BlockID{9}
	base := []model.ChunkRef{
		{ChunkID: chunkID(6), Locator: model.Locator{BlockID: blockID}, Refcount: 1},
		{ChunkID: chunkID(7), Locator: model.Locator{BlockID: blockID}, Refcount: 1},
	}
	idx := New(base)

	idx.IncRef(chunkID(6), -1)
	idx.Merge()

	assert.Equal(t, 1, idx.BlockChunkCount(blockID))
}

func TestTotalRefcountAcrossBaseAndStaging(t *testing.T) {
	base := []model.ChunkRef{{ChunkID: chunkID(8), Refcount: 2}}
	idx := New(base)
	idx.StageNew(chunkID(9), model.Locator{})

	assert.Equal(t, int64(3), idx.TotalRefcount())
}
