package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostatc/acid-store/pkg/model"
)

func TestSuperblockEncodeDecodeRoundTrip(t *testing.T) {
	sb := &Superblock{
		FormatVersion:    1,
		FeatureFlags:     FeaturePacking | FeatureEncryption | FeatureChunkingCDC,
		ChunkerMin:       64 * 1024,
		ChunkerAvg:       256 * 1024,
		ChunkerMax:       1024 * 1024,
		KDFMemoryKiB:     65536,
		KDFTime:          3,
		KDFThreads:       4,
		WrappedMasterKey: []byte{1, 2, 3, 4, 5, 6, 7, 8},
		IndexRootLen:     42,
		TxCounter:        7,
	}
	copy(sb.Argon2Salt[:], []byte("0123456789abcdef"))
	copy(sb.IndexRootBlockID[:], []byte("abcdefghijklmnop"))
	copy(sb.IntegrityTag[:], []byte("0123456789abcdef0123456789abcdef"))

	encoded := sb.Encode()
	decoded, err := DecodeSuperblock(encoded)
	require.NoError(t, err)

	assert.Equal(t, sb.FormatVersion, decoded.FormatVersion)
	assert.Equal(t, sb.FeatureFlags, decoded.FeatureFlags)
	assert.Equal(t, sb.ChunkerMin, decoded.ChunkerMin)
	assert.Equal(t, sb.ChunkerAvg, decoded.ChunkerAvg)
	assert.Equal(t, sb.ChunkerMax, decoded.ChunkerMax)
	assert.Equal(t, sb.Argon2Salt, decoded.Argon2Salt)
	assert.Equal(t, sb.WrappedMasterKey, decoded.WrappedMasterKey)
	assert.Equal(t, sb.IndexRootBlockID, decoded.IndexRootBlockID)
	assert.Equal(t, sb.TxCounter, decoded.TxCounter)
	assert.Equal(t, sb.IntegrityTag, decoded.IntegrityTag)
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	_, err := DecodeSuperblock(make([]byte, 64))
	assert.Error(t, err)
}

func TestDecodeSuperblockRejectsTruncatedInput(t *testing.T) {
	sb := &Superblock{WrappedMasterKey: []byte{1, 2, 3}}
	full := sb.Encode()
	_, err := DecodeSuperblock(full[:len(full)-10])
	assert.Error(t, err)
}

func TestBlockHeaderEncodeDecodeRoundTrip(t *testing.T) {
	blk := &Block{
		Version: BlockVersion,
		Flags:   0,
		Entries: []PayloadEntry{
			{ChunkID: [32]byte{1}, Offset: 0, Len: 10},
			{ChunkID: [32]byte{2}, Offset: 10, Len: 20},
		},
	}
	copy(blk.Nonce[:], []byte("abcdefghijklmnopqrstuvwx"))

	header := blk.EncodeHeader()
	decoded, consumed, err := DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, len(header), consumed)
	assert.Equal(t, blk.Version, decoded.Version)
	assert.Equal(t, blk.Nonce, decoded.Nonce)
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, blk.Entries[1].Offset, decoded.Entries[1].Offset)
}

func TestChunkRefTableRoundTrip(t *testing.T) {
	refs := []model.ChunkRef{
		{ChunkID: model.ChunkID{1}, Locator: model.Locator{BlockID: model.BlockID{2}, Offset: 5, Length: 10}, Refcount: 3},
		{ChunkID: model.ChunkID{9}, Locator: model.Locator{BlockID: model.BlockID{8}, Offset: 1, Length: 2}, Refcount: 1},
	}
	encoded := EncodeChunkRefTable(refs)
	decoded, err := DecodeChunkRefTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, refs, decoded)
}

func TestObjectTableRoundTrip(t *testing.T) {
	objects := []model.ObjectEntry{
		{
			ID:       []byte("obj-a"),
			ChunkIDs: []model.ChunkID{{1}, {2}, {3}},
			Length:   99,
			Header:   []byte("hdr"),
			Metadata: []byte("meta"),
		},
	}
	encoded := EncodeObjectTable(objects)
	decoded, err := DecodeObjectTable(encoded)
	require.NoError(t, err)
	assert.Equal(t, objects, decoded)
}

func TestIndexRootRoundTrip(t *testing.T) {
	refs := []model.ChunkRef{{ChunkID: model.ChunkID{4}, Refcount: 1}}
	objects := []model.ObjectEntry{{ID: []byte("x"), Length: 3}}

	encoded := EncodeIndexRoot(refs, objects)
	decodedRefs, decodedObjects, err := DecodeIndexRoot(encoded)
	require.NoError(t, err)
	assert.Equal(t, refs, decodedRefs)
	assert.Equal(t, objects, decodedObjects)
}
