package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFixedProducesExpectedSizes(t *testing.T) {
	data := make([]byte, 10*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	params := Params{Mode: Fixed, Avg: 4096}
	chunks, err := Split(bytes.NewReader(data), params)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var total int
	for _, c := range chunks {
		total += len(c.Data)
	}
	assert.Equal(t, len(data), total)

	// 10 KiB at 4 KiB per chunk: two full chunks and a 2 KiB tail.
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Data, 4096)
	assert.Len(t, chunks[1].Data, 4096)
	assert.Len(t, chunks[2].Data, 2048)
}

func TestSplitContentDefinedIsDeterministic(t *testing.T) {
	data := make([]byte, 1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	params := DefaultParams
	first, err := Split(bytes.NewReader(data), params)
	require.NoError(t, err)
	second, err := Split(bytes.NewReader(data), params)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, bytes.Equal(first[i].Data, second[i].Data))
	}
}

func TestSplitReassemblesExactly(t *testing.T) {
	data := make([]byte, 500*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	chunks, err := Split(bytes.NewReader(data), DefaultParams)
	require.NoError(t, err)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.Data...)
	}
	assert.True(t, bytes.Equal(data, reassembled))
}

// TestInsertionSharesAtLeastNinetyFivePercentOfChunks is spec §8
// scenario 5: write a file, write the same file again with 1 KiB
// prepended, and require at least 95% of the original's chunks to
// still appear (by content, not position) in the modified split. The
// file is 16 MiB rather than the scenario's 100 MiB to keep the test
// fast; the shared-chunk ratio a content-defined chunker achieves is a
// property of its resync distance after a perturbation, not of the
// total file size, so the smaller scale still exercises the same
// property meaningfully.
func TestInsertionSharesAtLeastNinetyFivePercentOfChunks(t *testing.T) {
	data := make([]byte, 16*1024*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	original, err := Split(bytes.NewReader(data), DefaultParams)
	require.NoError(t, err)
	require.NotEmpty(t, original)

	prefix := make([]byte, 1024)
	_, err = rand.Read(prefix)
	require.NoError(t, err)
	prepended := append(prefix, data...)

	modified, err := Split(bytes.NewReader(prepended), DefaultParams)
	require.NoError(t, err)

	// Match by content, not index: prepending shifts every chunk
	// boundary after the resync point by one position, so a
	// position-wise comparison would undercount shared chunks. A
	// counted multiset tolerates any accidental duplicate chunk
	// content without over-crediting a single modified chunk against
	// several identical original ones.
	remaining := make(map[string]int, len(modified))
	for _, c := range modified {
		remaining[string(c.Data)]++
	}
	shared := 0
	for _, c := range original {
		key := string(c.Data)
		if remaining[key] > 0 {
			remaining[key]--
			shared++
		}
	}

	ratio := float64(shared) / float64(len(original))
	assert.GreaterOrEqualf(t, ratio, 0.95,
		"expected >=95%% of chunks shared after a 1KiB prepend, got %.1f%% (%d/%d)",
		ratio*100, shared, len(original))
}
