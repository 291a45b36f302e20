package compress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")

	for _, algo := range []Algorithm{None, LZ4, XZ} {
		t.Run(algo.String(), func(t *testing.T) {
			compressed, err := Compress(algo, plaintext)
			require.NoError(t, err)

			decompressed, err := Decompress(algo, compressed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, decompressed)
		})
	}
}

func TestNoneIsIdentity(t *testing.T) {
	plaintext := []byte("identity")
	compressed, err := Compress(None, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, compressed)
}

func TestUnknownAlgorithmErrors(t *testing.T) {
	_, err := Compress(Algorithm(99), []byte("x"))
	assert.Error(t, err)

	_, err = Decompress(Algorithm(99), []byte("x"))
	assert.Error(t, err)
}
