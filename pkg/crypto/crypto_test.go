package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	c := HashBytes([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKeyedMACDiffersByKey(t *testing.T) {
	var key1, key2 [32]byte
	key1[0] = 1
	key2[0] = 2

	m1, err := KeyedMAC(key1, []byte("data"))
	require.NoError(t, err)
	m2, err := KeyedMAC(key2, []byte("data"))
	require.NoError(t, err)
	assert.NotEqual(t, m1, m2)
}

func TestWrapUnwrapMasterKeyRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	params := KDFParams{MemoryKiB: 8 * 1024, Time: 1, Threads: 1}
	wrapped, err := WrapMasterKey("hunter2", salt, params, masterKey)
	require.NoError(t, err)

	unwrapped, err := UnwrapMasterKey("hunter2", salt, params, wrapped)
	require.NoError(t, err)
	assert.Equal(t, masterKey, unwrapped)
}

func TestUnwrapMasterKeyFailsOnWrongPassword(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)

	params := KDFParams{MemoryKiB: 8 * 1024, Time: 1, Threads: 1}
	wrapped, err := WrapMasterKey("hunter2", salt, params, masterKey)
	require.NoError(t, err)

	_, err = UnwrapMasterKey("wrong", salt, params, wrapped)
	assert.Error(t, err)
}

func TestRewrapProducesIndependentlyUnwrappableBlob(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)
	params := KDFParams{MemoryKiB: 8 * 1024, Time: 1, Threads: 1}

	salt, wrapped, err := Rewrap("new-password", params, masterKey)
	require.NoError(t, err)

	unwrapped, err := UnwrapMasterKey("new-password", salt, params, wrapped)
	require.NoError(t, err)
	assert.Equal(t, masterKey, unwrapped)
}

func TestSealOpenBlockRoundTrip(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)
	blockID, err := GenerateBlockID()
	require.NoError(t, err)

	ad := BuildAD(blockID, 1)
	plaintext := []byte("packed chunk payload")

	nonce, ciphertext, err := SealBlock(masterKey, ad, plaintext)
	require.NoError(t, err)

	decrypted, err := OpenBlock(masterKey, ad, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestOpenBlockFailsOnWrongAD(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	require.NoError(t, err)
	blockID, err := GenerateBlockID()
	require.NoError(t, err)

	ad := BuildAD(blockID, 1)
	nonce, ciphertext, err := SealBlock(masterKey, ad, []byte("data"))
	require.NoError(t, err)

	otherBlockID, err := GenerateBlockID()
	require.NoError(t, err)
	wrongAD := BuildAD(otherBlockID, 1)

	_, err = OpenBlock(masterKey, wrongAD, nonce, ciphertext)
	assert.Error(t, err)
}
