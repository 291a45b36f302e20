package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the width in bytes of the per-block AEAD nonce (spec
// §4.2: "XChaCha20-Poly1305 with 192-bit random nonce per block
// write").
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the width in bytes of the AEAD authentication tag.
const TagSize = chacha20poly1305.Overhead

// BuildAD constructs the additional authenticated data for a block
// AEAD operation: block_id || format_version (spec §4.2 and §6).
func BuildAD(blockID [16]byte, formatVersion uint32) []byte {
	ad := make([]byte, 16+4)
	copy(ad, blockID[:])
	ad[16] = byte(formatVersion)
	ad[17] = byte(formatVersion >> 8)
	ad[18] = byte(formatVersion >> 16)
	ad[19] = byte(formatVersion >> 24)
	return ad
}

// SealBlock encrypts plaintext (already compressed) with a fresh
// random nonce under masterKey, using ad as additional authenticated
// data. Returns the nonce and the ciphertext+tag as separate values,
// matching the block wire format's nonce(24) field and the ciphertext
// that follows the payload directory (spec §6).
func SealBlock(masterKey [MasterKeySize]byte, ad, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(masterKey[:])
	if err != nil {
		return nil, nil, fmt.Errorf("constructing block AEAD: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating block nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, ad)
	return nonce, ciphertext, nil
}

// OpenBlock decrypts a block payload sealed by SealBlock. Any
// authentication failure (wrong key, tampered ciphertext, wrong AD)
// is reported as a plain error; the caller (pkg/blockstore) maps it
// to the taxonomy's Corrupt code together with the offending
// block_id.
func OpenBlock(masterKey [MasterKeySize]byte, ad, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing block AEAD: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce has wrong length %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("AEAD authentication failed: %w", err)
	}
	return plaintext, nil
}
