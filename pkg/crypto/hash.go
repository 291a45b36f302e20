// Package crypto implements the cryptographic envelope (spec §4.2):
// content hashing, AEAD sealing of blocks, and password-based key
// derivation and wrapping of the repository master key.
package crypto

import (
	"github.com/zeebo/blake3"
)

// HashSize is the width in bytes of a chunk_id / block integrity tag,
// matching spec §3's "BLAKE family, 256-bit" requirement.
const HashSize = 32

// Hash is a BLAKE3-256 digest, used as chunk_id and as the integrity
// tag over blocks and the superblock.
type Hash [HashSize]byte

// HashBytes computes the BLAKE3-256 hash of data.
func HashBytes(data []byte) Hash {
	sum := blake3.Sum256(data)
	return Hash(sum)
}

// KeyedMAC computes a BLAKE3 keyed hash of data under key, used for
// the no-encryption integrity mode (spec §4.2): "keyed BLAKE-family
// MAC using the master key; failures are Corrupt". key must be
// exactly 32 bytes.
func KeyedMAC(key [32]byte, data []byte) (Hash, error) {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return Hash{}, err
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
