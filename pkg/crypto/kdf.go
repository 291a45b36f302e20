package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SaltSize is the width in bytes of the Argon2id salt stored in the
// superblock (spec §6: argon2_salt(16)).
const SaltSize = 16

// MasterKeySize is the width in bytes of the repository master key
// (spec §4.2: "random 256-bit per repository").
const MasterKeySize = 32

// KDFParams are the Argon2id tuning parameters, stored in the
// superblock as three u32s (spec §6: kdf_params(m, t, p: u32 x3)).
// Threads is carried as u32 on the wire even though argon2.IDKey
// takes a uint8, to match the fixed wire layout exactly.
type KDFParams struct {
	MemoryKiB uint32
	Time      uint32
	Threads   uint32
}

// DefaultKDFParams are conservative interactive-use Argon2id
// parameters (OWASP-recommended floor: 19 MiB, t=2, p=1, scaled up
// for a repository master key which is unwrapped rarely, not per
// request).
var DefaultKDFParams = KDFParams{MemoryKiB: 64 * 1024, Time: 3, Threads: 4}

const wrapKeyContext = "acid-store.wrap-key.v1"
const wrapKeyHKDFInfo = "acid-store.wrap-key.hkdf.v1"

// deriveWrapKey runs Argon2id over password and salt, then expands the
// result through HKDF-SHA256 (salted with the same Argon2id salt) to
// produce the key that wraps (encrypts) the repository master key.
// The HKDF step domain-separates the AEAD key from Argon2id's raw
// output so a password rotation (spec §4.2's Rewrap) never reuses KDF
// output directly as key material, the same derivation-chain shape
// the rest of the pack uses for HKDF-derived AEAD keys.
func deriveWrapKey(password string, salt [SaltSize]byte, params KDFParams) [32]byte {
	if params.Threads == 0 || params.Threads > 255 {
		params.Threads = 1
	}
	raw := argon2.IDKey([]byte(password), salt[:], params.Time, params.MemoryKiB, uint8(params.Threads), 32)

	var key [32]byte
	reader := hkdf.New(sha256.New, raw, salt[:], []byte(wrapKeyHKDFInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		// HKDF-Expand only fails when the requested output exceeds
		// 255 * hash size; 32 bytes never does for SHA-256.
		panic("crypto: HKDF wrap-key expansion failed: " + err.Error())
	}
	return key
}

// GenerateSalt returns a fresh random Argon2id salt.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// GenerateMasterKey returns a fresh random 256-bit master key.
func GenerateMasterKey() ([MasterKeySize]byte, error) {
	var key [MasterKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}

// GenerateBlockID returns a fresh random 128-bit block identifier
// (spec §3: "identified by a random 128-bit block_id").
func GenerateBlockID() ([16]byte, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generating block id: %w", err)
	}
	return id, nil
}

// WrapMasterKey encrypts masterKey under the wrap key derived from
// password and salt/params, returning the AEAD-sealed blob stored in
// the superblock's wrapped_master_key field.
func WrapMasterKey(password string, salt [SaltSize]byte, params KDFParams, masterKey [MasterKeySize]byte) ([]byte, error) {
	wrapKey := deriveWrapKey(password, salt, params)
	aead, err := chacha20poly1305.NewX(wrapKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing wrap AEAD: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating wrap nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, masterKey[:], []byte(wrapKeyContext))
	// Wire format: nonce || ciphertext+tag, so unwrap is self-contained.
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// UnwrapMasterKey decrypts a wrapped_master_key blob produced by
// WrapMasterKey. Returns a WrongPassword-flavored error (via the
// sentinel in the caller's package, since this package stays
// error-taxonomy agnostic) on AEAD authentication failure — the only
// failure mode possible, since a wrong password derives a wrong wrap
// key and the AEAD tag will not verify.
func UnwrapMasterKey(password string, salt [SaltSize]byte, params KDFParams, wrapped []byte) ([MasterKeySize]byte, error) {
	var out [MasterKeySize]byte

	wrapKey := deriveWrapKey(password, salt, params)
	aead, err := chacha20poly1305.NewX(wrapKey[:])
	if err != nil {
		return out, fmt.Errorf("constructing unwrap AEAD: %w", err)
	}

	if len(wrapped) < chacha20poly1305.NonceSizeX {
		return out, fmt.Errorf("wrapped master key too short")
	}
	nonce := wrapped[:chacha20poly1305.NonceSizeX]
	ciphertext := wrapped[chacha20poly1305.NonceSizeX:]

	plain, err := aead.Open(nil, nonce, ciphertext, []byte(wrapKeyContext))
	if err != nil {
		return out, fmt.Errorf("unwrapping master key: %w", err)
	}
	if len(plain) != MasterKeySize {
		return out, fmt.Errorf("unwrapped master key has wrong length %d", len(plain))
	}
	copy(out[:], plain)
	return out, nil
}

// Rewrap re-derives a wrap key from newPassword under a fresh salt
// and re-wraps masterKey, without touching any data block (spec
// §4.2: "the master key is re-wrapped with a new password without
// re-encrypting data blocks"). Returns the new salt and wrapped blob.
func Rewrap(newPassword string, params KDFParams, masterKey [MasterKeySize]byte) (salt [SaltSize]byte, wrapped []byte, err error) {
	salt, err = GenerateSalt()
	if err != nil {
		return salt, nil, err
	}
	wrapped, err = WrapMasterKey(newPassword, salt, params, masterKey)
	return salt, wrapped, err
}
