// Package txn implements the transaction manager (spec §4.6): the
// copy-on-write superblock, staging overlay, two-phase commit, and
// crash-recovery sweep on open.
package txn

import (
	"github.com/lostatc/acid-store/internal/wire"
	"github.com/lostatc/acid-store/pkg/crypto"
)

// FormatVersion is the superblock format_version field this build
// writes and the highest value it accepts on open (spec §6: newer
// versions/flags fail UnsupportedFeature).
const FormatVersion uint32 = 1

// sign computes and installs sb's integrity tag: a BLAKE3 keyed MAC
// over every preceding field, keyed by the repository master key
// (spec §4.2's "keyed BLAKE-family MAC using the master key" applied
// here to the superblock itself, not just no-encryption chunk mode).
func sign(sb *wire.Superblock, masterKey [crypto.MasterKeySize]byte) error {
	tag, err := crypto.KeyedMAC(masterKey, sb.EncodeUnsigned())
	if err != nil {
		return err
	}
	sb.IntegrityTag = [32]byte(tag)
	return nil
}

// verify reports whether sb's integrity tag matches its content.
func verify(sb *wire.Superblock, masterKey [crypto.MasterKeySize]byte) (bool, error) {
	tag, err := crypto.KeyedMAC(masterKey, sb.EncodeUnsigned())
	if err != nil {
		return false, err
	}
	return [32]byte(tag) == sb.IntegrityTag, nil
}
