// Package wire implements the fixed on-disk byte layouts spec §6
// defines for the superblock and for blocks, isolated into one
// package the way the teacher isolates its protobuf codec into
// internal/binaryCoder — so no other package needs to reason about
// byte order.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FormatMagic identifies an acid-store superblock.
var FormatMagic = [8]byte{'a', 'c', 'i', 'd', 's', 't', 'o', 'r'}

// FeatureFlag is a bit in the superblock's feature_flags field (spec
// §6: "packing, encryption, compression-lz4, chunking-cdc,
// chunking-fixed").
type FeatureFlag uint64

const (
	FeaturePacking FeatureFlag = 1 << iota
	FeatureEncryption
	FeatureCompressionLZ4
	FeatureCompressionXZ
	FeatureChunkingCDC
	FeatureChunkingFixed
)

// KnownFeatureFlags is the union of every flag this build understands.
// Opening a superblock whose flags are not a subset of this fails
// UnsupportedFeature (spec §6).
const KnownFeatureFlags = FeaturePacking | FeatureEncryption | FeatureCompressionLZ4 |
	FeatureCompressionXZ | FeatureChunkingCDC | FeatureChunkingFixed

// Superblock is the decoded form of the root descriptor spec §3 and
// §6 describe. ChunkerMin/Avg/Max are the SPEC_FULL.md §5.4 resolution
// of the "are CDC parameters stored in the superblock" open question:
// they are, stored immediately after the feature flags.
type Superblock struct {
	FormatVersion   uint32
	FeatureFlags    FeatureFlag
	ChunkerMin      uint32
	ChunkerAvg      uint32
	ChunkerMax      uint32
	Argon2Salt      [16]byte
	KDFMemoryKiB    uint32
	KDFTime         uint32
	KDFThreads      uint32
	WrappedMasterKey []byte
	IndexRootBlockID [16]byte
	IndexRootLen     uint64
	TxCounter        uint64
	IntegrityTag     [32]byte
}

// Encode serializes sb, little-endian, per spec §6. IntegrityTag must
// already be populated by the caller (pkg/txn computes it over every
// preceding field).
func (sb *Superblock) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(FormatMagic[:])
	writeU32(&buf, sb.FormatVersion)
	writeU64(&buf, uint64(sb.FeatureFlags))
	writeU32(&buf, sb.ChunkerMin)
	writeU32(&buf, sb.ChunkerAvg)
	writeU32(&buf, sb.ChunkerMax)
	buf.Write(sb.Argon2Salt[:])
	writeU32(&buf, sb.KDFMemoryKiB)
	writeU32(&buf, sb.KDFTime)
	writeU32(&buf, sb.KDFThreads)
	writeU32(&buf, uint32(len(sb.WrappedMasterKey)))
	buf.Write(sb.WrappedMasterKey)
	buf.Write(sb.IndexRootBlockID[:])
	writeU64(&buf, sb.IndexRootLen)
	writeU64(&buf, sb.TxCounter)
	buf.Write(sb.IntegrityTag[:])
	return buf.Bytes()
}

// EncodeUnsigned returns the encoding of sb with the trailing 32-byte
// integrity tag omitted, i.e. exactly the bytes the tag is computed
// over.
func (sb *Superblock) EncodeUnsigned() []byte {
	full := sb.Encode()
	return full[:len(full)-32]
}

// DecodeSuperblock parses bytes produced by Encode.
func DecodeSuperblock(data []byte) (*Superblock, error) {
	r := bytes.NewReader(data)

	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != FormatMagic {
		return nil, fmt.Errorf("bad superblock magic %x", magic)
	}

	sb := &Superblock{}
	var err error
	if sb.FormatVersion, err = readU32(r); err != nil {
		return nil, err
	}
	flags, err := readU64(r)
	if err != nil {
		return nil, err
	}
	sb.FeatureFlags = FeatureFlag(flags)

	if sb.ChunkerMin, err = readU32(r); err != nil {
		return nil, err
	}
	if sb.ChunkerAvg, err = readU32(r); err != nil {
		return nil, err
	}
	if sb.ChunkerMax, err = readU32(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, sb.Argon2Salt[:]); err != nil {
		return nil, fmt.Errorf("reading argon2 salt: %w", err)
	}
	if sb.KDFMemoryKiB, err = readU32(r); err != nil {
		return nil, err
	}
	if sb.KDFTime, err = readU32(r); err != nil {
		return nil, err
	}
	if sb.KDFThreads, err = readU32(r); err != nil {
		return nil, err
	}
	wrappedLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	sb.WrappedMasterKey = make([]byte, wrappedLen)
	if _, err := io.ReadFull(r, sb.WrappedMasterKey); err != nil {
		return nil, fmt.Errorf("reading wrapped master key: %w", err)
	}
	if _, err := io.ReadFull(r, sb.IndexRootBlockID[:]); err != nil {
		return nil, fmt.Errorf("reading index root block id: %w", err)
	}
	if sb.IndexRootLen, err = readU64(r); err != nil {
		return nil, err
	}
	if sb.TxCounter, err = readU64(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, sb.IntegrityTag[:]); err != nil {
		return nil, fmt.Errorf("reading integrity tag: %w", err)
	}

	return sb, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reading u32: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("reading u64: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
