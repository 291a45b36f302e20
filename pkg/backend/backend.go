// Package backend defines the opaque key→blob store that every
// repository sits on top of, and the reserved key namespace the
// repository engine writes into that store.
package backend

import (
	"context"
)

// Reserved keys under a backend's logical prefix (spec §6).
const (
	KeySuper        = "super"
	KeySuperStaging = "super.staging"
	KeyLock         = "lock"
	blockKeyPrefix  = "block/"
)

// BlockKey returns the backend key for a block_id, hex-encoded.
func BlockKey(hexBlockID string) string {
	return blockKeyPrefix + hexBlockID
}

// Backend is the capability set every driver must implement (spec §4.1).
// A conforming backend guarantees that a single-key write is atomic —
// readers observe either the pre- or post-image, never a partial
// write — and that Write does not return until the bytes are durable.
// Backends may be eventually consistent across distinct keys; the
// transaction manager never assumes cross-key atomicity.
type Backend interface {
	// Write durably persists bytes under key, overwriting any existing
	// value. Fails with a BackendUnavailable- or Io-flavored error.
	Write(ctx context.Context, key string, data []byte) error

	// Read fetches the bytes stored under key. Fails with NotFound if
	// the key does not exist, or Io on a non-retryable backend fault.
	Read(ctx context.Context, key string) ([]byte, error)

	// Remove deletes key. Idempotent: removing an absent key is not an
	// error.
	Remove(ctx context.Context, key string) error

	// List returns a snapshot of all keys present at call time. The
	// snapshot need not be consistent with writes still in flight.
	List(ctx context.Context) ([]string, error)

	// Close releases any resources held by the backend (file handles,
	// connections). Close does not remove any data.
	Close() error
}
