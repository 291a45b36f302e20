// Package compress implements the compression step of the block
// store pipeline (spec §4.4 step 3): "Compress plaintext (configured
// algorithm; identity when disabled)."
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Algorithm identifies a compression algorithm a repository was
// created with. The zero value, None, means identity (spec §4.4).
type Algorithm uint8

const (
	// None disables compression: the compressed payload equals the
	// plaintext.
	None Algorithm = iota
	// LZ4 is the "compression-lz4" feature flag from spec §6, chosen
	// for its low CPU overhead relative to its ratio, the same
	// tradeoff bureau-foundation-bureau makes for its artifact store.
	LZ4
	// XZ is a higher-ratio, higher-CPU-cost alternative for archival
	// repositories, the option the teacher's own go.mod already
	// carried a dependency for.
	XZ
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case XZ:
		return "xz"
	default:
		return "unknown"
	}
}

// Compress returns the compressed form of plaintext under algo.
func Compress(algo Algorithm, plaintext []byte) ([]byte, error) {
	switch algo {
	case None:
		return plaintext, nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(plaintext); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress close: %w", err)
		}
		return buf.Bytes(), nil
	case XZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("xz compress init: %w", err)
		}
		if _, err := w.Write(plaintext); err != nil {
			return nil, fmt.Errorf("xz compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("xz compress close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", algo)
	}
}

// Decompress reverses Compress.
func Decompress(algo Algorithm, compressed []byte) ([]byte, error) {
	switch algo {
	case None:
		return compressed, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(compressed))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	case XZ:
		r, err := xz.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("xz decompress init: %w", err)
		}
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("xz decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %d", algo)
	}
}
