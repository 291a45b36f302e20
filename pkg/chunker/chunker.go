// Package chunker splits an object's byte stream into chunks (spec
// §4.3). Both a fixed-size and a content-defined (rolling-hash)
// splitter are provided; a repository picks one at creation time and
// keeps it for the repository's lifetime, since re-chunking
// determinism (spec I1, testable properties §8) requires stable
// configuration.
package chunker

import (
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
)

// Mode selects a chunking algorithm, mirroring the "chunking-cdc" /
// "chunking-fixed" feature flags of spec §6.
type Mode uint8

const (
	// Fixed splits input at a constant boundary.
	Fixed Mode = iota
	// ContentDefined uses a Rabin-fingerprint rolling hash so that
	// insertions in the input cause only local re-chunking (spec §4.3).
	ContentDefined
)

// Params configures a chunker. Fixed mode uses Avg as its constant
// chunk size; ContentDefined mode also takes only Avg (see New), and
// Min/Max are recorded without being applied.
// These are the parameters spec §9 leaves as an open question whether
// to store in the superblock or hard-code — this implementation
// stores them (see internal/wire), so Params must not change across
// the life of a repository.
type Params struct {
	Mode Mode
	Min  int
	Avg  int
	Max  int
}

// DefaultParams selects content-defined chunking with a 256KiB
// average, the same default the teacher's boxoChunkerWrapper uses.
// With Mode set to Fixed, the same values give constant 256KiB chunks.
var DefaultParams = Params{Mode: ContentDefined, Min: 64 * 1024, Avg: 256 * 1024, Max: 1024 * 1024}

// Chunker yields the next chunk of a byte stream. Next returns
// io.EOF once the stream is exhausted; the sequence produced for a
// given (input, Params) pair is deterministic (spec §8: "re-chunking
// the same input twice yields the same chunk_id sequence").
type Chunker interface {
	Next() ([]byte, error)
}

// New constructs a Chunker over r according to params.
func New(r io.Reader, params Params) Chunker {
	switch params.Mode {
	case Fixed:
		return &splitterChunker{splitter: boxochunker.NewSizeSplitter(r, int64(params.Avg))}
	default:
		// boxo's Rabin splitter derives its min/max window from the
		// average size (min = avg/3, max = avg*3/2); Params.Min/Max are
		// still recorded in the superblock (internal/wire) so a
		// repository stays self-describing, but the boxo splitter only
		// takes the average.
		return &splitterChunker{splitter: boxochunker.NewRabin(r, uint64(params.Avg))}
	}
}

type splitterChunker struct {
	splitter boxochunker.Splitter
}

func (c *splitterChunker) Next() ([]byte, error) {
	return c.splitter.NextBytes()
}

// Chunk pairs the plaintext of one chunk with a placeholder for its
// hash; callers compute the hash themselves (pkg/crypto) so this
// package stays free of a dependency on the hashing choice.
type Chunk struct {
	Data []byte
}

// Split drains r into a slice of Chunks, holding every chunk in memory
// at once. pkg/object uses it to re-chunk an object's whole content on
// every write.
func Split(r io.Reader, params Params) ([]Chunk, error) {
	c := New(r, params)
	var chunks []Chunk
	for {
		data, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		chunks = append(chunks, Chunk{Data: buf})
	}
	return chunks, nil
}
