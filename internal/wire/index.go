package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lostatc/acid-store/pkg/model"
)

// EncodeChunkRefTable serializes the committed chunk-ref table (spec
// §3) as a flat run in the order refs is given: count(u32) followed by each
// record's chunk_id(32) | block_id(16) | offset(u32) | length(u32) |
// refcount(i64). The index block tree's persisted layout is left
// implementation-free by spec §3 ("B-tree or sorted run layout,
// implementation-free"); a flat run is the simplest realization and
// is rewritten in full on every commit, which is acceptable at the
// scale this engine targets (spec's non-goals exclude
// server/multi-writer scale where an actual B-tree would matter).
func EncodeChunkRefTable(refs []model.ChunkRef) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(refs)))
	buf.Write(countBuf[:])

	for _, ref := range refs {
		buf.Write(ref.ChunkID[:])
		buf.Write(ref.Locator.BlockID[:])
		var off, ln [4]byte
		binary.LittleEndian.PutUint32(off[:], ref.Locator.Offset)
		binary.LittleEndian.PutUint32(ln[:], ref.Locator.Length)
		buf.Write(off[:])
		buf.Write(ln[:])
		var rc [8]byte
		binary.LittleEndian.PutUint64(rc[:], uint64(ref.Refcount))
		buf.Write(rc[:])
	}
	return buf.Bytes()
}

// DecodeChunkRefTable reverses EncodeChunkRefTable.
func DecodeChunkRefTable(data []byte) ([]model.ChunkRef, error) {
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("reading chunk-ref count: %w", err)
	}

	refs := make([]model.ChunkRef, count)
	for i := range refs {
		var ref model.ChunkRef
		if _, err := io.ReadFull(r, ref.ChunkID[:]); err != nil {
			return nil, fmt.Errorf("reading chunk-ref %d chunk id: %w", i, err)
		}
		if _, err := io.ReadFull(r, ref.Locator.BlockID[:]); err != nil {
			return nil, fmt.Errorf("reading chunk-ref %d block id: %w", i, err)
		}
		off, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("reading chunk-ref %d offset: %w", i, err)
		}
		ln, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("reading chunk-ref %d length: %w", i, err)
		}
		rc, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("reading chunk-ref %d refcount: %w", i, err)
		}
		ref.Locator.Offset = off
		ref.Locator.Length = ln
		ref.Refcount = int64(rc)
		refs[i] = ref
	}
	return refs, nil
}

// EncodeObjectTable serializes the object table: count(u32) then each
// object's id_len(u32)|id|length(u64)|header_len(u32)|header|
// metadata_len(u32)|metadata|chunk_count(u32)|chunk_ids(32 each).
func EncodeObjectTable(objects []model.ObjectEntry) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(objects)))
	buf.Write(countBuf[:])

	for _, obj := range objects {
		writeBlob(&buf, obj.ID)
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], obj.Length)
		buf.Write(lenBuf[:])
		writeBlob(&buf, obj.Header)
		writeBlob(&buf, obj.Metadata)

		var chunkCount [4]byte
		binary.LittleEndian.PutUint32(chunkCount[:], uint32(len(obj.ChunkIDs)))
		buf.Write(chunkCount[:])
		for _, id := range obj.ChunkIDs {
			buf.Write(id[:])
		}
	}
	return buf.Bytes()
}

// DecodeObjectTable reverses EncodeObjectTable.
func DecodeObjectTable(data []byte) ([]model.ObjectEntry, error) {
	r := bytes.NewReader(data)
	count, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("reading object count: %w", err)
	}

	objects := make([]model.ObjectEntry, count)
	for i := range objects {
		id, err := readBlob(r)
		if err != nil {
			return nil, fmt.Errorf("reading object %d id: %w", i, err)
		}
		length, err := readU64(r)
		if err != nil {
			return nil, fmt.Errorf("reading object %d length: %w", i, err)
		}
		header, err := readBlob(r)
		if err != nil {
			return nil, fmt.Errorf("reading object %d header: %w", i, err)
		}
		metadata, err := readBlob(r)
		if err != nil {
			return nil, fmt.Errorf("reading object %d metadata: %w", i, err)
		}
		chunkCount, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("reading object %d chunk count: %w", i, err)
		}
		var chunkIDs []model.ChunkID
		if chunkCount > 0 {
			chunkIDs = make([]model.ChunkID, chunkCount)
		}
		for j := range chunkIDs {
			if _, err := io.ReadFull(r, chunkIDs[j][:]); err != nil {
				return nil, fmt.Errorf("reading object %d chunk %d id: %w", i, j, err)
			}
		}

		objects[i] = model.ObjectEntry{
			ID:       id,
			Length:   length,
			Header:   header,
			Metadata: metadata,
			ChunkIDs: chunkIDs,
		}
	}
	return objects, nil
}

// EncodeIndexRoot bundles the chunk-ref table and the object table
// into the single plaintext blob that pkg/txn seals as the index root
// block referenced by a superblock's index_root fields.
func EncodeIndexRoot(refs []model.ChunkRef, objects []model.ObjectEntry) []byte {
	refBytes := EncodeChunkRefTable(refs)
	objBytes := EncodeObjectTable(objects)
	var buf bytes.Buffer
	writeBlob(&buf, refBytes)
	writeBlob(&buf, objBytes)
	return buf.Bytes()
}

// DecodeIndexRoot reverses EncodeIndexRoot.
func DecodeIndexRoot(data []byte) ([]model.ChunkRef, []model.ObjectEntry, error) {
	r := bytes.NewReader(data)
	refBytes, err := readBlob(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading chunk-ref table blob: %w", err)
	}
	objBytes, err := readBlob(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading object table blob: %w", err)
	}
	refs, err := DecodeChunkRefTable(refBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding chunk-ref table: %w", err)
	}
	objects, err := DecodeObjectTable(objBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding object table: %w", err)
	}
	return refs, objects, nil
}

func writeBlob(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading blob body: %w", err)
	}
	return data, nil
}
