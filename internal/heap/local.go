// Package heap implements the Local Heap (packed link-name byte store
// with a free list) and the Global Heap (shared variable-length object
// blocks), the two heap subsystems a group/dataset index relies on.
package heap

import (
	"io"

	"github.com/blockvault/hdf5/internal/utils"
)

var localHeapSignature = [4]byte{'H', 'E', 'A', 'P'}

// freeListNone is the sentinel meaning "contents are full, no free block".
const freeListNone = 1

// Expander reserves a new, larger contents region for a local heap whose
// free list cannot satisfy an addToHeap request. It mirrors
// alloc.Allocator.ExpandLocalHeapContents without heap depending on alloc
// directly, avoiding a package cycle between allocation bookkeeping and
// heap contents management.
type Expander interface {
	ExpandLocalHeapContents(currentSize uint64) (newOffset, newSize uint64, err error)
}

// LocalHeap is the append-only, free-list-backed byte store for link
// names referenced by Symbol Table Entries in one group.
type LocalHeap struct {
	ContentsSize   uint64
	FreeListOffset uint64
	ContentsOffset uint64
	Contents       []byte

	offsetSize utils.Width
	fp         utils.FixedPoint
}

// HeaderSize returns the fixed on-disk header size for a given offset
// width: signature(4) + version(1) + reserved(3) + contentsSize(8) +
// freeListOffset(8) + contentsOffset(offsetSize).
func HeaderSize(offsetSize utils.Width) int {
	return 8 + 8 + 8 + int(offsetSize)
}

// NewLocalHeap creates an empty local heap with the canonical initial contents
// size (88 bytes, matching a freshly created empty group's requirements),
// already containing a single free-block record covering the whole
// contents region.
func NewLocalHeap(contentsOffset uint64, offsetSize utils.Width, fp utils.FixedPoint) *LocalHeap {
	const initialSize = 88
	h := &LocalHeap{
		ContentsSize:   initialSize,
		ContentsOffset: contentsOffset,
		Contents:       make([]byte, initialSize),
		offsetSize:     offsetSize,
		fp:             fp,
	}
	h.writeFreeBlockRecord(0, initialSize)
	h.FreeListOffset = 0
	return h
}

// Load parses a local heap header at offset and reads its full contents
// buffer, per the fixed-layout header described in the format.
func Load(r utils.ReaderAt, offset int64, offsetSize utils.Width, fp utils.FixedPoint) (*LocalHeap, error) {
	hs := HeaderSize(offsetSize)
	header := utils.GetBuffer(hs)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, utils.WrapIOError(offset, "local heap header read failed", err)
	}

	if header[0] != localHeapSignature[0] || header[1] != localHeapSignature[1] ||
		header[2] != localHeapSignature[2] || header[3] != localHeapSignature[3] {
		return nil, utils.FormatErrorAt(offset, "invalid local heap signature %q", header[0:4])
	}
	version := header[4]
	if version != 0 {
		return nil, utils.FormatErrorAt(offset, "unsupported local heap version %d", version)
	}

	pos := 8
	contentsSize := fp.Read(header[pos:pos+8], 8)
	pos += 8
	freeListOffset := fp.Read(header[pos:pos+8], 8)
	pos += 8
	contentsOffset := fp.Read(header[pos:pos+int(offsetSize)], offsetSize)

	h := &LocalHeap{
		ContentsSize:   contentsSize,
		FreeListOffset: freeListOffset,
		ContentsOffset: contentsOffset,
		Contents:       make([]byte, contentsSize),
		offsetSize:     offsetSize,
		fp:             fp,
	}
	if contentsSize > 0 {
		if _, err := r.ReadAt(h.Contents, int64(contentsOffset)); err != nil {
			return nil, utils.WrapIOError(int64(contentsOffset), "local heap contents read failed", err)
		}
	}
	return h, nil
}

// roundUp8 rounds n up to the nearest multiple of 8.
func roundUp8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// AddToHeap appends bytes (plus a null terminator, padded to an 8-byte
// boundary) to the heap, consulting and updating the free list, expanding
// the contents region via expander when no free block is large enough.
// It returns the offset the caller should persist as the link-name-offset.
func (h *LocalHeap) AddToHeap(data []byte, expander Expander) (uint64, error) {
	if err := utils.ValidateBufferSize(uint64(len(data))+1, utils.MaxStringSize, "local heap link name"); err != nil {
		return 0, utils.InvariantErrorf("%v", err)
	}

	required := roundUp8(uint64(len(data)) + 1)

	var cur uint64
	if h.FreeListOffset != freeListNone {
		cur = h.FreeListOffset
	} else {
		cur = h.ContentsSize
	}

	for cur+required > h.ContentsSize {
		newOffset, newSize, err := expander.ExpandLocalHeapContents(h.ContentsSize)
		if err != nil {
			return 0, err
		}
		if newSize <= h.ContentsSize {
			return 0, utils.InvariantErrorf("local heap expansion did not grow contents past %d bytes", h.ContentsSize)
		}
		grown := make([]byte, newSize)
		copy(grown, h.Contents)
		h.Contents = grown
		h.ContentsSize = newSize
		h.ContentsOffset = newOffset
	}

	copy(h.Contents[cur:], data)
	h.Contents[cur+uint64(len(data))] = 0
	for i := cur + uint64(len(data)) + 1; i < cur+required; i++ {
		h.Contents[i] = 0
	}

	newFree := cur + required
	remaining := h.ContentsSize - newFree
	switch {
	case remaining >= 16:
		h.writeFreeBlockRecord(newFree, remaining)
		h.FreeListOffset = newFree
	case remaining == 0:
		h.FreeListOffset = freeListNone
	default:
		h.FreeListOffset = newFree
	}

	return cur, nil
}

// writeFreeBlockRecord writes a free-block record (next=1, size) at
// offset within the heap's contents buffer.
func (h *LocalHeap) writeFreeBlockRecord(offset, size uint64) {
	if offset+16 > uint64(len(h.Contents)) {
		return
	}
	h.fp.Write(h.Contents[offset:offset+8], freeListNone, 8)
	h.fp.Write(h.Contents[offset+8:offset+16], size, 8)
}

// StringAt reads a null-terminated string starting at offset, satisfying
// the symtab.NameResolver interface.
func (h *LocalHeap) StringAt(offset uint64) (string, error) {
	if offset >= h.ContentsSize {
		return "", utils.BoundsErrorAt(int64(offset), "local heap offset beyond contents size %d", h.ContentsSize)
	}
	end := offset
	for end < uint64(len(h.Contents)) && h.Contents[end] != 0 {
		end++
	}
	if end >= uint64(len(h.Contents)) {
		return "", utils.FormatErrorAt(int64(offset), "local heap string not null-terminated")
	}
	return string(h.Contents[offset:end]), nil
}

// WriteAt serializes the heap's header and contents to w.
func (h *LocalHeap) WriteAt(w io.WriterAt, headerOffset int64) error {
	hs := HeaderSize(h.offsetSize)
	header := make([]byte, hs)
	copy(header[0:4], localHeapSignature[:])
	header[4] = 0

	pos := 8
	h.fp.Write(header[pos:pos+8], h.ContentsSize, 8)
	pos += 8
	h.fp.Write(header[pos:pos+8], h.FreeListOffset, 8)
	pos += 8
	h.fp.Write(header[pos:pos+int(h.offsetSize)], h.ContentsOffset, h.offsetSize)

	if _, err := w.WriteAt(header, headerOffset); err != nil {
		return utils.WrapIOError(headerOffset, "local heap header write failed", err)
	}
	if _, err := w.WriteAt(h.Contents, int64(h.ContentsOffset)); err != nil {
		return utils.WrapIOError(int64(h.ContentsOffset), "local heap contents write failed", err)
	}
	return nil
}

// Size returns the total on-disk footprint: header plus contents.
func (h *LocalHeap) Size() uint64 {
	return uint64(HeaderSize(h.offsetSize)) + h.ContentsSize
}
