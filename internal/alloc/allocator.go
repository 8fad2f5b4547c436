// Package alloc implements the file-space allocator: the bump-pointer,
// typed, aligned reservation planner that decides where every structural
// block of an HDF5 v0 file lives.
package alloc

import (
	"sort"

	"github.com/blockvault/hdf5/internal/utils"
)

// Kind tags an allocation record with the structural role of the block it
// reserves space for, per the file's allocation-record taxonomy.
type Kind int

const (
	KindSuperblock Kind = iota
	KindRootSTE
	KindLocalHeapHeader
	KindLocalHeapContents
	KindBTreeNode
	KindSnodBlock
	KindGlobalHeapBlock
	KindObjectHeader
	KindDataBlock
)

func (k Kind) String() string {
	switch k {
	case KindSuperblock:
		return "Superblock"
	case KindRootSTE:
		return "RootSte"
	case KindLocalHeapHeader:
		return "LocalHeapHeader"
	case KindLocalHeapContents:
		return "LocalHeapContents"
	case KindBTreeNode:
		return "BTreeNode"
	case KindSnodBlock:
		return "SnodBlock"
	case KindGlobalHeapBlock:
		return "GlobalHeapBlock"
	case KindObjectHeader:
		return "ObjectHeader"
	case KindDataBlock:
		return "DataBlock"
	default:
		return "Unknown"
	}
}

// Record is one reservation: a non-overlapping, tagged byte range.
type Record struct {
	Kind   Kind
	Offset uint64
	Size   uint64
}

// Canonical sizes used when the caller does not override them via options.
const (
	// DefaultGlobalHeapBlockSize is the canonical global-heap block size.
	DefaultGlobalHeapBlockSize = 4096

	// snodEntrySize is 2*offsetSize + 4 + 4 + 16 for offsetSize=8.
	snodEntrySize = 8*2 + 4 + 4 + 16
	// DefaultSnodBlockSize is the canonical SNOD slot size for
	// offsetSize=8, lengthSize=8, MAX=8 (8-byte header + 8 entries).
	DefaultSnodBlockSize = 8 + 8*snodEntrySize // 328
)

// Option configures an Allocator at construction.
type Option func(*Allocator)

// WithFileSizeCap sets the fatal watermark ceiling. Exceeding it on any
// allocation is a fatal InvariantError.
func WithFileSizeCap(cap uint64) Option {
	return func(a *Allocator) { a.fileSizeCap = cap }
}

// WithGlobalHeapBlockSize overrides the canonical global-heap block size.
func WithGlobalHeapBlockSize(size uint64) Option {
	return func(a *Allocator) { a.globalHeapBlockSize = size }
}

// WithSnodBlockSize overrides the canonical SNOD slot size (see Open
// Question (iii): a fully parametric implementation derives this from
// offsetSize, lengthSize and MAX instead of hard-coding 328).
func WithSnodBlockSize(size uint64) Option {
	return func(a *Allocator) { a.snodBlockSize = size }
}

// Allocator is a bump-pointer allocator over file offset space. It is the
// single authoritative source for "where things live": no other component
// reserves ranges independently.
type Allocator struct {
	watermark   uint64
	fileSizeCap uint64
	records     []Record

	globalHeapBlockSize uint64
	snodBlockSize       uint64

	currentGlobalHeapSize uint64 // size of the block most recently granted to the write path
}

// New constructs an Allocator whose watermark starts at initialOffset
// (typically immediately after the superblock and root STE).
func New(initialOffset uint64, opts ...Option) *Allocator {
	a := &Allocator{
		watermark:           initialOffset,
		fileSizeCap:         utils.MaxFileSize,
		globalHeapBlockSize: DefaultGlobalHeapBlockSize,
		snodBlockSize:       DefaultSnodBlockSize,
		records:             make([]Record, 0, 16),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func alignUp(offset, alignment uint64) uint64 {
	if alignment <= 1 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}

// Allocate reserves a non-overlapping range of size bytes at the next
// offset aligned to alignment that is ≥ the current watermark.
func (a *Allocator) Allocate(kind Kind, size, alignment uint64) (uint64, error) {
	if size == 0 {
		return 0, utils.InvariantErrorf("allocate %s: cannot reserve zero bytes", kind)
	}

	offset := alignUp(a.watermark, alignment)
	end := offset + size
	if end > a.fileSizeCap {
		return 0, utils.InvariantErrorf("allocate %s: offset %d size %d exceeds file size cap %d", kind, offset, size, a.fileSizeCap)
	}

	a.records = append(a.records, Record{Kind: kind, Offset: offset, Size: size})
	a.watermark = end
	return offset, nil
}

// AllocateFirstGlobalHeapBlock reserves the first block in a global heap's
// lifecycle, of the configured block size.
func (a *Allocator) AllocateFirstGlobalHeapBlock() (uint64, error) {
	offset, err := a.Allocate(KindGlobalHeapBlock, a.globalHeapBlockSize, a.globalHeapBlockSize)
	if err != nil {
		return 0, err
	}
	a.currentGlobalHeapSize = a.globalHeapBlockSize
	return offset, nil
}

// AllocateNextGlobalHeapBlock reserves a new block of the configured size,
// used once the current write block has been declared full (rollover).
func (a *Allocator) AllocateNextGlobalHeapBlock() (uint64, error) {
	offset, err := a.Allocate(KindGlobalHeapBlock, a.globalHeapBlockSize, a.globalHeapBlockSize)
	if err != nil {
		return 0, err
	}
	a.currentGlobalHeapSize = a.globalHeapBlockSize
	return offset, nil
}

// ExpandGlobalHeapBlock reserves a larger block to replace the current
// write block; the global heap calls it on every rollover after its
// first one. requiredSize is the minimum size the new block must hold; the
// granted size doubles the current block size until it is large enough.
func (a *Allocator) ExpandGlobalHeapBlock(requiredSize uint64) (offset uint64, size uint64, err error) {
	newSize := a.currentGlobalHeapSize
	if newSize == 0 {
		newSize = a.globalHeapBlockSize
	}
	for newSize < requiredSize {
		doubled, mulErr := utils.SafeMultiply(newSize, 2)
		if mulErr != nil {
			return 0, 0, utils.InvariantErrorf("global heap block expansion overflowed doubling %d: %v", newSize, mulErr)
		}
		newSize = doubled
	}
	offset, err = a.Allocate(KindGlobalHeapBlock, newSize, a.globalHeapBlockSize)
	if err != nil {
		return 0, 0, err
	}
	a.currentGlobalHeapSize = newSize
	return offset, newSize, nil
}

// AllocateNextSnodStorage reserves one fixed-size SNOD slot.
func (a *Allocator) AllocateNextSnodStorage() (uint64, error) {
	return a.Allocate(KindSnodBlock, a.snodBlockSize, 8)
}

// ExpandLocalHeapContents reserves a new, larger contents region for a
// local heap whose current contents are full. The canonical growth
// policy doubles the current size; the old region is abandoned (no
// relocation records are kept — contents are written only at close).
func (a *Allocator) ExpandLocalHeapContents(currentSize uint64) (newOffset uint64, newSize uint64, err error) {
	if currentSize == 0 {
		newSize = 8
	} else if newSize, err = utils.SafeMultiply(currentSize, 2); err != nil {
		return 0, 0, utils.InvariantErrorf("local heap contents expansion overflowed doubling %d: %v", currentSize, err)
	}
	newOffset, err = a.Allocate(KindLocalHeapContents, newSize, 8)
	if err != nil {
		return 0, 0, err
	}
	return newOffset, newSize, nil
}

// Records returns every reservation in ascending offset order.
func (a *Allocator) Records() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// EndOfFile returns the current watermark, i.e. the file's current total
// size including every reservation made so far.
func (a *Allocator) EndOfFile() uint64 {
	return a.watermark
}

// GlobalHeapBlockSize returns the block size new global-heap blocks are
// allocated with — the canonical default unless overridden at
// construction by WithGlobalHeapBlockSize.
func (a *Allocator) GlobalHeapBlockSize() uint64 {
	return a.globalHeapBlockSize
}

// Validate confirms invariant 1: no two records overlap. It is intended
// for tests and for a final consistency check before a file is closed.
func (a *Allocator) Validate() error {
	records := a.Records()
	for i := 0; i < len(records)-1; i++ {
		cur, next := records[i], records[i+1]
		if cur.Offset+cur.Size > next.Offset {
			return utils.IntegrityErrorAt(int64(next.Offset), "allocation overlap: %s [%d,%d) overlaps %s at %d",
				cur.Kind, cur.Offset, cur.Offset+cur.Size, next.Kind, next.Offset)
		}
	}
	return nil
}

// CountByKind tallies how many records of each kind have been reserved so
// far — useful for diagnostics and for tests asserting allocation shape.
func (a *Allocator) CountByKind() map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range a.records {
		counts[r.Kind]++
	}
	return counts
}
