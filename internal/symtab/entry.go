// Package symtab implements the group symbol-table subsystem: the Symbol
// Table Entry, Symbol Table Node (SNOD), and version-1 B-tree that together
// index the named children of an HDF5 group. It intentionally has no
// dependency on the superblock package so that the superblock can embed a
// root Entry without an import cycle.
package symtab

import (
	"github.com/blockvault/hdf5/internal/utils"
)

// CacheType discriminates how a Symbol Table Entry's scratch-pad is
// interpreted. Soft links (H5G_CACHED_SLINK in the canonical format) are
// out of scope here: an Entry's CacheType is always CacheNone or
// CacheSymbolTable.
type CacheType uint32

const (
	// CacheNone means the scratch-pad is unused; the referenced object is
	// anything other than a group (dataset, committed datatype).
	CacheNone CacheType = 0
	// CacheSymbolTable means the referenced object is a group, and the
	// scratch-pad holds its B-tree and local-heap addresses.
	CacheSymbolTable CacheType = 1
)

// EntrySize returns the on-disk size of an Entry for the given offset
// width: 2*offsetSize (linkNameOffset, objectHeaderOffset) + 4
// (cacheType) + 4 (reserved) + 16 (scratch-pad).
func EntrySize(offsetSize utils.Width) int {
	return int(offsetSize)*2 + 4 + 4 + 16
}

// Entry is a Symbol Table Entry: a record inside an SNOD, or the root
// group's entry point held by the superblock.
type Entry struct {
	LinkNameOffset     uint64
	ObjectHeaderOffset uint64
	CacheType          CacheType
	Reserved           uint32
	// Valid only when CacheType == CacheSymbolTable.
	BTreeOffset     uint64
	LocalHeapOffset uint64
}

// Decode parses one Entry from the front of buf, which must be at least
// EntrySize(offsetSize) bytes.
func Decode(buf []byte, offsetSize utils.Width, fp utils.FixedPoint) (Entry, error) {
	want := EntrySize(offsetSize)
	if len(buf) < want {
		return Entry{}, utils.BoundsErrorAt(-1, "symbol table entry truncated: need %d bytes, have %d", want, len(buf))
	}

	pos := 0
	e := Entry{}
	e.LinkNameOffset = fp.Read(buf[pos:], offsetSize)
	pos += int(offsetSize)
	e.ObjectHeaderOffset = fp.Read(buf[pos:], offsetSize)
	pos += int(offsetSize)
	e.CacheType = CacheType(fp.Read(buf[pos:pos+4], 4))
	pos += 4
	e.Reserved = uint32(fp.Read(buf[pos:pos+4], 4))
	pos += 4

	switch e.CacheType {
	case CacheNone:
		// Scratch-pad unused.
	case CacheSymbolTable:
		e.BTreeOffset = fp.Read(buf[pos:pos+8], 8)
		e.LocalHeapOffset = fp.Read(buf[pos+8:pos+16], 8)
	default:
		return Entry{}, utils.IntegrityErrorAt(-1, "symbol table entry has unsupported cache type %d", e.CacheType)
	}

	return e, nil
}

// Encode writes the entry into buf (which must be EntrySize(offsetSize)
// bytes), zero-filling the scratch-pad when CacheType is CacheNone per the
// STE invariant that writing cacheType=0 fills scratchPad with zeros.
func (e Entry) Encode(buf []byte, offsetSize utils.Width, fp utils.FixedPoint) {
	pos := 0
	fp.Write(buf[pos:], e.LinkNameOffset, offsetSize)
	pos += int(offsetSize)
	fp.Write(buf[pos:], e.ObjectHeaderOffset, offsetSize)
	pos += int(offsetSize)
	fp.Write(buf[pos:pos+4], uint64(e.CacheType), 4)
	pos += 4
	fp.Write(buf[pos:pos+4], uint64(e.Reserved), 4)
	pos += 4

	scratch := buf[pos : pos+16]
	for i := range scratch {
		scratch[i] = 0
	}
	if e.CacheType == CacheSymbolTable {
		fp.Write(scratch[0:8], e.BTreeOffset, 8)
		fp.Write(scratch[8:16], e.LocalHeapOffset, 8)
	}
}
