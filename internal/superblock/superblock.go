// Package superblock implements the HDF5 v0 superblock: the first bytes of
// the file, fixing the offset/length widths every other component reads
// through, and carrying the root group's entry point.
package superblock

import (
	"encoding/binary"
	"io"

	"github.com/blockvault/hdf5/internal/symtab"
	"github.com/blockvault/hdf5/internal/utils"
)

// Signature is the fixed 8-byte magic every HDF5 file opens with.
var Signature = [8]byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}

// Version0 is the only superblock version this module parses or emits, per
// spec.md's Non-goals (v2/v3 superblocks are out of scope).
const Version0 = 0

// Size is the fixed on-disk footprint of a v0 superblock with 8-byte
// offsets and lengths: 24-byte fixed prefix, four offsetSize fields
// (base, freespace, eof, driver-info), and one root Symbol Table Entry.
func Size(offsetSize utils.Width) int {
	return 24 + 4*int(offsetSize) + symtab.EntrySize(offsetSize)
}

// Superblock carries the file-wide parameters fixed at creation: the
// offset/length widths every other component reads through, the B-tree
// fan-out parameters, and the root group's Symbol Table Entry.
type Superblock struct {
	OffsetSize utils.Width
	LengthSize utils.Width

	GroupLeafNodeK     uint16
	GroupInternalNodeK uint16

	FileConsistencyFlags uint32
	BaseAddress          uint64

	// EndOfFileAddress is rewritten at close once every structural block
	// has been placed; it is meaningless at creation time.
	EndOfFileAddress uint64

	// RootEntry anchors the root group: its scratch-pad carries the root
	// B-tree and local-heap addresses once they are known.
	RootEntry symtab.Entry
}

// New constructs a superblock for a freshly created file with the
// canonical group fan-out parameters (leaf K=4, internal K=16).
func New(offsetSize, lengthSize utils.Width) *Superblock {
	return &Superblock{
		OffsetSize:         offsetSize,
		LengthSize:         lengthSize,
		GroupLeafNodeK:     4,
		GroupInternalNodeK: 16,
		RootEntry:          symtab.Entry{CacheType: symtab.CacheSymbolTable},
	}
}

// Read parses a v0 superblock at offset 0, validating the signature and
// version and reading the base address, end-of-file address, and root
// Symbol Table Entry. A non-zero free-space or driver-info address is
// accepted but ignored: this module never populates either (spec.md §4.1).
func Read(r utils.ReaderAt) (*Superblock, error) {
	fp := utils.NewFixedPoint(binary.LittleEndian)

	fixed := utils.GetBuffer(16)
	defer utils.ReleaseBuffer(fixed)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return nil, utils.WrapIOError(0, "superblock prefix read failed", err)
	}

	for i := 0; i < 8; i++ {
		if fixed[i] != Signature[i] {
			return nil, utils.FormatErrorAt(0, "invalid HDF5 signature")
		}
	}
	if fixed[8] != Version0 {
		return nil, utils.FormatErrorAt(0, "unsupported superblock version %d (only v0 is supported)", fixed[8])
	}
	// fixed[9]  = file-freespace version (0)
	// fixed[10] = root-group symtab version (0)
	// fixed[11] = reserved
	// fixed[12] = shared-header-message version (0)
	offsetSize := utils.Width(fixed[13])
	lengthSize := utils.Width(fixed[14])
	// fixed[15] = reserved

	sb := &Superblock{OffsetSize: offsetSize, LengthSize: lengthSize}

	kbuf := utils.GetBuffer(8)
	defer utils.ReleaseBuffer(kbuf)
	if _, err := r.ReadAt(kbuf, 16); err != nil {
		return nil, utils.WrapIOError(16, "superblock K-parameters read failed", err)
	}
	sb.GroupLeafNodeK = uint16(fp.Read(kbuf[0:2], 2))
	sb.GroupInternalNodeK = uint16(fp.Read(kbuf[2:4], 2))
	sb.FileConsistencyFlags = uint32(fp.Read(kbuf[4:8], 4))

	pos := int64(24)
	width := int64(offsetSize)

	baseAddr, err := fp.ReadAt(r, pos, offsetSize)
	if err != nil {
		return nil, utils.WrapIOError(pos, "base address read failed", err)
	}
	sb.BaseAddress = baseAddr
	pos += width

	// Free-space address: always undefined in this spec; skip.
	pos += width

	eofAddr, err := fp.ReadAt(r, pos, offsetSize)
	if err != nil {
		return nil, utils.WrapIOError(pos, "end-of-file address read failed", err)
	}
	sb.EndOfFileAddress = eofAddr
	pos += width

	// Driver-info address: always undefined in this spec; skip.
	pos += width

	entryBuf := utils.GetBuffer(symtab.EntrySize(offsetSize))
	defer utils.ReleaseBuffer(entryBuf)
	if _, err := r.ReadAt(entryBuf, pos); err != nil {
		return nil, utils.WrapIOError(pos, "root symbol table entry read failed", err)
	}
	entry, err := symtab.Decode(entryBuf, offsetSize, fp)
	if err != nil {
		return nil, err
	}

	// Matches the canonical library's own fallback for empty-root-group
	// files: when the plain object-header address is unset, resolve
	// through the symbol-table-cached scratch-pad instead.
	if entry.CacheType == symtab.CacheSymbolTable && entry.ObjectHeaderOffset == 0 {
		entry.ObjectHeaderOffset = entry.BTreeOffset
	}
	sb.RootEntry = entry

	return sb, nil
}

// WriteTo serializes the superblock to w at offset 0, using eof as the
// end-of-file address (the watermark at the moment of close, after every
// structural block has been placed).
func (sb *Superblock) WriteTo(w io.WriterAt, eof uint64) error {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	size := Size(sb.OffsetSize)
	buf := make([]byte, size)

	copy(buf[0:8], Signature[:])
	buf[8] = Version0
	buf[9] = 0
	buf[10] = 0
	buf[11] = 0
	buf[12] = 0
	buf[13] = byte(sb.OffsetSize)
	buf[14] = byte(sb.LengthSize)
	buf[15] = 0
	fp.Write(buf[16:18], uint64(sb.GroupLeafNodeK), 2)
	fp.Write(buf[18:20], uint64(sb.GroupInternalNodeK), 2)
	fp.Write(buf[20:24], uint64(sb.FileConsistencyFlags), 4)

	pos := 24
	width := int(sb.OffsetSize)

	fp.Write(buf[pos:pos+width], sb.BaseAddress, sb.OffsetSize)
	pos += width

	fp.WriteUndefined(buf[pos:pos+width], sb.OffsetSize)
	pos += width

	fp.Write(buf[pos:pos+width], eof, sb.OffsetSize)
	pos += width

	fp.WriteUndefined(buf[pos:pos+width], sb.OffsetSize)
	pos += width

	sb.RootEntry.Encode(buf[pos:pos+symtab.EntrySize(sb.OffsetSize)], sb.OffsetSize, fp)

	_, err := w.WriteAt(buf, 0)
	if err != nil {
		return utils.WrapIOError(0, "superblock write failed", err)
	}
	return nil
}
