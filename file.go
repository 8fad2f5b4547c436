package hdf5

import (
	"encoding/binary"
	"os"

	"github.com/blockvault/hdf5/internal/heap"
	"github.com/blockvault/hdf5/internal/superblock"
	"github.com/blockvault/hdf5/internal/utils"
)

// File is an HDF5 file open for reading.
type File struct {
	f  *os.File
	sb *superblock.Superblock
	fp utils.FixedPoint

	globalHeap *heap.GlobalHeap
}

// Open opens an existing HDF5 v0 file for reading.
func Open(filename string) (*File, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, utils.WrapIOError(0, "open "+filename, err)
	}

	sb, err := superblock.Read(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		f:  f,
		sb: sb,
		fp: utils.NewFixedPoint(binary.LittleEndian),
	}, nil
}

// Root opens the file's root group.
func (f *File) Root() (*Group, error) {
	return openGroup(f, f.sb.RootEntry.BTreeOffset, f.sb.RootEntry.LocalHeapOffset)
}

// ReadVariableLength dereferences a global-heap ID previously returned by
// FileWriter.WriteVariableLength, loading and caching the owning block on
// first reference.
func (f *File) ReadVariableLength(id heap.HeapID) ([]byte, error) {
	if f.globalHeap == nil {
		f.globalHeap = heap.NewGlobalHeap(0, offsetWidth, f.fp)
	}
	return f.globalHeap.GetDataBytes(f.f, id.BlockOffset, id.ObjectID)
}

// Allocator-free diagnostics: EndOfFile reports the superblock's recorded
// end-of-file address, the allocator's final watermark at Close time.
func (f *File) EndOfFile() uint64 {
	return f.sb.EndOfFileAddress
}

// Close closes the underlying file handle.
func (f *File) Close() error {
	return f.f.Close()
}
