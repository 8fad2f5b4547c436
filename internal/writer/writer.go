// Package writer provides the caller-owned seekable byte stream HDF5
// writes structural blocks through, paired with the allocator that decides
// where those blocks live.
package writer

import (
	"fmt"
	"io"
	"os"

	"github.com/blockvault/hdf5/internal/alloc"
)

// FileWriter wraps an os.File for writing HDF5 files, combining random
// access I/O with the file-space allocator. The core never reaches for a
// file handle on its own; every component that needs to persist a block is
// handed a FileWriter explicitly.
type FileWriter struct {
	file      *os.File
	allocator *alloc.Allocator
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, fails if it exists.
	ModeExclusive
)

// NewFileWriter creates a writer for a new HDF5 file, with its allocator's
// watermark starting at initialOffset (immediately past the fixed-size
// superblock and root STE).
func NewFileWriter(filename string, mode CreateMode, initialOffset uint64, opts ...alloc.Option) (*FileWriter, error) {
	var osFile *os.File
	var err error

	switch mode {
	case ModeTruncate:
		osFile, err = os.Create(filename)
	case ModeExclusive:
		osFile, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		file:      osFile,
		allocator: alloc.New(initialOffset, opts...),
	}, nil
}

// Allocate reserves a block of space in the file. The space is not
// zeroed — the caller must write data to the allocated block.
func (w *FileWriter) Allocate(kind alloc.Kind, size, alignment uint64) (uint64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.allocator.Allocate(kind, size, alignment)
}

// WriteAt writes data at a specific address in the file.
func (w *FileWriter) WriteAt(data []byte, offset int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := w.file.WriteAt(data, offset)
	if err != nil {
		return n, fmt.Errorf("write at address %d failed: %w", offset, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write at address %d: wrote %d of %d bytes", offset, n, len(data))
	}
	return n, nil
}

// WriteAtAddress writes data at a specific address (uint64 convenience).
func (w *FileWriter) WriteAtAddress(data []byte, addr uint64) error {
	_, err := w.WriteAt(data, int64(addr))
	return err
}

// ReadAt reads data at a specific address. Implements io.ReaderAt.
func (w *FileWriter) ReadAt(buf []byte, addr int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.file.ReadAt(buf, addr)
}

// EndOfFile returns the current end-of-file address.
func (w *FileWriter) EndOfFile() uint64 {
	return w.allocator.EndOfFile()
}

// Flush ensures all writes are committed to disk.
func (w *FileWriter) Flush() error {
	if w.file == nil {
		return fmt.Errorf("writer is closed")
	}
	return w.file.Sync()
}

// Close closes the underlying file. It does not flush first.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// File returns the underlying *os.File.
func (w *FileWriter) File() *os.File {
	return w.file
}

// Allocator returns the file-space allocator.
func (w *FileWriter) Allocator() *alloc.Allocator {
	return w.allocator
}

// WriteAtWithAllocation allocates size(data) bytes of the given kind and
// writes data there in one step, returning the address chosen.
func (w *FileWriter) WriteAtWithAllocation(kind alloc.Kind, data []byte, alignment uint64) (uint64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("cannot write empty data")
	}
	addr, err := w.Allocate(kind, uint64(len(data)), alignment)
	if err != nil {
		return 0, err
	}
	if err := w.WriteAtAddress(data, addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// Seek implements io.Seeker for compatibility. HDF5 uses absolute
// addressing, so seeking is rarely needed.
func (w *FileWriter) Seek(offset int64, whence int) (int64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.file.Seek(offset, whence)
}

var (
	_ io.ReaderAt = (*FileWriter)(nil)
	_ io.WriterAt = (*FileWriter)(nil)
)
