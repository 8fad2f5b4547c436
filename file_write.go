// Package hdf5 provides a pure Go implementation for reading and writing
// HDF5 (Hierarchical Data Format, version 1) files at the byte level,
// producing and consuming files bit-compatible with the canonical HDF5
// library's v0 superblock format.
package hdf5

import (
	"encoding/binary"

	"github.com/blockvault/hdf5/internal/alloc"
	"github.com/blockvault/hdf5/internal/heap"
	"github.com/blockvault/hdf5/internal/objhdr"
	"github.com/blockvault/hdf5/internal/superblock"
	"github.com/blockvault/hdf5/internal/symtab"
	"github.com/blockvault/hdf5/internal/utils"
	"github.com/blockvault/hdf5/internal/writer"
)

// CreateMode specifies how to create a new HDF5 file.
type CreateMode int

const (
	// CreateTruncate creates a new file, overwriting if it exists.
	CreateTruncate CreateMode = iota
	// CreateExclusive creates a new file, failing if it already exists.
	CreateExclusive
)

// offsetWidth is the offset/length width this module writes with. The
// canonical source (and the teacher's own v0 writer) only ever emits
// 8-byte offsets and lengths; the read path (superblock.Read) supports
// any of {2,4,8} per spec.md §3, but nothing in the retrieved corpus
// writes a narrower file, so the write path fixes it here rather than
// exposing a parameter nothing would exercise.
const offsetWidth = utils.Width(8)

// FileWriter is an HDF5 file open for writing. It owns the file-space
// allocator, the superblock, and every group's local heap and B-tree that
// have been created so far; Close serializes all of it in one
// deterministic pass.
type FileWriter struct {
	w  *writer.FileWriter
	sb *superblock.Superblock
	fp utils.FixedPoint

	root   *GroupWriter
	groups []*GroupWriter

	globalHeap      *heap.GlobalHeap
	globalHeapBytes uint64
}

// Create creates a new HDF5 file with an empty root group, ready to accept
// CreateGroup/CreateDataset calls through its Root group.
func Create(filename string, mode CreateMode, opts ...alloc.Option) (*FileWriter, error) {
	wmode := writer.ModeTruncate
	if mode == CreateExclusive {
		wmode = writer.ModeExclusive
	}

	sb := superblock.New(offsetWidth, offsetWidth)
	initialOffset := uint64(superblock.Size(offsetWidth))

	fileWriter, err := writer.NewFileWriter(filename, wmode, initialOffset, opts...)
	if err != nil {
		return nil, err
	}

	fw := &FileWriter{
		w:  fileWriter,
		sb: sb,
		fp: utils.NewFixedPoint(binary.LittleEndian),
	}

	root, err := fw.newGroup()
	if err != nil {
		return nil, err
	}
	fw.root = root
	sb.RootEntry = symtab.Entry{
		CacheType:       symtab.CacheSymbolTable,
		BTreeOffset:     root.treeOffset,
		LocalHeapOffset: root.heapOffset,
	}

	return fw, nil
}

// Root returns the writable root group.
func (fw *FileWriter) Root() *GroupWriter {
	return fw.root
}

// newGroup allocates the infrastructure for one new, empty group: a local
// heap (with the canonical 88-byte initial contents, per spec.md S1), one
// SNOD, and a single-level B-tree rooted over it.
func (fw *FileWriter) newGroup() (*GroupWriter, error) {
	a := fw.w.Allocator()

	heapContentsOffset, err := a.Allocate(alloc.KindLocalHeapContents, 88, 8)
	if err != nil {
		return nil, err
	}
	lh := heap.NewLocalHeap(heapContentsOffset, offsetWidth, fw.fp)

	heapHeaderOffset, err := a.Allocate(alloc.KindLocalHeapHeader, uint64(heap.HeaderSize(offsetWidth)), 8)
	if err != nil {
		return nil, err
	}

	snodOffset, err := a.AllocateNextSnodStorage()
	if err != nil {
		return nil, err
	}

	treeOffset, err := a.Allocate(alloc.KindBTreeNode, uint64(symtab.NodeSize(offsetWidth)), 8)
	if err != nil {
		return nil, err
	}
	tree := symtab.NewTree(treeOffset, snodOffset, offsetWidth, fw.fp)

	g := &GroupWriter{
		fw:         fw,
		heap:       lh,
		heapOffset: heapHeaderOffset,
		tree:       tree,
		treeOffset: treeOffset,
	}

	header := objhdr.New()
	header.AddSymbolTableMessage(treeOffset, heapHeaderOffset, offsetWidth, fw.fp)
	objHeaderOffset, err := a.Allocate(alloc.KindObjectHeader, uint64(header.Size()), 8)
	if err != nil {
		return nil, err
	}
	if err := objhdr.WriteHeaderAt(header, fw.w, int64(objHeaderOffset)); err != nil {
		return nil, err
	}
	g.objHeaderOffset = objHeaderOffset

	fw.groups = append(fw.groups, g)
	return g, nil
}

// globalHeapWriter lazily creates the file's global heap manager on first
// use, per spec.md §4.4 ("lazy-initialized on first write to the first
// allocated block"), sized to whatever block size the allocator was
// configured with (alloc.WithGlobalHeapBlockSize), not the canonical
// default — the allocator already reserves blocks at that size, so the
// in-memory GlobalHeap must declare/use the same size or it silently
// wastes the extra reserved space.
func (fw *FileWriter) globalHeapWriter() *heap.GlobalHeap {
	if fw.globalHeap == nil {
		fw.globalHeap = heap.NewGlobalHeap(fw.w.Allocator().GlobalHeapBlockSize(), offsetWidth, fw.fp)
	}
	return fw.globalHeap
}

// WriteVariableLength stores bytes as a shared global-heap object (used
// for variable-length strings and region references) and returns the
// 16-byte heap ID the caller embeds in a dataset's payload.
func (fw *FileWriter) WriteVariableLength(data []byte) (heap.HeapID, error) {
	return fw.globalHeapWriter().AddToHeap(data, fw.w.Allocator())
}

// Close serializes every group's local heap and B-tree/SNODs, any
// global-heap blocks written, and finally the superblock (with the
// allocator's final watermark as the end-of-file address), then closes
// the underlying file.
func (fw *FileWriter) Close() error {
	for _, g := range fw.groups {
		if err := g.tree.Serialize(fw.w); err != nil {
			return err
		}
		if err := g.heap.WriteAt(fw.w, int64(g.heapOffset)); err != nil {
			return err
		}
	}

	if fw.globalHeap != nil {
		if err := fw.globalHeap.Serialize(fw.w); err != nil {
			return err
		}
	}

	if err := fw.w.Allocator().Validate(); err != nil {
		return err
	}

	if err := fw.sb.WriteTo(fw.w, fw.w.Allocator().EndOfFile()); err != nil {
		return err
	}

	if err := fw.w.Flush(); err != nil {
		return err
	}
	return fw.w.Close()
}

// Allocator exposes the file-space allocator's reservation ledger, chiefly
// for diagnostics and tests asserting allocation shape.
func (fw *FileWriter) Allocator() *alloc.Allocator {
	return fw.w.Allocator()
}
