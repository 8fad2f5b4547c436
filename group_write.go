package hdf5

import (
	"github.com/blockvault/hdf5/internal/alloc"
	"github.com/blockvault/hdf5/internal/heap"
	"github.com/blockvault/hdf5/internal/objhdr"
	"github.com/blockvault/hdf5/internal/symtab"
	"github.com/blockvault/hdf5/internal/utils"
)

// GroupWriter is a group open for writing: children are added by inserting
// a Symbol Table Entry into the group's own B-tree, keyed by a name
// appended to the group's own local heap.
type GroupWriter struct {
	fw *FileWriter

	heap       *heap.LocalHeap
	heapOffset uint64

	tree       *symtab.Tree
	treeOffset uint64

	objHeaderOffset uint64
}

// ObjectHeaderOffset returns the offset of this group's own object header
// — the address a parent group's Symbol Table Entry references.
func (g *GroupWriter) ObjectHeaderOffset() uint64 {
	return g.objHeaderOffset
}

// addName appends name to this group's local heap, expanding its contents
// region through the allocator when the current free list cannot satisfy
// the request (spec.md §4.3).
func (g *GroupWriter) addName(name string) (uint64, error) {
	if name == "" {
		return 0, utils.InvariantErrorf("link name must not be empty")
	}
	return g.heap.AddToHeap([]byte(name), g.fw.Allocator())
}

// insert resolves names through this group's own heap and inserts e into
// this group's own B-tree, allocating a new SNOD slot on overflow.
func (g *GroupWriter) insert(e symtab.Entry) error {
	return g.tree.AddDataset(g.heap, e, func() (uint64, error) {
		return g.fw.Allocator().AllocateNextSnodStorage()
	})
}

// CreateGroup creates a new, empty child group named name and links it
// into this group's index.
func (g *GroupWriter) CreateGroup(name string) (*GroupWriter, error) {
	child, err := g.fw.newGroup()
	if err != nil {
		return nil, err
	}

	linkOffset, err := g.addName(name)
	if err != nil {
		return nil, err
	}

	err = g.insert(symtab.Entry{
		LinkNameOffset:     linkOffset,
		ObjectHeaderOffset: child.objHeaderOffset,
		CacheType:          symtab.CacheSymbolTable,
		BTreeOffset:        child.treeOffset,
		LocalHeapOffset:    child.heapOffset,
	})
	if err != nil {
		return nil, err
	}

	return child, nil
}

// Dataset is the handle a caller keeps after creating a dataset: the
// object-header offset other links (CreateHardLink) and readers reference.
type Dataset struct {
	ObjectHeaderOffset uint64
}

// CreateDataset writes an object header built from the caller-supplied
// messages (dataspace, datatype, layout, attributes — the external
// collaborator surface named in spec.md §1, which this package never
// interprets) and links it into this group under name.
func (g *GroupWriter) CreateDataset(name string, messages []objhdr.Message) (*Dataset, error) {
	header := objhdr.New()
	header.Messages = append(header.Messages, messages...)

	objHeaderOffset, err := g.fw.Allocator().Allocate(alloc.KindObjectHeader, uint64(header.Size()), 8)
	if err != nil {
		return nil, err
	}
	if err := objhdr.WriteHeaderAt(header, g.fw.w, int64(objHeaderOffset)); err != nil {
		return nil, err
	}

	linkOffset, err := g.addName(name)
	if err != nil {
		return nil, err
	}

	err = g.insert(symtab.Entry{
		LinkNameOffset:     linkOffset,
		ObjectHeaderOffset: objHeaderOffset,
		CacheType:          symtab.CacheNone,
	})
	if err != nil {
		return nil, err
	}

	return &Dataset{ObjectHeaderOffset: objHeaderOffset}, nil
}

// CreateHardLink adds a second name, within this group, for a Dataset that
// already has one. Both names share the same object-header address, so a
// caller reading through either one reaches identical bytes; this module
// does not track which of a multiply-linked dataset's names is "first".
// Hard-linking a group is not supported: a group's Symbol Table Entry
// must carry CacheType CacheSymbolTable with its own B-tree/local-heap
// scratch-pad (internal/symtab/entry.go), which a bare ObjectHeaderOffset
// cannot supply, so a second name for a group would be unopenable as a
// group. Grounded on the teacher's CreateHardLink (link_write.go),
// narrowed to this module's object model: no path parsing, since the
// caller already holds the GroupWriter/Dataset handles from creation.
func (g *GroupWriter) CreateHardLink(name string, target *Dataset) error {
	if target == nil {
		return utils.InvariantErrorf("hard link target must not be nil")
	}

	if err := objhdr.IncrementReferenceCountAt(g.fw.w, int64(target.ObjectHeaderOffset)); err != nil {
		return err
	}

	linkOffset, err := g.addName(name)
	if err != nil {
		return err
	}

	return g.insert(symtab.Entry{
		LinkNameOffset:     linkOffset,
		ObjectHeaderOffset: target.ObjectHeaderOffset,
		CacheType:          symtab.CacheNone,
	})
}
