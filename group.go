package hdf5

import (
	"github.com/blockvault/hdf5/internal/heap"
	"github.com/blockvault/hdf5/internal/symtab"
	"github.com/blockvault/hdf5/internal/utils"
)

// Group is a group open for reading: its own local heap (for link names)
// and B-tree (for child Symbol Table Entries), loaded in full on open.
type Group struct {
	f *File

	heap *heap.LocalHeap
	tree *symtab.Tree
}

// Link is one resolved child of a Group: its name and the Symbol Table
// Entry describing where it lives.
type Link struct {
	Name  string
	Entry symtab.Entry
}

func openGroup(f *File, treeOffset, heapOffset uint64) (*Group, error) {
	lh, err := heap.Load(f.f, int64(heapOffset), offsetWidth, f.fp)
	if err != nil {
		return nil, err
	}

	tree, err := symtab.ReadTree(f.f, treeOffset, offsetWidth, f.fp)
	if err != nil {
		return nil, err
	}

	return &Group{f: f, heap: lh, tree: tree}, nil
}

// Links returns every direct child of this group, in B-tree order.
func (g *Group) Links() ([]Link, error) {
	entries := g.tree.Entries()
	links := make([]Link, 0, len(entries))
	for _, e := range entries {
		name, err := g.heap.StringAt(e.LinkNameOffset)
		if err != nil {
			return nil, err
		}
		links = append(links, Link{Name: name, Entry: e})
	}
	return links, nil
}

// OpenGroup opens a direct child group by name. It returns an
// IntegrityError if name does not denote a group (CacheType other than
// CacheSymbolTable), per the soft-link exclusion documented in
// SPEC_FULL.md.
func (g *Group) OpenGroup(name string) (*Group, error) {
	links, err := g.Links()
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.Name != name {
			continue
		}
		if l.Entry.CacheType != symtab.CacheSymbolTable {
			return nil, utils.IntegrityErrorAt(int64(l.Entry.ObjectHeaderOffset), "link %q is not a group", name)
		}
		return openGroup(g.f, l.Entry.BTreeOffset, l.Entry.LocalHeapOffset)
	}
	return nil, utils.FormatErrorf("no such link %q", name)
}

// ObjectHeaderOffset returns the offset of a direct child's object header
// by name, for datasets and any other non-group link.
func (g *Group) ObjectHeaderOffset(name string) (uint64, error) {
	links, err := g.Links()
	if err != nil {
		return 0, err
	}
	for _, l := range links {
		if l.Name == name {
			return l.Entry.ObjectHeaderOffset, nil
		}
	}
	return 0, utils.FormatErrorf("no such link %q", name)
}
