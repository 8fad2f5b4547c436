package symtab

import (
	"io"

	"github.com/blockvault/hdf5/internal/utils"
)

// treeSignature is the 4-byte B-tree node header magic.
var treeSignature = [4]byte{'T', 'R', 'E', 'E'}

// GroupNodeType is the B-tree node type for group symbol tables (type 0 in
// the canonical format; dataset chunk indices use type 1, out of scope
// here).
const GroupNodeType uint8 = 0

// NameResolver resolves a link-name-offset (into a local heap) to the
// string it denotes. The B-tree orders keys by resolved name even though
// on-disk keys are numeric heap offsets, so every insert/search needs one
// of these.
type NameResolver interface {
	StringAt(offset uint64) (string, error)
}

// Node is one version-1 B-tree node ("TREE"). At NodeLevel 0 the Children
// are SNOD addresses; at higher levels they are addresses of child Nodes.
// Per spec.md §3/§6, Keys carries one more entry than Children: Keys[0] is
// the leading placeholder key written before the first (child, key) pair
// and is never consulted for routing; Keys[i+1] is the link-name-offset
// of the lexicographically maximum name reachable through Children[i],
// written immediately after Children[i] on disk.
type Node struct {
	NodeLevel    uint8
	LeftSibling  uint64
	RightSibling uint64
	Keys         []uint64
	Children     []uint64
}

func newNode(level uint8) *Node {
	return &Node{
		NodeLevel:    level,
		LeftSibling:  utils.UndefinedValue(8),
		RightSibling: utils.UndefinedValue(8),
		Keys:         make([]uint64, 0, 2*groupLeafNodeK+1),
		Children:     make([]uint64, 0, 2*groupLeafNodeK),
	}
}

// groupLeafNodeK is this module's own K parameter for a level-0 (leaf)
// group B-tree node: a full node holds up to 2K children and 2K+1 keys.
// spec.md §3 distinguishes groupLeafNodeK (level 0) from
// groupInternalNodeK (level>0) — canonical 4 and 16 — and
// internal/superblock carries both independently. Since this package
// never promotes a root past level 0 (DESIGN.md's Open Question (i)
// resolution), the root node's own capacity is bounded by
// 2*groupLeafNodeK=8, matching snod.MaxEntries exactly, not by the
// internal-node K, which would only apply to a level>0 node this package
// never builds.
const groupLeafNodeK = 4

// headerSize returns the fixed TREE header size for a given offset width.
func headerSize(offsetSize utils.Width) int {
	return 4 + 1 + 1 + 2 + int(offsetSize)*2
}

// full reports whether the node has reached its 2K child capacity.
func (n *Node) full() bool {
	return len(n.Children) >= 2*groupLeafNodeK
}

// NodeSize returns the fixed on-disk footprint of a group B-tree node for
// the given offset width: every node is allocated at its full 2K-child
// capacity up front since this module does not support promoting a new
// root (spec.md §9 Open Question (i)), so the slot size never changes
// across inserts.
func NodeSize(offsetSize utils.Width) int {
	keyChildSize := int(offsetSize)
	numKeys := 2*groupLeafNodeK + 1
	return headerSize(offsetSize) + numKeys*keyChildSize + 2*groupLeafNodeK*keyChildSize
}

// Tree is a version-1 group B-tree together with the arena of nodes and
// SNODs it has paged in, keyed by file offset, per the handle-based
// (rather than pointer-cyclic) object model used throughout this package.
type Tree struct {
	RootOffset uint64
	offsetSize utils.Width
	fp         utils.FixedPoint

	nodes map[uint64]*Node
	snods map[uint64]*Snod
}

// NewTree creates an empty single-leaf tree rooted at rootOffset, with one
// empty SNOD already resident at snodOffset.
func NewTree(rootOffset, snodOffset uint64, offsetSize utils.Width, fp utils.FixedPoint) *Tree {
	root := newNode(0)
	// Keys[0] is the leading placeholder; Keys[1] is child 0's (initially
	// empty) trailing key, filled in by updateKeyForChild on first insert.
	root.Keys = append(root.Keys, 0, 0)
	root.Children = append(root.Children, snodOffset)

	return &Tree{
		RootOffset: rootOffset,
		offsetSize: offsetSize,
		fp:         fp,
		nodes:      map[uint64]*Node{rootOffset: root},
		snods:      map[uint64]*Snod{snodOffset: NewSnod()},
	}
}

// ReadTree parses a group B-tree rooted at rootOffset, recursively loading
// every reachable node and SNOD into the arena. Cycles (a child offset
// equal to an ancestor's offset) are rejected as an IntegrityError instead
// of recursing forever.
func ReadTree(r utils.ReaderAt, rootOffset uint64, offsetSize utils.Width, fp utils.FixedPoint) (*Tree, error) {
	t := &Tree{
		RootOffset: rootOffset,
		offsetSize: offsetSize,
		fp:         fp,
		nodes:      make(map[uint64]*Node),
		snods:      make(map[uint64]*Snod),
	}
	visited := make(map[uint64]bool)
	if err := t.readNodeRecursive(r, rootOffset, visited); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) readNodeRecursive(r utils.ReaderAt, offset uint64, visited map[uint64]bool) error {
	if visited[offset] {
		return utils.IntegrityErrorAt(int64(offset), "cycle detected while reading group B-tree")
	}
	visited[offset] = true

	hs := headerSize(t.offsetSize)
	header := utils.GetBuffer(hs)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, int64(offset)); err != nil {
		return utils.WrapIOError(int64(offset), "B-tree node header read failed", err)
	}

	if header[0] != treeSignature[0] || header[1] != treeSignature[1] ||
		header[2] != treeSignature[2] || header[3] != treeSignature[3] {
		return utils.FormatErrorAt(int64(offset), "invalid B-tree signature %q", header[0:4])
	}
	nodeType := header[4]
	if nodeType != GroupNodeType {
		return utils.FormatErrorAt(int64(offset), "expected group B-tree (type 0), got type %d", nodeType)
	}

	n := &Node{NodeLevel: header[5]}
	entriesUsed := t.fp.Read(header[6:8], 2)

	pos := 8
	n.LeftSibling = t.fp.Read(header[pos:pos+int(t.offsetSize)], t.offsetSize)
	pos += int(t.offsetSize)
	n.RightSibling = t.fp.Read(header[pos:pos+int(t.offsetSize)], t.offsetSize)

	if entriesUsed == 0 {
		t.nodes[offset] = n
		return nil
	}

	keyChildSize := int(t.offsetSize)
	numKeys := int(entriesUsed) + 1
	dataSize := numKeys*keyChildSize + int(entriesUsed)*keyChildSize
	data := utils.GetBuffer(dataSize)
	defer utils.ReleaseBuffer(data)

	if _, err := r.ReadAt(data, int64(offset)+int64(hs)); err != nil {
		return utils.WrapIOError(int64(offset)+int64(hs), "B-tree node body read failed", err)
	}

	dpos := 0
	n.Keys = make([]uint64, 0, numKeys)
	n.Children = make([]uint64, 0, entriesUsed)

	placeholder := t.fp.Read(data[dpos:dpos+keyChildSize], t.offsetSize)
	dpos += keyChildSize
	n.Keys = append(n.Keys, placeholder)

	for i := 0; i < int(entriesUsed); i++ {
		child := t.fp.Read(data[dpos:dpos+keyChildSize], t.offsetSize)
		dpos += keyChildSize
		key := t.fp.Read(data[dpos:dpos+keyChildSize], t.offsetSize)
		dpos += keyChildSize
		n.Children = append(n.Children, child)
		n.Keys = append(n.Keys, key)
	}

	t.nodes[offset] = n

	for _, childOffset := range n.Children {
		if n.NodeLevel == 0 {
			snod, err := ReadSnod(r, int64(childOffset), t.offsetSize, t.fp)
			if err != nil {
				return err
			}
			t.snods[childOffset] = snod
		} else {
			if err := t.readNodeRecursive(r, childOffset, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// Entries returns every Entry reachable from the tree, in on-disk
// (not name-sorted) order. Callers needing name order should resolve and
// sort separately.
func (t *Tree) Entries() []Entry {
	var all []Entry
	root, ok := t.nodes[t.RootOffset]
	if !ok {
		return nil
	}
	t.collect(root, &all)
	return all
}

func (t *Tree) collect(n *Node, out *[]Entry) {
	for _, childOffset := range n.Children {
		if n.NodeLevel == 0 {
			if snod, ok := t.snods[childOffset]; ok {
				*out = append(*out, snod.Entries...)
			}
			continue
		}
		if child, ok := t.nodes[childOffset]; ok {
			t.collect(child, out)
		}
	}
}

// AddDataset inserts a new Entry into the tree, ordered by the resolved
// link name. It implements the single-level insert algorithm:
//  1. Resolve e's link name via resolver.
//  2. Walk the root node's children to find the SNOD whose name range
//     contains the new name.
//  3. Insert into that SNOD in sorted position.
//  4. If the SNOD overflows MaxEntries, split it and insert the new
//     SNOD's address into the root node alongside an updated key.
//  5. If the root node itself would need to grow past its 2K capacity
//     (i.e. promoting a new tree level), report InvariantErrorf: root
//     promotion is not supported.
func (t *Tree) AddDataset(resolver NameResolver, e Entry, nextSnodOffset func() (uint64, error)) error {
	root, ok := t.nodes[t.RootOffset]
	if !ok {
		return utils.InvariantErrorf("group B-tree root node %d not resident", t.RootOffset)
	}
	if root.NodeLevel != 0 {
		return utils.InvariantErrorf("group B-tree insert into non-leaf root not supported")
	}

	name, err := resolver.StringAt(e.LinkNameOffset)
	if err != nil {
		return err
	}

	childIdx := t.findChildIndex(root, resolver, name)
	snodOffset := root.Children[childIdx]
	snod, ok := t.snods[snodOffset]
	if !ok {
		return utils.InvariantErrorf("SNOD at offset %d not resident", snodOffset)
	}

	insertIdx, err := t.sortedInsertIndex(resolver, snod, name)
	if err != nil {
		return err
	}
	snod.Insert(insertIdx, e)

	if len(snod.Entries) <= MaxEntries {
		t.updateKeyForChild(root, childIdx, resolver)
		return nil
	}

	if root.full() {
		return utils.InvariantErrorf("group B-tree root node is full; promoting a new root level is not supported")
	}

	right := snod.Split()
	rightOffset, err := nextSnodOffset()
	if err != nil {
		return err
	}
	t.snods[rightOffset] = right

	insertAt := childIdx + 1
	root.Children = append(root.Children, 0)
	copy(root.Children[insertAt+1:], root.Children[insertAt:])
	root.Children[insertAt] = rightOffset

	// Keys carries one more entry than Children (the leading placeholder
	// plus one trailing key per child), so the new child's trailing-key
	// slot is inserted one index past where the child itself landed.
	root.Keys = append(root.Keys, 0)
	copy(root.Keys[insertAt+2:], root.Keys[insertAt+1:])

	t.updateKeyForChild(root, childIdx, resolver)
	t.updateKeyForChild(root, insertAt, resolver)

	return nil
}

// findChildIndex returns the index of the child whose SNOD should receive
// a new entry with the given resolved name. Each Keys[i+1] is the maximum
// name already present in child i's subtree, so the target child is the
// smallest index whose key is >= name; if name sorts past every key, it
// belongs in the last child.
func (t *Tree) findChildIndex(root *Node, resolver NameResolver, name string) int {
	for i := 0; i < len(root.Children); i++ {
		if snod, ok := t.snods[root.Children[i]]; ok && len(snod.Entries) == 0 {
			return i
		}
		keyName, err := resolver.StringAt(root.Keys[i+1])
		if err != nil {
			continue
		}
		if name <= keyName {
			return i
		}
	}
	return len(root.Children) - 1
}

// sortedInsertIndex finds the position within snod.Entries where an entry
// named name belongs, keeping entries sorted by resolved name.
func (t *Tree) sortedInsertIndex(resolver NameResolver, snod *Snod, name string) (int, error) {
	for i, existing := range snod.Entries {
		existingName, err := resolver.StringAt(existing.LinkNameOffset)
		if err != nil {
			return 0, err
		}
		if name < existingName {
			return i, nil
		}
	}
	return len(snod.Entries), nil
}

// updateKeyForChild sets root.Keys[idx+1] — the trailing key written after
// Children[idx] on disk — to the link-name-offset of the lexicographically
// maximum-named entry in the SNOD at root.Children[idx], per spec: a
// B-tree entry's key is always the maximum name in its subtree.
func (t *Tree) updateKeyForChild(root *Node, idx int, resolver NameResolver) {
	snod, ok := t.snods[root.Children[idx]]
	if !ok || len(snod.Entries) == 0 {
		return
	}

	maxName := ""
	maxOffset := snod.Entries[0].LinkNameOffset
	for i, e := range snod.Entries {
		name, err := resolver.StringAt(e.LinkNameOffset)
		if err != nil {
			continue
		}
		if i == 0 || name > maxName {
			maxName = name
			maxOffset = e.LinkNameOffset
		}
	}
	root.Keys[idx+1] = maxOffset
}

// Serialize writes the root node and every resident SNOD to w, in arena
// order. It does not allocate new space; callers allocate SNOD/node slots
// up front (via the allocator) before calling Serialize.
func (t *Tree) Serialize(w io.WriterAt) error {
	root, ok := t.nodes[t.RootOffset]
	if !ok {
		return utils.InvariantErrorf("group B-tree root node %d not resident", t.RootOffset)
	}
	if err := t.writeNode(w, t.RootOffset, root); err != nil {
		return err
	}
	for offset, snod := range t.snods {
		if err := snod.WriteAt(w, int64(offset), t.offsetSize, t.fp); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) writeNode(w io.WriterAt, offset uint64, n *Node) error {
	hs := headerSize(t.offsetSize)
	keyChildSize := int(t.offsetSize)
	numKeys := 2*groupLeafNodeK + 1
	bodySize := numKeys*keyChildSize + 2*groupLeafNodeK*keyChildSize
	buf := make([]byte, hs+bodySize)

	copy(buf[0:4], treeSignature[:])
	buf[4] = GroupNodeType
	buf[5] = n.NodeLevel
	t.fp.Write(buf[6:8], uint64(len(n.Children)), 2)

	pos := 8
	t.fp.Write(buf[pos:pos+int(t.offsetSize)], n.LeftSibling, t.offsetSize)
	pos += int(t.offsetSize)
	t.fp.Write(buf[pos:pos+int(t.offsetSize)], n.RightSibling, t.offsetSize)
	pos += int(t.offsetSize)

	// Per spec.md §3/§6: key[0] (leading placeholder), then entriesUsed
	// pairs of (childPointer, key) — each child's own trailing key is
	// written immediately after that child, not before it.
	var placeholder uint64
	if len(n.Keys) > 0 {
		placeholder = n.Keys[0]
	}
	t.fp.Write(buf[pos:pos+keyChildSize], placeholder, t.offsetSize)
	pos += keyChildSize

	for i, child := range n.Children {
		t.fp.Write(buf[pos:pos+keyChildSize], child, t.offsetSize)
		pos += keyChildSize
		var key uint64
		if i+1 < len(n.Keys) {
			key = n.Keys[i+1]
		}
		t.fp.Write(buf[pos:pos+keyChildSize], key, t.offsetSize)
		pos += keyChildSize
	}

	_, err := w.WriteAt(buf, int64(offset))
	return err
}

// Snods returns the resident SNOD arena, keyed by offset.
func (t *Tree) Snods() map[uint64]*Snod {
	return t.snods
}

// Nodes returns the resident node arena, keyed by offset.
func (t *Tree) Nodes() map[uint64]*Node {
	return t.nodes
}
