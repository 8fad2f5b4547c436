package symtab

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvault/hdf5/internal/utils"
)

// fakeResolver resolves link-name-offsets from an in-memory map, standing
// in for a local heap in tests that only exercise B-tree ordering.
type fakeResolver map[uint64]string

func (f fakeResolver) StringAt(offset uint64) (string, error) {
	name, ok := f[offset]
	if !ok {
		return "", utils.BoundsErrorAt(int64(offset), "no name registered at heap offset")
	}
	return name, nil
}

func buildLeafTreeFixture(t *testing.T, offsetSize utils.Width, snodOffset uint64, entries []Entry) []byte {
	t.Helper()
	fp := utils.NewFixedPoint(binary.LittleEndian)
	hs := headerSize(offsetSize)
	keySize := int(offsetSize)

	buf := make([]byte, int(snodOffset)+Size(offsetSize))
	copy(buf[0:4], "TREE")
	buf[4] = GroupNodeType
	buf[5] = 0
	fp.Write(buf[6:8], 1, 2)

	pos := 8
	fp.WriteUndefined(buf[pos:pos+keySize], offsetSize)
	pos += keySize
	fp.WriteUndefined(buf[pos:pos+keySize], offsetSize)
	pos += keySize

	fp.Write(buf[pos:pos+keySize], 0, offsetSize) // key[0]
	pos += keySize
	fp.Write(buf[pos:pos+keySize], snodOffset, offsetSize) // child[0]
	pos += keySize
	fp.Write(buf[pos:pos+keySize], 0, offsetSize) // trailing key

	require.True(t, hs+3*keySize <= len(buf))

	snodBuf := buildSnodFixture(offsetSize, entries)
	copy(buf[snodOffset:], snodBuf)

	return buf
}

func TestReadTree_SingleLeaf(t *testing.T) {
	entries := []Entry{
		{LinkNameOffset: 0x10, ObjectHeaderOffset: 0x1000},
		{LinkNameOffset: 0x20, ObjectHeaderOffset: 0x2000},
	}
	data := buildLeafTreeFixture(t, 8, 512, entries)
	r := bytes.NewReader(data)

	tree, err := ReadTree(r, 0, 8, utils.NewFixedPoint(binary.LittleEndian))
	require.NoError(t, err)

	all := tree.Entries()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(0x10), all[0].LinkNameOffset)
	assert.Equal(t, uint64(0x20), all[1].LinkNameOffset)
}

func TestReadTree_BadSignature(t *testing.T) {
	data := make([]byte, 64)
	copy(data[0:4], "NOPE")
	r := bytes.NewReader(data)

	_, err := ReadTree(r, 0, 8, utils.NewFixedPoint(binary.LittleEndian))
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindFormat))
}

func TestTree_AddDataset_InsertsSorted(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	tree := NewTree(0, 1000, 8, fp)

	resolver := fakeResolver{
		10: "beta",
		20: "alpha",
		30: "gamma",
	}

	nextOffset := uint64(2000)
	alloc := func() (uint64, error) {
		nextOffset += 1000
		return nextOffset, nil
	}

	require.NoError(t, tree.AddDataset(resolver, Entry{LinkNameOffset: 10, ObjectHeaderOffset: 100}, alloc))
	require.NoError(t, tree.AddDataset(resolver, Entry{LinkNameOffset: 20, ObjectHeaderOffset: 200}, alloc))
	require.NoError(t, tree.AddDataset(resolver, Entry{LinkNameOffset: 30, ObjectHeaderOffset: 300}, alloc))

	snod := tree.snods[1000]
	require.Len(t, snod.Entries, 3)
	assert.Equal(t, uint64(20), snod.Entries[0].LinkNameOffset) // alpha
	assert.Equal(t, uint64(10), snod.Entries[1].LinkNameOffset) // beta
	assert.Equal(t, uint64(30), snod.Entries[2].LinkNameOffset) // gamma
}

func TestTree_AddDataset_SplitsFullSnod(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	tree := NewTree(0, 1000, 8, fp)

	resolver := make(fakeResolver)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	for i, n := range names {
		resolver[uint64(i)] = n
	}

	nextOffset := uint64(1000)
	alloc := func() (uint64, error) {
		nextOffset += 1000
		return nextOffset, nil
	}

	for i := range names {
		require.NoError(t, tree.AddDataset(resolver, Entry{LinkNameOffset: uint64(i)}, alloc))
	}

	root := tree.nodes[0]
	require.Len(t, root.Children, 2)

	total := 0
	for _, childOffset := range root.Children {
		total += len(tree.snods[childOffset].Entries)
	}
	assert.Equal(t, len(names), total)
	assert.Len(t, tree.snods[1000].Entries, 4)
}

func TestTree_AddDataset_RootFullReturnsInvariantError(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	tree := NewTree(0, 1000, 8, fp)
	root := tree.nodes[0]

	// Fill the root with 8 full SNODs named "a" < "b" < ... < "h" so every
	// lookup resolves deterministically, then target the last one (the
	// highest-sorting) with one more insert: it must overflow, and with
	// the root already at capacity, the split has nowhere to go. The
	// bound here (8) is spec.md's canonical 2*groupLeafNodeK (K=4), fixed
	// independently of btree.go's own groupLeafNodeK constant so this
	// test certifies the spec's declared capacity rather than whatever
	// the package happens to define it as.
	const wantRootCapacity = 8
	resolver := make(fakeResolver)
	root.Children = root.Children[:0]
	root.Keys = root.Keys[:0]
	root.Keys = append(root.Keys, 0)
	for i := 0; i < wantRootCapacity; i++ {
		offset := uint64(1000 + i*1000)
		name := string(rune('a' + i))
		resolver[offset] = name
		root.Children = append(root.Children, offset)
		root.Keys = append(root.Keys, offset)

		s := NewSnod()
		for j := 0; j < MaxEntries; j++ {
			s.Entries = append(s.Entries, Entry{LinkNameOffset: offset})
		}
		tree.snods[offset] = s
	}
	require.True(t, root.full(), "root with %d children must already be at this package's own capacity", wantRootCapacity)
	resolver[99999] = string(rune('a' + wantRootCapacity)) // sorts after every existing key

	err := tree.AddDataset(resolver, Entry{LinkNameOffset: 99999}, func() (uint64, error) { return 0, nil })
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindInvariant))
}

func TestTree_Serialize_RoundTrip(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	tree := NewTree(0, 1000, 8, fp)
	tree.snods[1000].Entries = append(tree.snods[1000].Entries, Entry{LinkNameOffset: 1, ObjectHeaderOffset: 2})

	buf := make([]byte, 4096)
	w := &memWriterAt{buf: buf}
	require.NoError(t, tree.Serialize(w))

	reRead, err := ReadTree(bytes.NewReader(buf), 0, 8, fp)
	require.NoError(t, err)
	all := reRead.Entries()
	require.Len(t, all, 1)
	assert.Equal(t, uint64(1), all[0].LinkNameOffset)
}

// TestTree_WriteNode_KeyChildLayout pins the literal on-disk layout of a
// 2-entry node against spec.md §3/§6: a leading placeholder key, then
// each child immediately followed by its own trailing (maximum-name) key
// — not a key preceding its child, which is what a prior version of this
// package wrote.
func TestTree_WriteNode_KeyChildLayout(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	tree := NewTree(0, 1000, 8, fp)

	resolver := make(fakeResolver)
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	for i, n := range names {
		resolver[uint64(i)] = n
	}

	nextOffset := uint64(1000)
	allocFn := func() (uint64, error) {
		nextOffset += 1000
		return nextOffset, nil
	}
	for i := range names {
		require.NoError(t, tree.AddDataset(resolver, Entry{LinkNameOffset: uint64(i)}, allocFn))
	}

	root := tree.nodes[0]
	require.Len(t, root.Children, 2)
	require.Len(t, root.Keys, 3)
	// Left SNOD retains "a".."d" (offsets 0-3); its max name is "d" at
	// offset 3. Right SNOD holds "e".."i" (offsets 4-8); its max is "i" at
	// offset 8.
	require.Equal(t, uint64(3), root.Keys[1])
	require.Equal(t, uint64(8), root.Keys[2])

	buf := make([]byte, NodeSize(8))
	w := &memWriterAt{buf: buf}
	require.NoError(t, tree.writeNode(w, 0, root))

	hs := headerSize(8)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[6:8]))

	pos := hs
	placeholder := fp.Read(buf[pos:pos+8], 8)
	pos += 8
	child0 := fp.Read(buf[pos:pos+8], 8)
	pos += 8
	key0 := fp.Read(buf[pos:pos+8], 8)
	pos += 8
	child1 := fp.Read(buf[pos:pos+8], 8)
	pos += 8
	key1 := fp.Read(buf[pos:pos+8], 8)

	assert.Equal(t, root.Keys[0], placeholder)
	assert.Equal(t, root.Children[0], child0)
	assert.Equal(t, uint64(3), key0) // child0's trailing key: offset("d")
	assert.Equal(t, root.Children[1], child1)
	assert.Equal(t, uint64(8), key1) // child1's trailing key: offset("i")
}

type memWriterAt struct {
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	n := copy(m.buf[off:], p)
	return n, nil
}
