package heap

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvault/hdf5/internal/utils"
)

type fakeBlockAllocator struct {
	nextOffset uint64
	firstCalls int
	nextCalls  int
	expandCalls int
}

func (f *fakeBlockAllocator) AllocateFirstGlobalHeapBlock() (uint64, error) {
	f.firstCalls++
	f.nextOffset += 4096
	return f.nextOffset, nil
}

func (f *fakeBlockAllocator) AllocateNextGlobalHeapBlock() (uint64, error) {
	f.nextCalls++
	f.nextOffset += 4096
	return f.nextOffset, nil
}

func (f *fakeBlockAllocator) ExpandGlobalHeapBlock(requiredSize uint64) (uint64, uint64, error) {
	f.expandCalls++
	f.nextOffset += 8192
	size := requiredSize * 2
	return f.nextOffset, size, nil
}

func TestAddToHeap_SingleObject(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	g := NewGlobalHeap(4096, 8, fp)
	alloc := &fakeBlockAllocator{}

	id, err := g.AddToHeap([]byte("hello"), alloc)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), id.Length)
	assert.Equal(t, uint32(1), id.ObjectID)
	assert.Equal(t, 1, alloc.firstCalls)
}

func TestAddToHeap_Rollover(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	g := NewGlobalHeap(4096, 8, fp)
	alloc := &fakeBlockAllocator{}

	// Each 8-byte object costs 24 bytes (16-byte header + 8-byte
	// payload); packing enough of them into a 4096-byte block eventually
	// leaves no room for both the next object and a trailing
	// null-terminator, forcing a rollover to a second block.
	firstOffset := uint64(0)
	var lastID HeapID
	var err error
	for i := 0; i < 200; i++ {
		lastID, err = g.AddToHeap(bytes.Repeat([]byte{'x'}, 8), alloc)
		require.NoError(t, err)
		if i == 0 {
			firstOffset = lastID.BlockOffset
		}
	}

	assert.Equal(t, 1, alloc.firstCalls)
	assert.Equal(t, 1, alloc.nextCalls)
	assert.NotEqual(t, firstOffset, lastID.BlockOffset)
	assert.True(t, lastID.BlockOffset > firstOffset)
}

func TestGetDataBytes_RejectsObjectZero(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	g := NewGlobalHeap(4096, 8, fp)

	_, err := g.GetDataBytes(nil, 0, 0)
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindInvariant))
}

func TestGetDataBytes_ReadsObjectThreeRegardlessOfZero(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	g := NewGlobalHeap(4096, 8, fp)
	alloc := &fakeBlockAllocator{}

	_, err := g.AddToHeap([]byte("one"), alloc)
	require.NoError(t, err)
	_, err = g.AddToHeap([]byte("two"), alloc)
	require.NoError(t, err)
	target, err := g.AddToHeap([]byte("three"), alloc)
	require.NoError(t, err)

	buf := make([]byte, 65536)
	w := &memWriterAt{buf: buf}
	require.NoError(t, g.writeBlock(w, target.BlockOffset, g.blocks[target.BlockOffset]))

	fresh := NewGlobalHeap(4096, 8, fp)
	data, err := fresh.GetDataBytes(bytes.NewReader(buf), target.BlockOffset, target.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
}

func TestReadBlock_DuplicateID(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	buf := make([]byte, 256)
	copy(buf[0:4], "GCOL")
	buf[4] = 1
	fp.Write(buf[8:16], 256, 8)

	pos := 16
	fp.Write(buf[pos:pos+2], 1, 2)
	fp.Write(buf[pos+8:pos+16], 4, 8)
	copy(buf[pos+16:pos+20], "abcd")
	pos += 16 + 8

	fp.Write(buf[pos:pos+2], 1, 2)
	fp.Write(buf[pos+8:pos+16], 4, 8)

	_, err := ReadBlock(bytes.NewReader(buf), 0, 8, fp)
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindIntegrity))
}

func TestReadBlock_BadSignature(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	buf := make([]byte, 32)
	copy(buf[0:4], "NOPE")

	_, err := ReadBlock(bytes.NewReader(buf), 0, 8, fp)
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindFormat))
}

func TestSerialize_RoundTrip(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	g := NewGlobalHeap(4096, 8, fp)
	alloc := &fakeBlockAllocator{}

	id1, err := g.AddToHeap([]byte("alpha"), alloc)
	require.NoError(t, err)
	id2, err := g.AddToHeap([]byte("beta"), alloc)
	require.NoError(t, err)

	buf := make([]byte, 65536)
	w := &memWriterAt{buf: buf}
	require.NoError(t, g.Serialize(w))

	fresh := NewGlobalHeap(4096, 8, fp)
	r := bytes.NewReader(buf)

	data1, err := fresh.GetDataBytes(r, id1.BlockOffset, id1.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data1))

	data2, err := fresh.GetDataBytes(r, id2.BlockOffset, id2.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data2))
}
