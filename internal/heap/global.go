package heap

import (
	"io"

	"github.com/blockvault/hdf5/internal/utils"
)

var globalHeapSignature = [4]byte{'G', 'C', 'O', 'L'}

// collectionHeaderSize is the fixed GCOL header: signature(4) +
// version(1) + reserved(3) + totalSize(8).
const collectionHeaderSize = 16

// objectHeaderSize is the fixed per-object header: objectId(2) +
// refCount(2) + reserved(4) + size(8).
const objectHeaderSize = 16

// HeapID is the 16-byte reference a caller persists to later retrieve a
// global-heap object: length, the owning block's file offset, and the
// object's id within that block.
type HeapID struct {
	Length      uint32
	BlockOffset uint64
	ObjectID    uint32
}

// Object is one resident payload inside a global-heap block.
type Object struct {
	ID       uint16
	RefCount uint16
	Data     []byte
}

// Block is one in-memory "GCOL" collection.
type Block struct {
	Offset     uint64
	TotalSize  uint64
	NextID     uint16
	objects    map[uint16]*Object
	objOrder   []uint16
	terminated bool // has an explicit null-terminator object been emitted
}

func newBlock(offset, size uint64) *Block {
	return &Block{
		Offset:    offset,
		TotalSize: size,
		NextID:    1,
		objects:   make(map[uint16]*Object),
	}
}

func pad8(n uint64) uint64 {
	return (n + 7) &^ 7
}

func (b *Block) usedSize() uint64 {
	used := uint64(collectionHeaderSize)
	for _, id := range b.objOrder {
		obj := b.objects[id]
		used += objectHeaderSize + pad8(uint64(len(obj.Data)))
	}
	return used
}

// BlockAllocator wires the global heap's block lifecycle operations
// (first allocation, rollover, expansion) back to the file-space
// allocator without heap importing alloc directly.
type BlockAllocator interface {
	AllocateFirstGlobalHeapBlock() (uint64, error)
	AllocateNextGlobalHeapBlock() (uint64, error)
	ExpandGlobalHeapBlock(requiredSize uint64) (offset, size uint64, err error)
}

// GlobalHeap maintains the per-file map of resident global-heap blocks,
// loading them lazily on first reference and growing the block set as
// writes demand it.
type GlobalHeap struct {
	blocks              map[uint64]*Block
	current             uint64
	haveCurrent         bool
	configuredBlockSize uint64
	offsetSize          utils.Width
	fp                  utils.FixedPoint
}

// NewGlobalHeap creates an empty global heap manager. blockSize is the declared
// size of the first block this heap writes (subsequent rollover blocks
// inherit or grow from it); pass 0 to use the canonical default.
func NewGlobalHeap(blockSize uint64, offsetSize utils.Width, fp utils.FixedPoint) *GlobalHeap {
	return &GlobalHeap{
		blocks:              make(map[uint64]*Block),
		configuredBlockSize: blockSize,
		offsetSize:          offsetSize,
		fp:                  fp,
	}
}

// AddToHeap stores bytes as a new global-heap object, rolling over to a
// new block or expanding the current one when it would not fit, and
// returns the HeapID the caller persists to retrieve it later.
func (g *GlobalHeap) AddToHeap(data []byte, alloc BlockAllocator) (HeapID, error) {
	if err := utils.ValidateBufferSize(uint64(len(data)), utils.MaxGlobalHeapObjectSize, "global heap object"); err != nil {
		return HeapID{}, utils.InvariantErrorf("%v", err)
	}

	if !g.haveCurrent {
		offset, err := alloc.AllocateFirstGlobalHeapBlock()
		if err != nil {
			return HeapID{}, err
		}
		blockSize, err := g.firstBlockSize(alloc)
		if err != nil {
			return HeapID{}, err
		}
		g.blocks[offset] = newBlock(offset, blockSize)
		g.current = offset
		g.haveCurrent = true
	}

	cur := g.blocks[g.current]
	newReq := objectHeaderSize + pad8(uint64(len(data)))

	if cur.usedSize()+newReq+objectHeaderSize > cur.TotalSize {
		if err := g.rollover(cur, newReq, alloc); err != nil {
			return HeapID{}, err
		}
		cur = g.blocks[g.current]
	}

	if cur.NextID == 0 || cur.NextID > 0xFFFF {
		return HeapID{}, utils.InvariantErrorf("global heap block %d object id overflow", cur.Offset)
	}

	id := cur.NextID
	cur.objects[id] = &Object{ID: id, RefCount: 0, Data: append([]byte(nil), data...)}
	cur.objOrder = append(cur.objOrder, id)
	cur.NextID++

	return HeapID{
		Length:      uint32(len(data)),
		BlockOffset: cur.Offset,
		ObjectID:    uint32(id),
	}, nil
}

// firstBlockSize determines the declared size for the very first
// allocated block: the caller-configured size passed to NewGlobalHeap, or the
// canonical default.
func (g *GlobalHeap) firstBlockSize(alloc BlockAllocator) (uint64, error) {
	if g.configuredBlockSize != 0 {
		return g.configuredBlockSize, nil
	}
	return defaultBlockSize, nil
}

const defaultBlockSize = 4096

// rollover closes the current block (writing its null-terminator object
// bookkeeping) and either allocates a fresh block (when cur is the first
// block written) or replaces cur with a larger block granted by
// ExpandGlobalHeapBlock at a new offset, moving cur's objects into it
// (any subsequent rollover).
// newReq is the header-plus-padded-payload size of the object that
// triggered the rollover, needed so an expansion requests enough room for
// it alongside the existing objects and a trailing terminator.
func (g *GlobalHeap) rollover(cur *Block, newReq uint64, alloc BlockAllocator) error {
	cur.terminated = true

	if len(g.blocks) == 1 {
		offset, err := alloc.AllocateNextGlobalHeapBlock()
		if err != nil {
			return err
		}
		g.blocks[offset] = newBlock(offset, cur.TotalSize)
		g.current = offset
		return nil
	}

	cur.terminated = false
	required := cur.usedSize() + newReq + objectHeaderSize
	offset, size, err := alloc.ExpandGlobalHeapBlock(required)
	if err != nil {
		return err
	}
	expanded := newBlock(offset, size)
	expanded.NextID = cur.NextID
	for _, id := range cur.objOrder {
		expanded.objects[id] = cur.objects[id]
		expanded.objOrder = append(expanded.objOrder, id)
	}
	delete(g.blocks, cur.Offset)
	g.blocks[offset] = expanded
	g.current = offset
	return nil
}

// GetDataBytes retrieves an object's payload, lazily reading its owning
// block from r (via ReadBlock) when not yet resident. Object id 0 is illegal to
// request, per the null-terminator convention.
func (g *GlobalHeap) GetDataBytes(r utils.ReaderAt, blockOffset uint64, objectID uint32) ([]byte, error) {
	if objectID == 0 {
		return nil, utils.InvariantErrorf("global heap object id 0 is reserved for the null terminator")
	}

	block, ok := g.blocks[blockOffset]
	if !ok {
		loaded, err := ReadBlock(r, blockOffset, g.offsetSize, g.fp)
		if err != nil {
			return nil, err
		}
		g.blocks[blockOffset] = loaded
		block = loaded
	}

	obj, ok := block.objects[uint16(objectID)]
	if !ok {
		return nil, utils.IntegrityErrorAt(int64(blockOffset), "global heap object %d missing from block", objectID)
	}
	return obj.Data, nil
}

// ReadBlock parses one GCOL collection at offset: header, then objects
// until an id-0 terminator or the block's declared size is exhausted.
// Duplicate or out-of-range ids are rejected as IntegrityError.
func ReadBlock(r utils.ReaderAt, offset uint64, offsetSize utils.Width, fp utils.FixedPoint) (*Block, error) {
	header := utils.GetBuffer(collectionHeaderSize)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, int64(offset)); err != nil {
		return nil, utils.WrapIOError(int64(offset), "global heap block header read failed", err)
	}

	if header[0] != globalHeapSignature[0] || header[1] != globalHeapSignature[1] ||
		header[2] != globalHeapSignature[2] || header[3] != globalHeapSignature[3] {
		return nil, utils.FormatErrorAt(int64(offset), "invalid global heap signature %q", header[0:4])
	}
	version := header[4]
	if version != 1 {
		return nil, utils.FormatErrorAt(int64(offset), "unsupported global heap version %d", version)
	}

	totalSize := fp.Read(header[8:16], 8)
	if totalSize < collectionHeaderSize {
		return nil, utils.FormatErrorAt(int64(offset), "global heap declares impossible totalSize %d", totalSize)
	}

	payload := utils.GetBuffer(int(totalSize - collectionHeaderSize))
	defer utils.ReleaseBuffer(payload)
	if _, err := r.ReadAt(payload, int64(offset)+collectionHeaderSize); err != nil {
		return nil, utils.WrapIOError(int64(offset)+collectionHeaderSize, "global heap block payload read failed", err)
	}

	block := newBlock(offset, totalSize)
	block.NextID = 1
	seen := make(map[uint16]bool)

	pos := 0
	for pos+objectHeaderSize <= len(payload) {
		id := uint16(fp.Read(payload[pos:pos+2], 2))
		refCount := uint16(fp.Read(payload[pos+2:pos+4], 2))
		size := fp.Read(payload[pos+8:pos+16], 8)
		pos += objectHeaderSize

		if id == 0 {
			block.terminated = true
			break
		}
		if seen[id] {
			return nil, utils.IntegrityErrorAt(int64(offset), "duplicate global heap object id %d", id)
		}
		seen[id] = true

		aligned := int(pad8(size))
		if pos+aligned > len(payload) {
			return nil, utils.BoundsErrorAt(int64(offset), "global heap object %d data extends beyond block", id)
		}

		data := make([]byte, size)
		copy(data, payload[pos:pos+int(size)])
		block.objects[id] = &Object{ID: id, RefCount: refCount, Data: data}
		block.objOrder = append(block.objOrder, id)
		if id >= block.NextID {
			block.NextID = id + 1
		}
		pos += aligned
	}

	return block, nil
}

// Serialize writes every resident block to w: header, each object, then a
// null-terminator object (id=0) covering the block's remaining free
// space, per the format's "closed block" requirement.
func (g *GlobalHeap) Serialize(w io.WriterAt) error {
	for offset, block := range g.blocks {
		if err := g.writeBlock(w, offset, block); err != nil {
			return err
		}
	}
	return nil
}

func (g *GlobalHeap) writeBlock(w io.WriterAt, offset uint64, block *Block) error {
	buf := make([]byte, block.TotalSize)
	copy(buf[0:4], globalHeapSignature[:])
	buf[4] = 1
	g.fp.Write(buf[8:16], block.TotalSize, 8)

	pos := collectionHeaderSize
	for _, id := range block.objOrder {
		obj := block.objects[id]
		g.fp.Write(buf[pos:pos+2], uint64(obj.ID), 2)
		g.fp.Write(buf[pos+2:pos+4], uint64(obj.RefCount), 2)
		g.fp.Write(buf[pos+8:pos+16], uint64(len(obj.Data)), 8)
		pos += objectHeaderSize
		copy(buf[pos:pos+len(obj.Data)], obj.Data)
		pos += int(pad8(uint64(len(obj.Data))))
	}

	freeSpace := uint64(len(buf)) - uint64(pos)
	if freeSpace >= objectHeaderSize {
		g.fp.Write(buf[pos:pos+2], 0, 2)
		g.fp.Write(buf[pos+8:pos+16], freeSpace-objectHeaderSize, 8)
	}

	_, err := w.WriteAt(buf, int64(offset))
	return err
}
