// Package objhdr emits the minimal HDF5 v1 object-header framing the core
// needs to give every Symbol Table Entry a valid object-header address:
// the header prefix, the message directory, and (for groups) the
// symbol-table message anchoring a group's B-tree/local-heap addresses.
//
// Message bodies other than the symbol-table message — dataspace,
// datatype, layout, attribute — are the external collaborator surface
// named in spec.md §1: this package treats them as opaque bytes the
// caller supplies and never interprets their contents.
package objhdr

import (
	"encoding/binary"

	"github.com/blockvault/hdf5/internal/utils"
)

// Message types this package knows how to build or recognize. Every other
// type (dataspace 0x0001, datatype 0x0003, fill value 0x0005, layout
// 0x0008, attribute 0x000C, ...) passes through as opaque Data.
const (
	TypeNil          uint16 = 0x0000
	TypeSymbolTable  uint16 = 0x0011
	TypeContinuation uint16 = 0x0010
)

// prefixSize is the fixed v1 object-header prefix: version(1) +
// reserved(1) + numMessages(2) + referenceCount(4) + headerSize(4).
const prefixSize = 12

// messageHeaderSize is the fixed per-message directory entry: type(2) +
// size(2) + flags(1) + reserved(3).
const messageHeaderSize = 8

// Message is one object-header message: a typed, flagged byte payload.
// Data must already be caller-padded if the message type requires a
// specific internal alignment; this package pads the overall message to
// an 8-byte boundary regardless.
type Message struct {
	Type  uint16
	Flags uint8
	Data  []byte
}

func pad8(n int) int {
	return (n + 7) &^ 7
}

// Header is an in-memory v1 object header: an ordered list of messages.
type Header struct {
	Version  uint8
	Messages []Message
}

// New creates an empty v1 object header.
func New() *Header {
	return &Header{Version: 1}
}

// AddMessage appends a message to the header.
func (h *Header) AddMessage(msgType uint16, flags uint8, data []byte) {
	h.Messages = append(h.Messages, Message{Type: msgType, Flags: flags, Data: data})
}

// AddSymbolTableMessage appends the message that anchors a group's B-tree
// and local-heap addresses, per spec.md §4.1/§6: a fixed 2*offsetSize
// payload of (bTreeAddress, localHeapAddress).
func (h *Header) AddSymbolTableMessage(btreeOffset, localHeapOffset uint64, offsetSize utils.Width, fp utils.FixedPoint) {
	data := make([]byte, 2*int(offsetSize))
	fp.Write(data[0:offsetSize], btreeOffset, offsetSize)
	fp.Write(data[offsetSize:2*offsetSize], localHeapOffset, offsetSize)
	h.AddMessage(TypeSymbolTable, 0, data)
}

// Size returns the total on-disk footprint of the header: the fixed
// prefix plus every message's 8-byte-padded directory entry and data.
func (h *Header) Size() int {
	total := prefixSize
	for _, m := range h.Messages {
		total += messageHeaderSize + pad8(len(m.Data))
	}
	return total
}

// Encode serializes the header into its on-disk byte representation.
func (h *Header) Encode() []byte {
	buf := make([]byte, h.Size())
	buf[0] = 1 // version
	buf[1] = 0 // reserved
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(h.Messages)))
	binary.LittleEndian.PutUint32(buf[4:8], 1) // reference count
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Size()-prefixSize))

	pos := prefixSize
	for _, m := range h.Messages {
		padded := pad8(len(m.Data))
		binary.LittleEndian.PutUint16(buf[pos:pos+2], m.Type)
		binary.LittleEndian.PutUint16(buf[pos+2:pos+4], uint16(len(m.Data)))
		buf[pos+4] = m.Flags
		pos += messageHeaderSize
		copy(buf[pos:pos+len(m.Data)], m.Data)
		pos += padded
	}
	return buf
}

// IncrementReferenceCountAt bumps the reference count field (bytes 4:8 of
// the v1 prefix) of the object header at offset by one and writes only
// that field back, used when a hard link adds a second name for the same
// object.
func IncrementReferenceCountAt(rw ReaderWriterAt, offset int64) error {
	field := utils.GetBuffer(4)
	defer utils.ReleaseBuffer(field)
	if _, err := rw.ReadAt(field, offset+4); err != nil {
		return utils.WrapIOError(offset+4, "object header refcount read failed", err)
	}
	count := binary.LittleEndian.Uint32(field) + 1
	binary.LittleEndian.PutUint32(field, count)
	if _, err := rw.WriteAt(field, offset+4); err != nil {
		return utils.WrapIOError(offset+4, "object header refcount write failed", err)
	}
	return nil
}

// ReaderWriterAt is the minimal read+write surface
// IncrementReferenceCountAt needs from the underlying file.
type ReaderWriterAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
}

// writerAt is the minimal write surface objhdr needs, mirroring
// utils.ReaderAt's pattern of a narrow interface rather than io.WriterAt
// directly, so callers can pass a *writer.FileWriter without an import.
type writerAt interface {
	WriteAt(p []byte, off int64) (n int, err error)
}

// WriteHeaderAt serializes h and writes it to w at offset.
func WriteHeaderAt(h *Header, w writerAt, offset int64) error {
	buf := h.Encode()
	if _, err := w.WriteAt(buf, offset); err != nil {
		return utils.WrapIOError(offset, "object header write failed", err)
	}
	return nil
}

// Read parses a v1 object header at offset, decoding the message
// directory. Message data is returned as opaque bytes for every type,
// the symbol-table message included; SymbolTable decodes a group's
// B-tree/local-heap addresses from the returned header.
func Read(r utils.ReaderAt, offset int64) (*Header, error) {
	prefix := utils.GetBuffer(prefixSize)
	defer utils.ReleaseBuffer(prefix)
	if _, err := r.ReadAt(prefix, offset); err != nil {
		return nil, utils.WrapIOError(offset, "object header prefix read failed", err)
	}

	version := prefix[0]
	if version != 1 {
		return nil, utils.FormatErrorAt(offset, "unsupported object header version %d", version)
	}
	numMessages := binary.LittleEndian.Uint16(prefix[2:4])
	headerSize := binary.LittleEndian.Uint32(prefix[8:12])

	body := utils.GetBuffer(int(headerSize))
	defer utils.ReleaseBuffer(body)
	if _, err := r.ReadAt(body, offset+prefixSize); err != nil {
		return nil, utils.WrapIOError(offset+prefixSize, "object header body read failed", err)
	}

	h := &Header{Version: version, Messages: make([]Message, 0, numMessages)}
	pos := 0
	for i := 0; i < int(numMessages); i++ {
		if pos+messageHeaderSize > len(body) {
			return nil, utils.BoundsErrorAt(offset+prefixSize+int64(pos), "object header message directory truncated")
		}
		msgType := binary.LittleEndian.Uint16(body[pos : pos+2])
		size := binary.LittleEndian.Uint16(body[pos+2 : pos+4])
		flags := body[pos+4]
		pos += messageHeaderSize

		padded := pad8(int(size))
		if pos+padded > len(body) {
			return nil, utils.BoundsErrorAt(offset+prefixSize+int64(pos), "object header message %d data extends beyond header", i)
		}
		data := make([]byte, size)
		copy(data, body[pos:pos+int(size)])
		h.Messages = append(h.Messages, Message{Type: msgType, Flags: flags, Data: data})
		pos += padded
	}

	return h, nil
}

// SymbolTable returns the (btreeOffset, localHeapOffset) carried by this
// header's symbol-table message, if present.
func (h *Header) SymbolTable(offsetSize utils.Width, fp utils.FixedPoint) (btreeOffset, localHeapOffset uint64, ok bool) {
	for _, m := range h.Messages {
		if m.Type == TypeSymbolTable && len(m.Data) >= 2*int(offsetSize) {
			btreeOffset = fp.Read(m.Data[0:offsetSize], offsetSize)
			localHeapOffset = fp.Read(m.Data[offsetSize:2*offsetSize], offsetSize)
			return btreeOffset, localHeapOffset, true
		}
	}
	return 0, 0, false
}
