package utils

import "encoding/binary"

// ReaderAt is a simplified interface for io.ReaderAt, kept separate so
// callers that only need random-access reads don't have to import io.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// Width is the byte width of a FixedPoint value: 1, 2, 4, or 8.
type Width uint8

// Undefined reports whether a width's all-0xFF sentinel has been written at
// the given raw bytes. Every variable-width offset/length field in the
// format pairs with this sentinel to mean "not present".
func Undefined(raw []byte) bool {
	for _, b := range raw {
		if b != 0xFF {
			return false
		}
	}
	return len(raw) > 0
}

// UndefinedValue returns the sentinel value for a width as a uint64 (all
// bits set within that width).
func UndefinedValue(width Width) uint64 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	case 4:
		return 0xFFFFFFFF
	default:
		return 0xFFFFFFFFFFFFFFFF
	}
}

// FixedPoint centralises every variable-width little-endian offset/length
// read and write in the core, including the undefined sentinel and the
// cycle-check value. Every structural component holds one and passes the
// superblock's offsetSize/lengthSize as the width of each call rather than
// hand-rolling its own byte-width switch.
type FixedPoint struct {
	Order binary.ByteOrder
}

// NewFixedPoint constructs a FixedPoint codec. The format is always
// little-endian; the parameter exists so tests can exercise other byte
// orders against synthetic fixtures.
func NewFixedPoint(order binary.ByteOrder) FixedPoint {
	if order == nil {
		order = binary.LittleEndian
	}
	return FixedPoint{Order: order}
}

// Read decodes a width-byte unsigned value from the front of buf.
func (fp FixedPoint) Read(buf []byte, width Width) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(fp.Order.Uint16(buf[:2]))
	case 4:
		return uint64(fp.Order.Uint32(buf[:4]))
	case 8:
		return fp.Order.Uint64(buf[:8])
	default:
		var tmp [8]byte
		copy(tmp[:], buf[:width])
		return fp.Order.Uint64(tmp[:])
	}
}

// Write encodes v into the front width bytes of buf.
func (fp FixedPoint) Write(buf []byte, v uint64, width Width) {
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		fp.Order.PutUint16(buf[:2], uint16(v))
	case 4:
		fp.Order.PutUint32(buf[:4], uint32(v))
	case 8:
		fp.Order.PutUint64(buf[:8], v)
	default:
		var tmp [8]byte
		fp.Order.PutUint64(tmp[:], v)
		copy(buf[:width], tmp[:width])
	}
}

// ReadOrUndefined decodes a width-byte value, reporting ok=false when the
// field holds the all-0xFF undefined sentinel.
func (fp FixedPoint) ReadOrUndefined(buf []byte, width Width) (v uint64, ok bool) {
	if Undefined(buf[:width]) {
		return 0, false
	}
	return fp.Read(buf, width), true
}

// WriteUndefined fills width bytes of buf with the undefined sentinel.
func (fp FixedPoint) WriteUndefined(buf []byte, width Width) {
	for i := Width(0); i < width; i++ {
		buf[i] = 0xFF
	}
}

// ReadAt decodes a width-byte value at offset from a random-access reader.
func (fp FixedPoint) ReadAt(r ReaderAt, offset int64, width Width) (uint64, error) {
	buf := GetBuffer(int(width))
	defer ReleaseBuffer(buf)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return fp.Read(buf, width), nil
}
