// Package testing provides shared test doubles for exercising this
// module's I/O error paths without a real file, adapted from the
// teacher's MockReaderAt helper.
package testing

import (
	"fmt"
	"io"
)

// MockReaderAt is an in-memory utils.ReaderAt that can be told to fail a
// specific byte offset, letting tests drive the IoError paths
// every structural reader (superblock, local heap, B-tree, SNOD, global
// heap) shares.
type MockReaderAt struct {
	Data       []byte
	FailAt     int64
	FailErr    error
	ReadCalls  int
}

// NewMockReaderAt wraps data for reading; call FailReadAt to inject a
// failure before using it.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{Data: data, FailAt: -1}
}

// FailReadAt arranges for every ReadAt that starts exactly at offset to
// fail with err (or with a generic mock error when err is nil).
func (m *MockReaderAt) FailReadAt(offset int64, err error) {
	m.FailAt = offset
	m.FailErr = err
}

// ReadAt implements utils.ReaderAt.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	m.ReadCalls++
	if m.FailAt >= 0 && off == m.FailAt {
		if m.FailErr != nil {
			return 0, m.FailErr
		}
		return 0, fmt.Errorf("mock read failure at offset %d", off)
	}
	if off < 0 || int(off) >= len(m.Data) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
