// Package utils provides utility functions for the HDF5 library.
package utils

import "sync"

// pooledCapacity is the default capacity of a freshly allocated pool
// buffer: the canonical global-heap block size (spec.md §4.4), the
// largest single structural read/write most core calls to GetBuffer ask
// for (SNOD slots, B-tree nodes, and local-heap headers are all smaller).
const pooledCapacity = 4096

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, 0, pooledCapacity)
	},
}

// GetBuffer returns a byte slice of exactly size bytes, reusing a pooled
// buffer when one is large enough. Growth beyond the pooled capacity is
// overflow-checked since callers pass allocator- and header-derived sizes
// (global-heap block/object sizes, B-tree node bodies) that are not
// bounded to a fixed constant.
func GetBuffer(size int) []byte {
	buf := bufferPool.Get().([]byte)
	if cap(buf) < size {
		grown, err := SafeMultiply(uint64(size), 2)
		if err != nil || grown > uint64(int(^uint(0)>>1)) {
			return make([]byte, size)
		}
		return make([]byte, size, int(grown))
	}
	return buf[:size]
}

// ReleaseBuffer returns a buffer to the pool.
func ReleaseBuffer(buf []byte) {
	//nolint:staticcheck // SA6002: slice descriptor copy is acceptable for sync.Pool
	bufferPool.Put(buf[:0])
}
