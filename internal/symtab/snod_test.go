package symtab

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvault/hdf5/internal/utils"
)

func buildSnodFixture(offsetSize utils.Width, entries []Entry) []byte {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	entrySize := EntrySize(offsetSize)
	buf := make([]byte, HeaderSize+len(entries)*entrySize)

	copy(buf[0:4], "SNOD")
	buf[4] = 1
	fp.Write(buf[6:8], uint64(len(entries)), 2)

	pos := HeaderSize
	for _, e := range entries {
		e.Encode(buf[pos:pos+entrySize], offsetSize, fp)
		pos += entrySize
	}
	return buf
}

func TestReadSnod_Success(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	entries := []Entry{
		{LinkNameOffset: 0x10, ObjectHeaderOffset: 0x200, CacheType: CacheNone},
		{LinkNameOffset: 0x20, ObjectHeaderOffset: 0x300, CacheType: CacheSymbolTable, BTreeOffset: 0x400, LocalHeapOffset: 0x500},
	}
	data := buildSnodFixture(8, entries)
	r := bytes.NewReader(data)

	snod, err := ReadSnod(r, 0, 8, fp)
	require.NoError(t, err)
	require.Len(t, snod.Entries, 2)
	assert.Equal(t, uint64(0x10), snod.Entries[0].LinkNameOffset)
	assert.Equal(t, uint64(0x400), snod.Entries[1].BTreeOffset)
	assert.Equal(t, uint64(0x500), snod.Entries[1].LocalHeapOffset)
}

func TestReadSnod_BadSignature(t *testing.T) {
	data := make([]byte, HeaderSize)
	copy(data[0:4], "NOPE")
	r := bytes.NewReader(data)

	_, err := ReadSnod(r, 0, 8, utils.NewFixedPoint(binary.LittleEndian))
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindFormat))
}

func TestReadSnod_ExceedsMax(t *testing.T) {
	data := make([]byte, HeaderSize)
	copy(data[0:4], "SNOD")
	data[4] = 1
	binary.LittleEndian.PutUint16(data[6:8], MaxEntries+1)
	r := bytes.NewReader(data)

	_, err := ReadSnod(r, 0, 8, utils.NewFixedPoint(binary.LittleEndian))
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindIntegrity))
}

func TestReadSnod_DuplicateLinkName(t *testing.T) {
	entries := []Entry{
		{LinkNameOffset: 0x10, ObjectHeaderOffset: 0x200},
		{LinkNameOffset: 0x10, ObjectHeaderOffset: 0x300},
	}
	data := buildSnodFixture(8, entries)
	r := bytes.NewReader(data)

	_, err := ReadSnod(r, 0, 8, utils.NewFixedPoint(binary.LittleEndian))
	require.Error(t, err)
	assert.True(t, utils.Is(err, utils.KindIntegrity))
}

func TestSnod_InsertKeepsOrder(t *testing.T) {
	s := NewSnod()
	s.Insert(0, Entry{LinkNameOffset: 0x30})
	s.Insert(0, Entry{LinkNameOffset: 0x10})
	s.Insert(1, Entry{LinkNameOffset: 0x20})

	require.Len(t, s.Entries, 3)
	assert.Equal(t, uint64(0x10), s.Entries[0].LinkNameOffset)
	assert.Equal(t, uint64(0x20), s.Entries[1].LinkNameOffset)
	assert.Equal(t, uint64(0x30), s.Entries[2].LinkNameOffset)
}

func TestSnod_SplitRetainsFour(t *testing.T) {
	s := NewSnod()
	for i := 0; i < MaxEntries+1; i++ {
		s.Entries = append(s.Entries, Entry{LinkNameOffset: uint64(i)})
	}

	right := s.Split()
	require.Len(t, s.Entries, 4)
	require.Len(t, right.Entries, MaxEntries+1-4)
	assert.Equal(t, uint64(0), s.Entries[0].LinkNameOffset)
	assert.Equal(t, uint64(4), right.Entries[0].LinkNameOffset)
}

func TestSnod_EncodeDecodeRoundTrip(t *testing.T) {
	fp := utils.NewFixedPoint(binary.LittleEndian)
	s := NewSnod()
	s.Entries = append(s.Entries,
		Entry{LinkNameOffset: 1, ObjectHeaderOffset: 2, CacheType: CacheNone},
		Entry{LinkNameOffset: 3, ObjectHeaderOffset: 4, CacheType: CacheSymbolTable, BTreeOffset: 5, LocalHeapOffset: 6},
	)

	buf := s.Encode(8, fp)
	r := bytes.NewReader(buf)
	decoded, err := ReadSnod(r, 0, 8, fp)
	require.NoError(t, err)
	assert.Equal(t, s.Entries, decoded.Entries)
}
