package symtab

import (
	"io"

	"github.com/blockvault/hdf5/internal/utils"
)

// snodSignature is the 4-byte SNOD header magic.
var snodSignature = [4]byte{'S', 'N', 'O', 'D'}

// MaxEntries bounds the number of Entry records an SNOD may hold
// (canonical MAX = 2*groupLeafNodeK = 8 in this implementation).
const MaxEntries = 8

// Snod is a Symbol Table Node: the leaf payload of the group index, an
// ordered, fixed-capacity array of Entry records.
type Snod struct {
	Version uint8
	Entries []Entry
}

// NewSnod creates an empty SNOD with MaxEntries capacity.
func NewSnod() *Snod {
	return &Snod{
		Version: 1,
		Entries: make([]Entry, 0, MaxEntries),
	}
}

// HeaderSize is the fixed 8-byte SNOD header: signature, version,
// reserved, numberOfSymbols.
const HeaderSize = 8

// Size returns the fixed on-disk footprint of an SNOD block for the given
// offset width (header plus MaxEntries entry slots, zero-padded).
func Size(offsetSize utils.Width) int {
	return HeaderSize + MaxEntries*EntrySize(offsetSize)
}

// ReadSnod parses an SNOD at offset, reading only as many entries as the
// header's numberOfSymbols declares (at most MaxEntries).
func ReadSnod(r utils.ReaderAt, offset int64, offsetSize utils.Width, fp utils.FixedPoint) (*Snod, error) {
	header := utils.GetBuffer(HeaderSize)
	defer utils.ReleaseBuffer(header)

	if _, err := r.ReadAt(header, offset); err != nil {
		return nil, utils.WrapIOError(offset, "SNOD header read failed", err)
	}

	if header[0] != snodSignature[0] || header[1] != snodSignature[1] ||
		header[2] != snodSignature[2] || header[3] != snodSignature[3] {
		return nil, utils.FormatErrorAt(offset, "invalid SNOD signature %q", header[0:4])
	}
	version := header[4]
	if version != 1 {
		return nil, utils.FormatErrorAt(offset, "unsupported SNOD version %d", version)
	}

	numSymbols := fp.Read(header[6:8], 2)
	if numSymbols > MaxEntries {
		return nil, utils.IntegrityErrorAt(offset, "SNOD declares %d entries, exceeds MAX=%d", numSymbols, MaxEntries)
	}

	snod := &Snod{Version: version, Entries: make([]Entry, 0, MaxEntries)}
	if numSymbols == 0 {
		return snod, nil
	}

	entrySize := EntrySize(offsetSize)
	data := utils.GetBuffer(int(numSymbols) * entrySize)
	defer utils.ReleaseBuffer(data)

	if _, err := r.ReadAt(data, offset+HeaderSize); err != nil {
		return nil, utils.WrapIOError(offset+HeaderSize, "SNOD entries read failed", err)
	}

	seen := make(map[uint64]bool, numSymbols)
	for i := uint64(0); i < numSymbols; i++ {
		chunk := data[int(i)*entrySize : int(i+1)*entrySize]
		e, err := Decode(chunk, offsetSize, fp)
		if err != nil {
			return nil, err
		}
		if seen[e.LinkNameOffset] {
			return nil, utils.IntegrityErrorAt(offset, "duplicate link-name-offset %d within one SNOD", e.LinkNameOffset)
		}
		seen[e.LinkNameOffset] = true
		snod.Entries = append(snod.Entries, e)
	}

	return snod, nil
}

// Insert places e at position idx, shifting subsequent entries right. The
// caller is responsible for computing idx so the SNOD remains sorted by
// the resolved link name.
func (s *Snod) Insert(idx int, e Entry) {
	s.Entries = append(s.Entries, Entry{})
	copy(s.Entries[idx+1:], s.Entries[idx:])
	s.Entries[idx] = e
}

// Full reports whether the SNOD has reached MaxEntries.
func (s *Snod) Full() bool {
	return len(s.Entries) >= MaxEntries
}

// Split moves entries [4, len) into a new SNOD, retaining [0, 4) in s, per
// the canonical "retain 4, move the remainder" policy.
func (s *Snod) Split() *Snod {
	const retain = 4
	moved := make([]Entry, len(s.Entries)-retain)
	copy(moved, s.Entries[retain:])
	s.Entries = s.Entries[:retain]

	right := &Snod{Version: 1, Entries: make([]Entry, 0, MaxEntries)}
	right.Entries = append(right.Entries, moved...)
	return right
}

// Encode serializes the SNOD into its fixed-size, zero-padded on-disk
// representation for the given offset width.
func (s *Snod) Encode(offsetSize utils.Width, fp utils.FixedPoint) []byte {
	entrySize := EntrySize(offsetSize)
	buf := make([]byte, Size(offsetSize))

	copy(buf[0:4], snodSignature[:])
	buf[4] = s.Version
	buf[5] = 0
	fp.Write(buf[6:8], uint64(len(s.Entries)), 2)

	pos := HeaderSize
	for _, e := range s.Entries {
		e.Encode(buf[pos:pos+entrySize], offsetSize, fp)
		pos += entrySize
	}
	// Remaining slots stay zero-filled.
	return buf
}

// WriteAt serializes and writes the SNOD to its allocator-assigned slot.
func (s *Snod) WriteAt(w io.WriterAt, offset int64, offsetSize utils.Width, fp utils.FixedPoint) error {
	buf := s.Encode(offsetSize, fp)
	_, err := w.WriteAt(buf, offset)
	return err
}
