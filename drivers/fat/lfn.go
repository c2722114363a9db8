package fat

import (
	"encoding/binary"
	"sort"

	"github.com/dargueta/diskofat/drivers/fat/names"
)

// LFN entries are FAT's long-filename shadow-chain format, described in the
// specification's §4.3: directory entries marked with [AttrLongName] that
// precede the short entry they belong to, stored in *reverse* order (the
// fragment containing the end of the name comes first on disk), each
// carrying 13 UTF-16 code units and a checksum of the short name's 11 raw
// bytes so a reader can tell stray/orphaned LFN entries from ones that
// really belong to the short entry that follows.
const (
	// AttrLongName is the attribute byte value reserved for LFN entries. A
	// normal directory entry can never have exactly this combination of
	// bits, since AttrVolumeLabel is never set on a real file or directory.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

	// lfnLastEntryFlag marks the fragment that's physically first on disk
	// (and logically *last* in the name) plus encodes the 1-based sequence
	// number in the low bits.
	lfnLastEntryFlag = 0x40

	// lfnUnitsPerEntry is how many UTF-16 code units one LFN entry holds:
	// 5 + 6 + 2.
	lfnUnitsPerEntry = 13
)

// RawLFNEntry is the on-disk layout of one long-filename fragment.
type RawLFNEntry struct {
	Ordinal          byte
	Name1            [5]uint16
	Attribute        byte
	Type             byte
	Checksum         byte
	Name2            [6]uint16
	FirstClusterLow  uint16
	Name3            [2]uint16
}

// NewRawLFNEntryFromBytes parses one 32-byte directory slot into a
// [RawLFNEntry]. The caller is expected to have already checked that the
// slot's attribute byte (offset 11) equals [AttrLongName].
func NewRawLFNEntryFromBytes(data []byte) RawLFNEntry {
	entry := RawLFNEntry{
		Ordinal:         data[0],
		Attribute:       data[11],
		Type:            data[12],
		Checksum:        data[13],
		FirstClusterLow: binary.LittleEndian.Uint16(data[26:28]),
	}
	for i := 0; i < 5; i++ {
		entry.Name1[i] = binary.LittleEndian.Uint16(data[1+2*i : 3+2*i])
	}
	for i := 0; i < 6; i++ {
		entry.Name2[i] = binary.LittleEndian.Uint16(data[14+2*i : 16+2*i])
	}
	for i := 0; i < 2; i++ {
		entry.Name3[i] = binary.LittleEndian.Uint16(data[28+2*i : 30+2*i])
	}
	return entry
}

// Bytes serializes the entry back into its 32-byte on-disk form.
func (e RawLFNEntry) Bytes() []byte {
	data := make([]byte, DirentSize)
	data[0] = e.Ordinal
	data[11] = AttrLongName
	data[12] = e.Type
	data[13] = e.Checksum
	binary.LittleEndian.PutUint16(data[26:28], e.FirstClusterLow)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint16(data[1+2*i:3+2*i], e.Name1[i])
	}
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint16(data[14+2*i:16+2*i], e.Name2[i])
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint16(data[28+2*i:30+2*i], e.Name3[i])
	}
	return data
}

// IsLastLogical reports whether this fragment is the one marked with the
// "last" bit, i.e. it's physically first among its group and contains the
// tail end of the name.
func (e RawLFNEntry) IsLastLogical() bool {
	return e.Ordinal&lfnLastEntryFlag != 0
}

// Sequence returns this fragment's 1-based position within the name (1 is
// the fragment holding the first 13 characters).
func (e RawLFNEntry) Sequence() int {
	return int(e.Ordinal &^ lfnLastEntryFlag)
}

// fragment returns this entry's 13 UTF-16 code units in order.
func (e RawLFNEntry) fragment() []uint16 {
	units := make([]uint16, 0, lfnUnitsPerEntry)
	units = append(units, e.Name1[:]...)
	units = append(units, e.Name2[:]...)
	units = append(units, e.Name3[:]...)
	return units
}

// DecodeLFNName reassembles the long name from a set of LFN entries
// (supplied in on-disk order, i.e. the order [FATDriver.clusterToDirentSlice]
// encounters them while scanning forward through a directory) and returns
// it along with the checksum every fragment claimed against the short entry
// that should follow. The caller is responsible for comparing that checksum
// against [names.ShortNameChecksum] of the actual short entry to confirm the
// fragments weren't orphaned by a previous deletion.
func DecodeLFNName(entries []RawLFNEntry) (string, byte, error) {
	if len(entries) == 0 {
		return "", 0, nil
	}

	sorted := make([]RawLFNEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Sequence() < sorted[j].Sequence()
	})

	var units []uint16
	for _, e := range sorted {
		units = append(units, e.fragment()...)
	}

	// Fragments are NUL-terminated and padded with 0xFFFF once the name
	// itself ends, matching how they're built; trim both off before
	// decoding.
	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}

	return names.UnitsToString(units), sorted[0].Checksum, nil
}

// BuildLFNEntries splits `longName` into the reverse-order fragment set the
// on-disk format requires, tagging each with `checksum` (the short name's
// checksum) and the last-entry/sequence-number bits. The returned slice is
// in on-disk order: write it to the directory immediately before the short
// entry it describes.
func BuildLFNEntries(longName string, checksum byte) []RawLFNEntry {
	units := names.UTF16Units(longName)
	// Terminate the name unless it exactly fills its last fragment, then pad
	// the final fragment out to a 13-unit boundary with 0xFFFF, matching
	// FatFs's GENERATE_LFN behavior.
	if len(units)%lfnUnitsPerEntry != 0 {
		units = append(units, 0x0000)
	}
	for len(units)%lfnUnitsPerEntry != 0 {
		units = append(units, 0xFFFF)
	}

	numFragments := len(units) / lfnUnitsPerEntry
	entries := make([]RawLFNEntry, numFragments)

	for i := 0; i < numFragments; i++ {
		fragment := units[i*lfnUnitsPerEntry : (i+1)*lfnUnitsPerEntry]
		entry := RawLFNEntry{
			Ordinal:   byte(i + 1),
			Attribute: AttrLongName,
			Checksum:  checksum,
		}
		copy(entry.Name1[:], fragment[0:5])
		copy(entry.Name2[:], fragment[5:11])
		copy(entry.Name3[:], fragment[11:13])
		entries[i] = entry
	}
	// The last logical fragment (containing the tail of the name) is
	// written first on disk and carries the "last entry" flag.
	entries[numFragments-1].Ordinal |= lfnLastEntryFlag

	reversed := make([]RawLFNEntry, numFragments)
	for i, e := range entries {
		reversed[numFragments-1-i] = e
	}
	return reversed
}
