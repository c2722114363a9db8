// Package exfat implements a driver for accessing exFAT file systems,
// following the same split the sibling drivers/fat package uses: an
// allocation engine (bitmap.go), a directory-entry-set codec (this file),
// and the mount-time glue that ties a [common.BlockStream] to both
// (mount.go).
package exfat

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-restruct/restruct"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/fat/names"
)

// byteOrder is the wire encoding every on-disk exFAT structure uses, passed
// to every [restruct.Unpack]/[restruct.Pack] call in this package.
var byteOrder = binary.LittleEndian

// EntryType decomposes a directory entry's leading type byte: whether it's
// in use, primary vs. secondary, and critical vs. benign (specification
// §4.3, exFAT §6.2.1). Grounded on dsoprea-go-exfat's EntryType, whose bit
// layout comes directly from the exFAT specification and so is necessarily
// shared, though the logging/Dump machinery that accompanied it there isn't
// carried over here.
type EntryType uint8

const (
	entryTypeInUseBit    EntryType = 1 << 7
	entryTypeCategoryBit EntryType = 1 << 6
	entryTypeImportance  EntryType = 1 << 5
)

func (et EntryType) IsInUse() bool      { return et&entryTypeInUseBit != 0 }
func (et EntryType) IsSecondary() bool  { return et&entryTypeCategoryBit != 0 }
func (et EntryType) IsPrimary() bool    { return !et.IsSecondary() }
func (et EntryType) IsBenign() bool     { return et&entryTypeImportance != 0 }
func (et EntryType) IsCritical() bool   { return !et.IsBenign() }
func (et EntryType) TypeCode() int      { return int(et & 0x1F) }
func (et EntryType) IsEndOfDirectory() bool { return et == 0 }

const (
	typeCodeAllocationBitmap = 1
	typeCodeUpcaseTable      = 2
	typeCodeVolumeLabel      = 3
	typeCodeFile             = 5
	typeCodeStreamExtension  = 0 // critical, secondary
	typeCodeFileName         = 1 // critical, secondary
)

// exfatTimestamp is the packed 32-bit date/time format shared by every
// exFAT timestamp field (specification §4.3, exFAT §7.4.5-7.4.7).
type exfatTimestamp uint32

func (t exfatTimestamp) Second() int { return int(t&0x1F) * 2 }
func (t exfatTimestamp) Minute() int { return int((t >> 5) & 0x3F) }
func (t exfatTimestamp) Hour() int   { return int((t >> 11) & 0x1F) }
func (t exfatTimestamp) Day() int    { return int((t >> 16) & 0x1F) }
func (t exfatTimestamp) Month() int  { return int((t >> 21) & 0x0F) }
func (t exfatTimestamp) Year() int   { return 1980 + int((t>>25)&0x7F) }

// Time converts the timestamp plus its accompanying 10ms-increment and
// UTC-offset fields into a [time.Time]. A zero offset byte's high bit being
// unset means "no offset recorded", which this treats as UTC, matching the
// exFAT specification's fallback guidance.
func (t exfatTimestamp) Time(tenMillis uint8, utcOffset uint8) time.Time {
	if t == 0 {
		return time.Time{}
	}
	seconds := t.Second()
	nanos := int(tenMillis) * 10 * int(time.Millisecond)
	if int(tenMillis) >= 100 {
		seconds++
		nanos = (int(tenMillis) - 100) * 10 * int(time.Millisecond)
	}

	loc := time.UTC
	if utcOffset&0x80 != 0 {
		quarterHours := int(int8(utcOffset<<1) >> 1) // sign-extend the low 7 bits
		loc = time.FixedZone(fmt.Sprintf("UTC%+d", quarterHours*15/60), quarterHours*15*60)
	}
	return time.Date(t.Year(), time.Month(t.Month()), t.Day(), t.Hour(), t.Minute(), seconds, nanos, loc)
}

// FileAttributes mirrors the FAT/exFAT-shared attribute bitfield; exFAT
// reuses the same bit assignments FAT12/16/32 has always used.
type FileAttributes uint16

const (
	AttrReadOnly FileAttributes = 1 << iota
	AttrHidden
	AttrSystem
	attrReservedExfat1
	AttrDirectory
	AttrArchive
)

func (fa FileAttributes) IsReadOnly() bool  { return fa&AttrReadOnly != 0 }
func (fa FileAttributes) IsDirectory() bool { return fa&AttrDirectory != 0 }

// ToFileMode converts the attribute bits into a [os.FileMode]. As in
// drivers/fat.AttrFlagsToFileMode, files get no executable bit and
// directories are always traversable; unlike it, a read-only file maps to
// 0o444 rather than 0o644.
func (fa FileAttributes) ToFileMode() os.FileMode {
	if fa.IsDirectory() {
		return os.ModeDir | 0o111
	}
	if fa.IsReadOnly() {
		return 0o444
	}
	return 0o666
}

// fileDirectoryEntry is the primary entry of a file's entry set (exFAT
// §7.4). restruct decodes it field-by-field the same way
// dsoprea-go-exfat's ExfatFileDirectoryEntry does; the accompanying
// interpretation methods (timestamps, attributes) live on the package-level
// types above instead of on this raw struct, since those are shared with
// the volume label/bitmap entries too.
type fileDirectoryEntry struct {
	EntryType          EntryType
	SecondaryCount     uint8
	SetChecksum        uint16
	FileAttributes     FileAttributes
	Reserved1          uint16
	CreateTimestamp    exfatTimestamp
	ModifiedTimestamp  exfatTimestamp
	AccessedTimestamp  exfatTimestamp
	Create10ms         uint8
	Modified10ms       uint8
	CreateUTCOffset    uint8
	ModifiedUTCOffset  uint8
	AccessedUTCOffset  uint8
	Reserved2          [7]byte
}

// generalSecondaryFlags is shared by every secondary entry type.
type generalSecondaryFlags uint8

func (f generalSecondaryFlags) NoFATChain() bool { return f&2 != 0 }

// streamExtensionDirectoryEntry is the mandatory secondary entry following
// every file entry (exFAT §7.6): it carries the data stream's location and
// size, and the hash of the (case-folded) name that follows in the
// subsequent fileNameDirectoryEntry records.
type streamExtensionDirectoryEntry struct {
	EntryType       EntryType
	SecondaryFlags  generalSecondaryFlags
	Reserved1       [1]byte
	NameLength      uint8
	NameHash        uint16
	Reserved2       [2]byte
	ValidDataLength uint64
	Reserved3       [4]byte
	FirstCluster    uint32
	DataLength      uint64
}

// fileNameDirectoryEntry carries up to 15 UTF-16LE name units; a file's full
// name may span several of these, concatenated in order (exFAT §7.7).
type fileNameDirectoryEntry struct {
	EntryType      EntryType
	SecondaryFlags generalSecondaryFlags
	FileName       [30]byte
}

// allocationBitmapDirectoryEntry points at the root directory's allocation
// bitmap stream (exFAT §7.1); see bitmap.go.
type allocationBitmapDirectoryEntry struct {
	EntryType    EntryType
	BitmapFlags  uint8
	Reserved     [18]byte
	FirstCluster uint32
	DataLength   uint64
}

// upcaseTableDirectoryEntry points at the root directory's case-folding
// table stream (exFAT §7.2), used to compute the NameHash fields and to
// implement case-insensitive lookups.
type upcaseTableDirectoryEntry struct {
	EntryType     EntryType
	Reserved1     [3]byte
	TableChecksum uint32
	Reserved2     [12]byte
	FirstCluster  uint32
	DataLength    uint64
}

// volumeLabelDirectoryEntry holds the volume label directly in the root
// directory (exFAT §7.3), unlike FAT12/16/32 which can use either a BPB
// field or a dedicated dirent.
type volumeLabelDirectoryEntry struct {
	EntryType      EntryType
	CharacterCount uint8
	VolumeLabel    [22]byte
	Reserved       [8]byte
}

// Dirent is the decoded, entry-set-level view of one exFAT directory entry
// -- the exFAT analogue of drivers/fat.Dirent. An exFAT entry set has no
// short/long name distinction (every name is stored as UTF-16, full stop),
// so there's no altname field to carry.
type Dirent struct {
	name         string
	Attributes   FileAttributes
	Created      time.Time
	LastModified time.Time
	LastAccessed time.Time
	FirstCluster uint32
	NoFATChain   bool
	size         int64
	mode         os.FileMode
}

func (d *Dirent) Name() string        { return d.name }
func (d *Dirent) Size() int64         { return d.size }
func (d *Dirent) Mode() os.FileMode   { return d.mode }
func (d *Dirent) ModTime() time.Time  { return d.LastModified }
func (d *Dirent) IsDir() bool         { return d.mode.IsDir() }
func (d *Dirent) Sys() interface{}    { return nil }

// entrySetChecksum implements the exFAT §6.3.3 SetChecksum algorithm: a
// rotate-right-then-add checksum over every byte of the entry set except
// the SetChecksum field itself (bytes 2-3 of the primary entry).
func entrySetChecksum(rawSet []byte) uint16 {
	var checksum uint16
	for i, b := range rawSet {
		if i == 2 || i == 3 {
			continue
		}
		checksum = ((checksum << 15) | (checksum >> 1)) + uint16(b)
	}
	return checksum
}

// DecodeEntrySets walks `data` (one cluster's worth, or the fixed region a
// caller has already sliced out) 32 bytes at a time, assembling primary
// entries and their secondaries into [Dirent] values. It stops at the first
// end-of-directory marker (entry type 0), matching
// drivers/fat.decodeDirentRegion's termination rule.
//
// Non-file primary entries (allocation bitmap, up-case table, volume label)
// are returned separately via `special`, keyed by type code, since
// mount.go needs them but they aren't user-visible directory entries.
func DecodeEntrySets(data []byte) (dirents []Dirent, special map[int][]byte, err error) {
	special = map[int][]byte{}

	for offset := 0; offset+32 <= len(data); offset += 32 {
		slot := data[offset : offset+32]
		entryType := EntryType(slot[0])

		if entryType.IsEndOfDirectory() {
			break
		}
		if !entryType.IsInUse() {
			continue
		}
		if entryType.IsSecondary() {
			// An orphaned secondary with no preceding primary in this scan
			// window; skip it rather than erroring, the same tolerance
			// drivers/fat.decodeDirentRegion has for stray LFN fragments.
			continue
		}

		switch entryType.TypeCode() {
		case typeCodeAllocationBitmap:
			cp := make([]byte, 32)
			copy(cp, slot)
			special[typeCodeAllocationBitmap] = cp
			continue
		case typeCodeUpcaseTable:
			cp := make([]byte, 32)
			copy(cp, slot)
			special[typeCodeUpcaseTable] = cp
			continue
		case typeCodeVolumeLabel:
			cp := make([]byte, 32)
			copy(cp, slot)
			special[typeCodeVolumeLabel] = cp
			continue
		case typeCodeFile:
			// fall through to full entry-set assembly below
		default:
			continue
		}

		var fde fileDirectoryEntry
		if unpackErr := restruct.Unpack(slot, byteOrder, &fde); unpackErr != nil {
			return nil, nil, disko.ErrFileSystemCorrupted.Wrap(unpackErr)
		}

		secondaryCount := int(fde.SecondaryCount)
		setEnd := offset + 32*(1+secondaryCount)
		if setEnd > len(data) {
			// Entry set runs past the end of this cluster/region; the
			// caller is expected to have handed us complete clusters, so
			// this means corruption rather than a legitimate split.
			return nil, nil, disko.ErrFileSystemCorrupted.WithMessage(
				"directory entry set runs past end of cluster",
			)
		}
		rawSet := data[offset:setEnd]
		if entrySetChecksum(rawSet) != fde.SetChecksum {
			return nil, nil, disko.ErrFileSystemCorrupted.WithMessage(
				"directory entry set checksum mismatch",
			)
		}

		if secondaryCount < 1 {
			return nil, nil, disko.ErrFileSystemCorrupted.WithMessage(
				"file entry has no stream-extension secondary",
			)
		}
		var sde streamExtensionDirectoryEntry
		streamSlot := data[offset+32 : offset+64]
		if unpackErr := restruct.Unpack(streamSlot, byteOrder, &sde); unpackErr != nil {
			return nil, nil, disko.ErrFileSystemCorrupted.Wrap(unpackErr)
		}

		nameUnits := make([]uint16, 0, sde.NameLength)
		for i := 0; i < secondaryCount-1; i++ {
			nameSlotOffset := offset + 32*(2+i)
			var fnde fileNameDirectoryEntry
			if unpackErr := restruct.Unpack(data[nameSlotOffset:nameSlotOffset+32], byteOrder, &fnde); unpackErr != nil {
				return nil, nil, disko.ErrFileSystemCorrupted.Wrap(unpackErr)
			}
			for u := 0; u < 15 && len(nameUnits) < int(sde.NameLength); u++ {
				nameUnits = append(nameUnits, byteOrder.Uint16(fnde.FileName[u*2:u*2+2]))
			}
		}

		dirents = append(dirents, Dirent{
			name:         names.UnitsToString(nameUnits),
			Attributes:   fde.FileAttributes,
			Created:      fde.CreateTimestamp.Time(fde.Create10ms, fde.CreateUTCOffset),
			LastModified: fde.ModifiedTimestamp.Time(fde.Modified10ms, fde.ModifiedUTCOffset),
			LastAccessed: fde.AccessedTimestamp.Time(0, fde.AccessedUTCOffset),
			FirstCluster: sde.FirstCluster,
			NoFATChain:   sde.SecondaryFlags.NoFATChain(),
			size:         int64(sde.DataLength),
			mode:         fde.FileAttributes.ToFileMode(),
		})

		offset = setEnd - 32 // the loop's own += 32 lands us past the whole set
	}

	return dirents, special, nil
}

// decodeAllocationBitmapEntry and decodeUpcaseTableEntry adapt the raw 32
// bytes DecodeEntrySets stashed in `special` into their typed forms.
func decodeAllocationBitmapEntry(raw []byte) (allocationBitmapDirectoryEntry, error) {
	var e allocationBitmapDirectoryEntry
	err := restruct.Unpack(raw, byteOrder, &e)
	return e, err
}

func decodeUpcaseTableEntry(raw []byte) (upcaseTableDirectoryEntry, error) {
	var e upcaseTableDirectoryEntry
	err := restruct.Unpack(raw, byteOrder, &e)
	return e, err
}

func decodeVolumeLabelEntry(raw []byte) (volumeLabelDirectoryEntry, error) {
	var e volumeLabelDirectoryEntry
	err := restruct.Unpack(raw, byteOrder, &e)
	return e, err
}
