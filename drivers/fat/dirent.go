package fat

import (
	"encoding/binary"
	"os"
	"strings"
	"syscall"
	"time"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/fat/names"
)

// RawDirent is the on-disk representation of a directory entry, broken down into its
// constituent fields.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// Dirent is a representation of a FAT directory entry's data in a user-friendly format,
// e.g. 0x50FC is a time.Time representing 2020-07-28 00:00:00 local time.
type Dirent struct {
	name           string
	longName       string
	AttributeFlags int
	NTReserved     int
	Created        time.Time
	Deleted        time.Time
	LastAccessed   time.Time
	LastModified   time.Time
	FirstCluster   ClusterID
	isDeleted      bool
	size           int64
	mode           os.FileMode
}

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

// DateFromInt converts the FAT on-disk representation of a date into a Go time.Time
// object.
func DateFromInt(value uint16) time.Time {
	createDay := int(value & 0x001f)
	createMonth := time.Month((value >> 5) & 0x000f)
	createYear := int(1980 + (value >> 9))

	return time.Date(createYear, createMonth, createDay, 0, 0, 0, 0, nil)
}

// TimestampFromParts converts a FAT timestamp into a time.Time object. datePart is
// required; timePart and hundredths should be 0 if they're not present in the source
// field(s).
func TimestampFromParts(datePart uint16, timePart uint16, hundredths uint8) time.Time {
	dateDt := DateFromInt(datePart)

	seconds := int((timePart & 0x001f) * 2)
	if hundredths >= 100 {
		seconds += 1
		hundredths -= 100
	}

	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)
	nanoseconds := int(hundredths) * 10000000

	return time.Date(
		dateDt.Year(), dateDt.Month(), dateDt.Day(), hours, minutes, seconds, nanoseconds, nil)
}

// AttrFlagsToFileMode converts FAT attribute flags into Go's os.FileMode.
//
// TODO (dargueta): Losing info here; should probably just have StatInfo be a superset of
// os.FileInfo.
func AttrFlagsToFileMode(flags uint8) os.FileMode {
	var mode os.FileMode

	// FAT has no way to mark files as executable, so the executable bit is always clear
	// for files.
	if (flags & AttrReadOnly) != 0 {
		mode = 0o644
	} else {
		mode = 0o666
	}

	if (flags & AttrDirectory) != 0 {
		// By Unix convention directories must be executable or else you can't go into
		// them. Why that is, I don't know.
		return os.ModeDir | 0o111
	}

	return mode
}

// NewRawDirentFromBytes deserializes 32 bytes into a RawDirent struct for further
// processing.
func NewRawDirentFromBytes(data []byte) (RawDirent, error) {
	dirent := RawDirent{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeMillis: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}

	copy(dirent.Name[:], data[:8])
	copy(dirent.Extension[:], data[8:11])
	return dirent, nil
}

// NewDirentFromRaw creates a fully processed Dirent from a raw one, such as converting
// 24-bit values into time.Time values.
func NewDirentFromRaw(rawDirent *RawDirent) (Dirent, error) {
	dirent := Dirent{
		AttributeFlags: int(rawDirent.AttributeFlags),
		NTReserved:     int(rawDirent.NTReserved),
		LastAccessed:   DateFromInt(rawDirent.LastAccessedDate),
		isDeleted:      rawDirent.Name[0] == 0xE5,
		size:           int64(rawDirent.FileSize),
		mode:           AttrFlagsToFileMode(rawDirent.AttributeFlags),
		LastModified: TimestampFromParts(
			rawDirent.LastModifiedDate, rawDirent.LastModifiedTime, 0),
		FirstCluster: ClusterID(
			(uint32(rawDirent.FirstClusterHigh) << 16) | uint32(rawDirent.FirstClusterLow)),
	}

	trimmedName := strings.TrimRight(string(rawDirent.Name[:]), " ")
	trimmedExt := strings.TrimRight(string(rawDirent.Extension[:]), " ")

	if trimmedName[0] == 0xE5 {
		// Represents a deleted file, and the real first character of the filename is in
		// CreatedTimeMillis
		trimmedName = string([]byte{rawDirent.CreatedTimeMillis}) + trimmedName[1:]
	} else if trimmedName[0] == 0x05 {
		// First character of the filename is E5
		trimmedName = "\xe5" + trimmedName[1:]
	} else if trimmedName[0] == 0 {
		// This directory entry is free and thus invalid.
		return Dirent{}, disko.NewDriverError(syscall.ENOENT)
	}

	if trimmedExt == "" {
		dirent.name = trimmedName
	} else {
		dirent.name = trimmedName + "." + trimmedExt
	}

	if dirent.isDeleted {
		dirent.Deleted = TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, 0)
	} else {
		dirent.Created = TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, rawDirent.CreatedTimeMillis)
	}

	return dirent, nil
}

// clusterToDirentSlice processes a slice of bytes the size of a full cluster into a slice
// of directory entries.
//
// Long-filename entries (attribute byte [AttrLongName]) precede the short
// entry they describe, in reverse fragment order; this accumulates them and
// decodes the long name once the short entry that terminates the run is
// reached, per the specification's §4.3 LFN shadow-chain format. A checksum
// mismatch against the short entry's own 11 raw bytes means the fragments
// were orphaned by a tool that doesn't understand LFN (e.g. after deleting
// the short entry but not its LFN chain) and are discarded rather than
// misattributed to the wrong file.
func (drv *FATDriver) clusterToDirentSlice(data []byte) ([]Dirent, error) {
	bootSector := drv.fs.GetBootSector()
	return decodeDirentRegion(data, bootSector.DirentsPerCluster)
}

// decodeDirentRegion is the region-agnostic half of clusterToDirentSlice: it
// decodes up to maxEntries consecutive 32-byte slots out of `data`, whether
// that data is a single cluster (the normal case, and the only case for
// FAT32 root directories, which are ordinary cluster chains) or the fixed-
// size FAT12/16 root directory region, which predates clusters entirely and
// is addressed directly by sector instead. Volume.readDirectory picks which
// one applies.
func decodeDirentRegion(data []byte, maxEntries int) ([]Dirent, error) {
	allDirents := []Dirent{}
	var pendingLFN []RawLFNEntry

	for i := 0; i < maxEntries; i++ {
		offset := i * DirentSize
		slot := data[offset : offset+DirentSize]

		if slot[0] == 0x00 {
			// Free entry with no entries following: end of directory.
			break
		}

		if slot[11] == AttrLongName {
			pendingLFN = append(pendingLFN, NewRawLFNEntryFromBytes(slot))
			continue
		}

		rawDirent, _ := NewRawDirentFromBytes(slot)

		dirent, err := NewDirentFromRaw(&rawDirent)
		if err != nil {
			// If this is a DriverError there may be further action we can take.
			drverr, ok := err.(disko.DriverError)
			if !ok {
				// Not a DriverError, nothing else we can do.
				return nil, err
			}

			// If the error code is ENOENT then that means this directory entry is free
			// and we've hit the end of the directory.
			if drverr.ErrnoCode == syscall.ENOENT {
				pendingLFN = nil
				break
			}
			// Else: We failed for a different reason. Pass this error up to the
			// caller.
			return nil, err
		}
		// Else: Success!

		if len(pendingLFN) > 0 {
			longName, checksum, decodeErr := DecodeLFNName(pendingLFN)
			if decodeErr == nil {
				var shortNameBytes [11]byte
				copy(shortNameBytes[:8], rawDirent.Name[:])
				copy(shortNameBytes[8:], rawDirent.Extension[:])
				if names.ShortNameChecksum(shortNameBytes) == checksum {
					dirent.longName = longName
				}
			}
			pendingLFN = nil
		}

		allDirents = append(allDirents, dirent)
	}

	return allDirents, nil
}

// Dirent implementation of FileInfo -------------------------------------------

// Name returns the display name of the directory entry: its long name if
// one was decoded from a preceding, checksum-verified LFN entry set,
// otherwise its short (8.3) name.
func (d *Dirent) Name() string {
	if d.longName != "" {
		return d.longName
	}
	return d.name
}

// AltName returns the entry's short (8.3) name, regardless of whether a
// long name is also present. This is what the specification's §8 scenario 2
// calls "altname": it always exists, even for entries that were created
// with a long name, since every LFN entry set has a short-name alias.
func (d *Dirent) AltName() string { return d.name }

// HasLongName reports whether this entry carries a verified long name
// distinct from its short name.
func (d *Dirent) HasLongName() bool { return d.longName != "" }

// Size is the size of the directory entry if and ONLY if it's a regular file.
//
// Directories will have this value set to 0. The only way to tell the size of a directory
// is to recurse through it completely, and that's kinda excessive.
//
// TODO (dargueta): Is there a more efficient way to get the size for directories?
// All directories must contain at least `.` and `..` entries, so they'll always be at
// least 64 bytes.
func (d *Dirent) Size() int64 { return d.size }

func (d *Dirent) Mode() os.FileMode { return d.mode }

func (d *Dirent) ModTime() time.Time { return d.LastModified }

func (d *Dirent) IsDir() bool { return d.mode.IsDir() }

func (d *Dirent) Sys() interface{} { return nil }

// -----------------------------------------------------------------------------
