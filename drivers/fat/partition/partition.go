// Package partition implements the MBR/GPT partition scan the
// specification's mount/volume recognizer (§4.7) performs when asked to
// auto-select a partition (part == 0) or pick one by 1-based index. It's
// grounded on soypat/fat's internal/mbr and internal/gpt packages -- the
// record layouts and signatures below (boot signature 0xAA55, "EFI PART" at
// LBA 1) come directly from those, adapted here to read through this
// module's own [common.BlockStream] instead of a raw byte slice.
package partition

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/diskofat/drivers/common"
)

// Entry describes one partition found during a scan, in the units the FAT
// mount code needs: a starting LBA and a sector count, both relative to the
// start of the whole disk image.
type Entry struct {
	Index    int // 1-based, matching the specification's mount(part) parameter
	StartLBA uint64
	NumLBAs  uint64
	TypeTag  string // e.g. "FAT32LBA", "GPT:basic-data", "super-floppy"
}

const (
	mbrBootSignatureOffset = 510
	mbrBootSignature       = 0xAA55
	mbrPTEOffset           = 446
	mbrPTELength           = 16
	mbrNumPTEs             = 4

	gptSignatureLBA = 1
	gptSignature    = "EFI PART"
)

// knownFATTypes are the MBR partition type bytes that can plausibly hold a
// FAT or exFAT file system. NTFS shares 0x07 with exFAT; the boot sector
// recognizer in drivers/fat/mount.go and drivers/exfat/mount.go is what
// actually decides, this just avoids skipping the partition outright.
var knownFATTypes = map[byte]string{
	0x01: "FAT12",
	0x04: "FAT16",
	0x06: "FAT16B",
	0x0B: "FAT32CHS",
	0x0C: "FAT32LBA",
	0x07: "exFAT/NTFS",
	0x0E: "FAT16LBA",
}

// Scan reads the first sectors of `device` and returns every partition it
// can identify, preferring GPT over MBR when a valid GPT header is present
// (matching the specification's §4.7 auto-select precedence), and falling
// back to treating the whole device as an unpartitioned "super-floppy" image
// if neither is recognized.
func Scan(device *common.BlockStream) ([]Entry, error) {
	if entries, err := scanGPT(device); err == nil && len(entries) > 0 {
		return entries, nil
	}

	if entries, err := scanMBR(device); err == nil && len(entries) > 0 {
		return entries, nil
	}

	// Neither partition table was recognized: treat the whole device as a
	// single super-floppy volume with no partition table at all.
	return []Entry{{Index: 1, StartLBA: 0, NumLBAs: uint64(device.TotalBlocks), TypeTag: "super-floppy"}}, nil
}

// Select implements the index-selection half of mount(): part == 0 means
// "auto", any other value is a 1-based index into the scan results.
func Select(device *common.BlockStream, part int) (Entry, error) {
	entries, err := Scan(device)
	if err != nil {
		return Entry{}, err
	}

	if part == 0 {
		if len(entries) == 0 {
			return Entry{}, fmt.Errorf("no partitions found")
		}
		return entries[0], nil
	}

	for _, e := range entries {
		if e.Index == part {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("no partition with 1-based index %d", part)
}

func scanMBR(device *common.BlockStream) ([]Entry, error) {
	sector, err := device.Read(0, 1)
	if err != nil {
		return nil, err
	}
	if len(sector) < 512 {
		return nil, fmt.Errorf("sector too short to hold an MBR")
	}

	signature := binary.LittleEndian.Uint16(sector[mbrBootSignatureOffset : mbrBootSignatureOffset+2])
	if signature != mbrBootSignature {
		return nil, fmt.Errorf("no MBR boot signature found")
	}

	var entries []Entry
	for i := 0; i < mbrNumPTEs; i++ {
		pte := sector[mbrPTEOffset+i*mbrPTELength : mbrPTEOffset+(i+1)*mbrPTELength]
		typeByte := pte[4]
		if typeByte == 0x00 {
			continue // unused entry
		}

		startLBA := binary.LittleEndian.Uint32(pte[8:12])
		numLBAs := binary.LittleEndian.Uint32(pte[12:16])

		tag, known := knownFATTypes[typeByte]
		if !known {
			tag = fmt.Sprintf("type 0x%02X", typeByte)
		}

		entries = append(entries, Entry{
			Index:    len(entries) + 1,
			StartLBA: uint64(startLBA),
			NumLBAs:  uint64(numLBAs),
			TypeTag:  tag,
		})
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("MBR present but no non-empty primary partitions")
	}
	return entries, nil
}

// gptBasicDataPartitionGUID is the partition type GUID (in its canonical
// string form) that indicates a Microsoft basic data partition, which is what FAT
// and exFAT volumes use under GPT. There's no dedicated "FAT" GUID distinct
// from "any Windows data partition"; the boot sector recognizer disambiguates
// further, same as for MBR's shared 0x07 byte.
const gptBasicDataPartitionGUID = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"

func scanGPT(device *common.BlockStream) ([]Entry, error) {
	header, err := device.Read(common.BlockID(gptSignatureLBA), 1)
	if err != nil {
		return nil, err
	}
	if len(header) < 92 || string(header[0:8]) != gptSignature {
		return nil, fmt.Errorf("no GPT signature found at LBA %d", gptSignatureLBA)
	}

	partEntryLBA := binary.LittleEndian.Uint64(header[72:80])
	numPartEntries := binary.LittleEndian.Uint32(header[80:84])
	sizeOfPartEntry := binary.LittleEndian.Uint32(header[84:88])

	if numPartEntries == 0 || sizeOfPartEntry == 0 {
		return nil, fmt.Errorf("GPT header declares no partition entries")
	}

	entriesPerSector := device.BytesPerBlock / uint(sizeOfPartEntry)
	if entriesPerSector == 0 {
		return nil, fmt.Errorf("GPT partition entry size %d exceeds sector size", sizeOfPartEntry)
	}

	var entries []Entry
	sectorsToRead := (uint(numPartEntries) + entriesPerSector - 1) / entriesPerSector

	for s := uint(0); s < sectorsToRead; s++ {
		sector, err := device.Read(common.BlockID(partEntryLBA)+common.BlockID(s), 1)
		if err != nil {
			return nil, err
		}

		for i := uint(0); i < entriesPerSector; i++ {
			globalIndex := s*entriesPerSector + i
			if globalIndex >= uint(numPartEntries) {
				break
			}

			offset := i * uint(sizeOfPartEntry)
			if offset+uint(sizeOfPartEntry) > uint(len(sector)) {
				break
			}
			raw := sector[offset : offset+uint(sizeOfPartEntry)]

			typeGUID := formatGUID(raw[0:16])
			if typeGUID == "00000000-0000-0000-0000-000000000000" {
				continue // unused entry
			}

			startLBA := binary.LittleEndian.Uint64(raw[32:40])
			endLBA := binary.LittleEndian.Uint64(raw[40:48])

			tag := "GPT:" + typeGUID
			if typeGUID == gptBasicDataPartitionGUID {
				tag = "GPT:basic-data"
			}

			entries = append(entries, Entry{
				Index:    len(entries) + 1,
				StartLBA: startLBA,
				NumLBAs:  endLBA - startLBA + 1,
				TypeTag:  tag,
			})
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("GPT present but no non-empty partition entries")
	}
	return entries, nil
}

// formatGUID renders a 16-byte mixed-endian GUID (as used by the GPT
// on-disk format) in its canonical string form.
func formatGUID(b []byte) string {
	return fmt.Sprintf(
		"%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	)
}
