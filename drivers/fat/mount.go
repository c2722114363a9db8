package fat

import (
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/encoding/charmap"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
	"github.com/dargueta/diskofat/drivers/fat/names"
	"github.com/dargueta/diskofat/drivers/fat/partition"
)

// Volume is a mounted FAT12/16/32 file system: the boot sector geometry, the
// shared metadata window, the FAT/bitmap engine, and the handful of
// advisory/volatile fields the specification's data model (§3) calls out --
// chiefly the mount generation id used to invalidate stale object handles
// after unmount (specification §8 scenario 6). Working-directory tracking
// itself lives a layer up, in [driver.BaseDriver], as an absolute path
// rather than a cached cluster number; see DESIGN.md for why.
type Volume struct {
	device *common.BlockStream
	boot   *FATBootSector
	window *VolumeWindow
	chain  *ChainEngine

	fatStart       common.BlockID
	rootDirSector  common.BlockID
	rootDirCluster ClusterID // nonzero only on FAT32, where the root is a normal chain

	label        string
	generationID uint64
	mountFlags   disko.MountFlags
}

// MountGeneration returns the id that every object handle produced by this
// mount carries a copy of. If the volume is later unmounted and a caller
// still holds a handle from before, the mismatch is what produces
// [disko.ErrInvalidObject] instead of silently operating on a dead mount.
func (v *Volume) MountGeneration() uint64 {
	return v.generationID
}

// BootSector exposes the parsed boot sector for callers (and tests) that
// need the raw geometry.
func (v *Volume) BootSector() *FATBootSector {
	return v.boot
}

// Chain exposes the volume's FAT/bitmap engine.
func (v *Volume) Chain() *ChainEngine {
	return v.chain
}

// Mount implements the specification's mount(volume, drive, part) operation
// (§4.7) for FAT12/16/32: it scans for a partition table (falling back to
// treating the image as an unpartitioned super-floppy volume), reads the
// boot sector at the start of the selected partition, validates it against
// the BPB acceptance criteria already enforced by
// [NewFATBootSectorFromStream], and wires up the shared window and FAT
// engine over the resulting geometry.
//
// `part` follows the specification's convention: 0 auto-selects (GPT over
// MBR over super-floppy, first non-empty entry), any other value is a
// 1-based index into the partition scan.
func Mount(stream io.ReadWriteSeeker, totalSectors uint, sectorSize uint, part int, flags disko.MountFlags) (*Volume, error) {
	device := common.NewBlockStream(stream, totalSectors, sectorSize, 0)

	entry, err := partition.Select(&device, part)
	if err != nil {
		return nil, disko.ErrNoFileSystem.Wrap(err)
	}

	partitionDevice := common.NewBlockStream(stream, uint(entry.NumLBAs), sectorSize, int64(entry.StartLBA)*int64(sectorSize))

	bootSectorBytes, err := partitionDevice.Read(0, 1)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	boot, parseErr := newBootSectorFromBytes(bootSectorBytes)
	if parseErr != nil {
		return nil, disko.ErrNoFileSystem.Wrap(parseErr)
	}

	fatStart := common.BlockID(boot.ReservedSectors)
	window := NewVolumeWindow(&partitionDevice, fatStart, boot.SectorsPerFAT, uint(boot.NumFATs))
	chainEngine := NewChainEngine(window, boot, fatStart)

	rootDirSector := fatStart + common.BlockID(boot.TotalFATSectors)

	var rootDirCluster ClusterID
	if boot.FATVersion == 32 {
		// FAT32 stores the root directory's first cluster at byte offset 44
		// of the extended BPB, which NewFATBootSectorFromStream doesn't
		// currently decode (it only reads the common BPB prefix). Rather
		// than thread a FAT32-only field through FATBootSector, re-read it
		// directly here.
		if len(bootSectorBytes) >= 48 {
			rootDirCluster = ClusterID(
				uint32(bootSectorBytes[44]) | uint32(bootSectorBytes[45])<<8 |
					uint32(bootSectorBytes[46])<<16 | uint32(bootSectorBytes[47])<<24,
			)
		}
	}

	// The 11-byte volume label sits at offset 43 of the boot sector on
	// FAT12/16 and at offset 71 on FAT32.
	labelOffset := 43
	if boot.FATVersion == 32 {
		labelOffset = 71
	}
	label := ""
	if len(bootSectorBytes) >= labelOffset+11 {
		label = strings.TrimRight(string(bootSectorBytes[labelOffset:labelOffset+11]), " ")
	}

	vol := &Volume{
		device:         &partitionDevice,
		boot:           boot,
		window:         window,
		chain:          chainEngine,
		fatStart:       fatStart,
		rootDirSector:  rootDirSector,
		rootDirCluster: rootDirCluster,
		label:          label,
		generationID:   1,
		mountFlags:     flags,
	}
	return vol, nil
}

// newBootSectorFromBytes adapts [NewFATBootSectorFromStream] to a
// byte slice (the mount path already has the sector in memory from the
// partition scan and shouldn't re-read it from the stream a second time).
func newBootSectorFromBytes(data []byte) (*FATBootSector, error) {
	return NewFATBootSectorFromStream(byteSliceReader(data))
}

type byteSliceReaderT struct {
	data []byte
	pos  int
}

func byteSliceReader(data []byte) io.Reader {
	return &byteSliceReaderT{data: data}
}

func (r *byteSliceReaderT) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// Unmount flushes the shared window and invalidates every object handle
// derived from this volume by bumping its generation id. It takes no lock
// of its own. A fresh [Mount] call afterward starts a
// new generation, so stale handles from before this call permanently fail
// with [disko.ErrInvalidObject] (specification §8 scenario 6).
func (v *Volume) Unmount() error {
	var result *multierror.Error

	if err := v.window.SyncWindow(); err != nil {
		result = multierror.Append(result, err)
	}

	v.generationID++
	return result.ErrorOrNil()
}

// Getfree implements the specification's getfree namespace operation: the
// number of free clusters, rescanning the FAT if the cached hint isn't
// trusted (see [ChainEngine.FreeCount]).
func (v *Volume) Getfree() (free uint32, clusterSize uint, err error) {
	count, known := v.chain.FreeCount()
	if !known {
		count, err = v.chain.RescanFreeCount()
		if err != nil {
			return 0, 0, err
		}
	}
	return count, v.boot.BytesPerCluster, nil
}

// Getlabel returns the volume label.
func (v *Volume) Getlabel() string {
	return v.label
}

// Setlabel implements the specification's setlabel operation: it checks
// that `label` is at most 11 valid name characters and stores it,
// upper-cased, as the value [Volume.Getlabel] returns. The label is kept in
// memory only: neither the boot sector's label field nor an
// [AttrVolumeLabel] entry in the root directory is written.
func (v *Volume) Setlabel(label string) error {
	if len(label) > 11 {
		return disko.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("volume label %q exceeds 11 characters", label),
		)
	}
	for _, r := range label {
		if !names.IsValidNameChar(r) {
			return disko.ErrInvalidName.WithMessage(
				fmt.Sprintf("volume label %q contains disallowed character %q", label, r),
			)
		}
	}
	v.label = strings.ToUpper(label)
	return nil
}

// Setcp implements the specification's setcp operation: it changes the
// active OEM codepage used to encode/decode short names. The codepage table
// itself lives in the names package rather than on Volume, since it's
// shared process-wide, matching FatFs's own single compiled-in/runtime-
// switchable codepage (see original_source/source/ff.c, f_setcp).
func (v *Volume) Setcp(cm *charmap.Charmap) {
	names.SetOEMCodepage(cm)
}
