package exfat

import (
	"io"
	"strings"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
	"github.com/dargueta/diskofat/drivers/fat/names"
	"github.com/dargueta/diskofat/drivers/fat/partition"
)

const (
	bootSectorSize         = 512
	requiredFileSystemName = "EXFAT   "
	requiredBootSignature  = 0xAA55
)

// bootSectorHeader is the exFAT main boot sector (exFAT §3.1), decoded with
// [restruct.Unpack] the way dsoprea-go-exfat's BootSectorHeader is -- a
// plain field-by-field struct with no bitfield tags, since every field here
// is already byte- or array-aligned.
type bootSectorHeader struct {
	JumpBoot                    [3]byte
	FileSystemName              [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          uint16
	VolumeFlags                 uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
	BootCode                    [390]byte
	BootSignature               uint16
}

func (h *bootSectorHeader) sectorSize() uint32        { return 1 << h.BytesPerSectorShift }
func (h *bootSectorHeader) sectorsPerCluster() uint32 { return 1 << h.SectorsPerClusterShift }
func (h *bootSectorHeader) clusterSize() uint32 {
	return h.sectorSize() * h.sectorsPerCluster()
}

// validate enforces the boot sector acceptance criteria the specification's
// mount operation requires before trusting the rest of the volume (§4.7):
// the fixed signature fields and the handful of MUST-be-zero/reserved
// fields exFAT §3.1 calls out. Every violation is collected via
// [multierror.Append] instead of failing fast on the first one, so a
// caller inspecting a corrupted image sees the whole picture at once.
func (h *bootSectorHeader) validate() error {
	var result *multierror.Error

	if string(h.FileSystemName[:]) != requiredFileSystemName {
		result = multierror.Append(result, errors.Errorf(
			"file system name %q is not %q", h.FileSystemName, requiredFileSystemName,
		))
	}
	if h.BootSignature != requiredBootSignature {
		result = multierror.Append(result, errors.Errorf(
			"boot signature 0x%04X is not 0x%04X", h.BootSignature, requiredBootSignature,
		))
	}
	for _, b := range h.MustBeZero {
		if b != 0 {
			result = multierror.Append(result, errors.New("must-be-zero region is not all zero"))
			break
		}
	}
	if h.BytesPerSectorShift < 9 || h.BytesPerSectorShift > 12 {
		result = multierror.Append(result, errors.Errorf(
			"bytes-per-sector shift %d out of allowed range [9, 12]", h.BytesPerSectorShift,
		))
	}
	if h.SectorsPerClusterShift > 25-h.BytesPerSectorShift {
		result = multierror.Append(result, errors.Errorf(
			"sectors-per-cluster shift %d would overflow the 32 MiB cluster limit", h.SectorsPerClusterShift,
		))
	}
	if h.NumberOfFats != 1 && h.NumberOfFats != 2 {
		result = multierror.Append(result, errors.Errorf("number of FATs %d must be 1 or 2", h.NumberOfFats))
	}

	return result.ErrorOrNil()
}

// volumeFlags decomposes the boot sector's VolumeFlags field (exFAT §3.1.13).
type volumeFlags uint16

func (f volumeFlags) ActiveFAT() int          { return int(f & 1) }
func (f volumeFlags) IsDirty() bool           { return f&2 != 0 }
func (f volumeFlags) HadMediaFailures() bool  { return f&4 != 0 }

// Volume is a mounted exFAT file system. It mirrors drivers/fat.Volume's
// shape deliberately -- the same Mount/Unmount/Getfree/Getlabel/Setlabel
// surface -- even though the on-disk structures underneath (a dedicated
// allocation bitmap instead of in-band FAT cells, UTF-16 entry sets instead
// of SFN/LFN dirents) are exFAT-specific.
type Volume struct {
	device   *common.BlockStream
	clusters common.ClusterStream
	boot     *bootSectorHeader
	flags    volumeFlags
	bitmap   *Bitmap
	upcase   []uint16

	rootDirCluster uint32
	label          string
	generationID   uint64
	mountFlags     disko.MountFlags
}

// MountGeneration returns the id every object handle produced by this mount
// carries a copy of, the same staleness guard drivers/fat.Volume uses.
func (v *Volume) MountGeneration() uint64 { return v.generationID }

// BootSector exposes cluster/sector geometry for callers and tests.
func (v *Volume) BootSector() *bootSectorHeader { return v.boot }

// Bitmap exposes the volume's allocation bitmap.
func (v *Volume) Bitmap() *Bitmap { return v.bitmap }

// Clusters exposes the volume's cluster heap addressing.
func (v *Volume) Clusters() *common.ClusterStream { return &v.clusters }

// RootDirectoryCluster returns the first cluster of the root directory.
func (v *Volume) RootDirectoryCluster() uint32 { return v.rootDirCluster }

// Mount implements the specification's mount(volume, drive, part) operation
// for exFAT: partition scan (shared with FAT via drivers/fat/partition,
// since partition tables are file-system-agnostic), boot sector decode and
// validation, cluster heap addressing, and loading the root directory's
// mandatory allocation-bitmap and up-case-table streams. Mirrors
// drivers/fat.Mount's shape closely; see that function for the partition
// scan/selection conventions (`part` follows the same 0-is-auto rule).
func Mount(stream io.ReadWriteSeeker, totalSectors uint, sectorSize uint, part int, flags disko.MountFlags) (*Volume, error) {
	device := common.NewBlockStream(stream, totalSectors, sectorSize, 0)

	entry, err := partition.Select(&device, part)
	if err != nil {
		return nil, disko.ErrNoFileSystem.Wrap(err)
	}

	partitionDevice := common.NewBlockStream(
		stream, uint(entry.NumLBAs), sectorSize, int64(entry.StartLBA)*int64(sectorSize),
	)

	rawBoot, err := partitionDevice.Read(0, 1)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}
	if len(rawBoot) < bootSectorSize {
		return nil, disko.ErrNoFileSystem.WithMessage("boot sector shorter than 512 bytes")
	}

	var boot bootSectorHeader
	if unpackErr := restruct.Unpack(rawBoot[:bootSectorSize], byteOrder, &boot); unpackErr != nil {
		return nil, disko.ErrNoFileSystem.Wrap(log.Wrap(unpackErr))
	}
	if validateErr := boot.validate(); validateErr != nil {
		return nil, disko.ErrNoFileSystem.Wrap(validateErr)
	}

	clusters, clusterErr := common.NewClusterStream(
		&partitionDevice,
		uint(boot.sectorsPerCluster()),
		common.BlockID(boot.ClusterHeapOffset),
		common.ClusterID(2),
		common.ClusterID(2+boot.ClusterCount-1),
	)
	if clusterErr != nil {
		return nil, disko.ErrNoFileSystem.Wrap(clusterErr)
	}

	vol := &Volume{
		device:         &partitionDevice,
		clusters:       clusters,
		boot:           &boot,
		flags:          volumeFlags(boot.VolumeFlags),
		rootDirCluster: boot.FirstClusterOfRootDirectory,
		generationID:   1,
		mountFlags:     flags,
	}

	if loadErr := vol.loadRootDirectory(); loadErr != nil {
		return nil, loadErr
	}

	if vol.flags.IsDirty() {
		log.PrintError(errors.New("exfat volume flags report a dirty unmount; mounting anyway"))
	}

	return vol, nil
}

// loadRootDirectory walks the root directory's entry sets looking for the
// mandatory allocation-bitmap and up-case-table entries (specification
// §4.7, exFAT §7.1-7.2) and loads both, plus the volume label if present.
// Ordinary file/directory entries found along the way are discarded here;
// the directory engine re-reads them on demand through [DecodeEntrySets].
func (v *Volume) loadRootDirectory() error {
	chain, err := v.followClusterChain(v.rootDirCluster)
	if err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	special := map[int][]byte{}
	for _, cluster := range chain {
		data, readErr := v.clusters.Read(common.ClusterID(cluster), 1)
		if readErr != nil {
			return disko.ErrIOFailed.Wrap(readErr)
		}
		_, clusterSpecial, decodeErr := DecodeEntrySets(data)
		if decodeErr != nil {
			return decodeErr
		}
		for k, raw := range clusterSpecial {
			special[k] = raw
		}
	}

	bitmapRaw, ok := special[typeCodeAllocationBitmap]
	if !ok {
		return disko.ErrFileSystemCorrupted.WithMessage("root directory has no allocation bitmap entry")
	}
	bitmapEntry, decodeErr := decodeAllocationBitmapEntry(bitmapRaw)
	if decodeErr != nil {
		return disko.ErrFileSystemCorrupted.Wrap(decodeErr)
	}
	bm, loadErr := LoadBitmap(&v.clusters, bitmapEntry.FirstCluster, bitmapEntry.DataLength, v.boot.ClusterCount)
	if loadErr != nil {
		return loadErr
	}
	v.bitmap = bm

	if upcaseRaw, ok := special[typeCodeUpcaseTable]; ok {
		upcaseEntry, decodeErr := decodeUpcaseTableEntry(upcaseRaw)
		if decodeErr != nil {
			return disko.ErrFileSystemCorrupted.Wrap(decodeErr)
		}
		table, loadErr := v.loadUpcaseTable(upcaseEntry)
		if loadErr != nil {
			return loadErr
		}
		v.upcase = table
	}

	if labelRaw, ok := special[typeCodeVolumeLabel]; ok {
		labelEntry, decodeErr := decodeVolumeLabelEntry(labelRaw)
		if decodeErr == nil && labelEntry.CharacterCount > 0 {
			units := make([]uint16, labelEntry.CharacterCount)
			for i := range units {
				units[i] = byteOrder.Uint16(labelEntry.VolumeLabel[i*2 : i*2+2])
			}
			v.label = names.UnitsToString(units)
		}
	}

	return nil
}

// loadUpcaseTable reads the case-folding table used for case-insensitive
// name comparison and NameHash computation (exFAT §7.2.3).
func (v *Volume) loadUpcaseTable(entry upcaseTableDirectoryEntry) ([]uint16, error) {
	clusterSize := uint64(v.clusters.BlocksPerCluster) * uint64(v.device.BytesPerBlock)
	numClusters := uint((entry.DataLength + clusterSize - 1) / clusterSize)

	raw, err := v.clusters.Read(common.ClusterID(entry.FirstCluster), numClusters)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	numUnits := entry.DataLength / 2
	table := make([]uint16, numUnits)
	for i := range table {
		table[i] = byteOrder.Uint16(raw[i*2 : i*2+2])
	}
	return table, nil
}

// followClusterChain walks a file's FAT chain. It's only used for entries
// that don't set NoFatChain -- the root directory among them, since exFAT
// predates any notion of a root directory living in a contiguous run.
func (v *Volume) followClusterChain(start uint32) ([]uint32, error) {
	entriesPerBlock := uint32(v.device.BytesPerBlock) / 4
	fatStartBlock := common.BlockID(v.boot.FatOffset)

	chain := []uint32{start}
	current := start
	seen := map[uint32]bool{start: true}

	for {
		entryBlock := fatStartBlock + common.BlockID(current/entriesPerBlock)
		raw, err := v.device.Read(entryBlock, 1)
		if err != nil {
			return nil, err
		}
		offsetInBlock := (current % entriesPerBlock) * 4
		next := byteOrder.Uint32(raw[offsetInBlock : offsetInBlock+4])

		if next >= 0xFFFFFFF8 {
			break
		}
		if seen[next] {
			return nil, disko.ErrFileSystemCorrupted.WithMessage("FAT chain contains a cycle")
		}
		seen[next] = true
		chain = append(chain, next)
		current = next
	}
	return chain, nil
}

// Unmount bumps the mount generation so stale object handles fail with
// [disko.ErrInvalidObject], and flushes the allocation bitmap.
func (v *Volume) Unmount() error {
	var result *multierror.Error
	if v.bitmap != nil {
		if err := v.bitmap.Flush(&v.clusters); err != nil {
			result = multierror.Append(result, err)
		}
	}
	v.generationID++
	return result.ErrorOrNil()
}

// Getfree implements the specification's getfree operation.
func (v *Volume) Getfree() (free uint32, clusterSize uint, err error) {
	if v.bitmap == nil {
		return 0, 0, disko.ErrNotEnabled
	}
	return v.bitmap.FreeCount(), uint(v.boot.clusterSize()), nil
}

// Getlabel returns the volume label decoded from the root directory's
// volume label entry, if one was present.
func (v *Volume) Getlabel() string { return v.label }

// Setlabel implements the specification's setlabel operation for exFAT: up
// to 11 UTF-16 characters (exFAT §7.3), held in memory until the directory
// engine rewrites the volume label entry.
func (v *Volume) Setlabel(label string) error {
	units := names.UTF16Units(label)
	if len(units) > 11 {
		return disko.ErrInvalidArgument.WithMessage("volume label exceeds 11 UTF-16 characters")
	}
	v.label = strings.TrimRight(label, " ")
	return nil
}
