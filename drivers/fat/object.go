package fat

import (
	"fmt"
	"os"
	"time"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
)

// direntLocation pins down exactly where a directory entry's bytes live on
// disk, so Resize/Chmod/Unlink can rewrite them in place and ListDir/
// CreateObject can find or claim a free slot.
type direntLocation struct {
	parentCluster ClusterID // 0 means "the FAT12/16 fixed root region"
	slotIndex     int       // index of the short-name slot within the parent
	lfnSlots      int       // number of LFN entries immediately preceding it
}

// FATObject is a [disko.ObjectHandle] for one file or directory on a mounted
// [Volume]. It's intentionally thin: almost everything it does is translate
// between the specification's object layer (§4.5) and the lower-level
// [ChainEngine]/[VolumeWindow] primitives, the same division of labor
// FatFs's FIL/DIR structs (thin handles into a shared FATFS) have over
// ff.c's internal helpers.
type FATObject struct {
	volume       *Volume
	dirent       Dirent
	location     direntLocation
	generationID uint64
	isRoot       bool
}

func (v *Volume) newObjectHandle(dirent Dirent, loc direntLocation) *FATObject {
	return &FATObject{volume: v, dirent: dirent, location: loc, generationID: v.generationID}
}

// checkGeneration returns [disko.ErrInvalidObject] if this handle predates
// the volume's current mount generation, i.e. the volume was unmounted (or
// remounted) since this handle was created. See specification §5 and §8
// scenario 6.
func (o *FATObject) checkGeneration() disko.DriverError {
	if o.generationID != o.volume.generationID {
		return disko.ErrInvalidObject
	}
	return nil
}

// Stat implements [disko.ObjectHandle].
func (o *FATObject) Stat() disko.FileStat {
	d := o.dirent
	blockSize := int64(o.volume.boot.BytesPerSector)
	numBlocks := (d.size + blockSize - 1) / blockSize

	return disko.FileStat{
		InodeNumber:  uint64(d.FirstCluster),
		ModeFlags:    d.mode,
		Size:         d.size,
		BlockSize:    blockSize,
		NumBlocks:    numBlocks,
		CreatedAt:    d.Created,
		LastModified: d.LastModified,
		LastAccessed: d.LastAccessed,
		DeletedAt:    d.Deleted,
	}
}

// Resize implements [disko.ObjectHandle]: it grows or shrinks the object's
// cluster chain to match `newSize` and rewrites the size field of its
// directory entry.
func (o *FATObject) Resize(newSize uint64) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}

	bytesPerCluster := uint64(o.volume.boot.BytesPerCluster)
	neededClusters := uint((newSize + bytesPerCluster - 1) / bytesPerCluster)

	chain, err := o.currentChain()
	if err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	switch {
	case uint(len(chain)) < neededClusters:
		last := ClusterID(0)
		if len(chain) > 0 {
			last = chain[len(chain)-1]
		}
		for uint(len(chain)) < neededClusters {
			next, allocErr := o.volume.chain.CreateChain(last)
			if allocErr != nil {
				return disko.ErrNoSpaceOnDevice.Wrap(allocErr)
			}
			if len(chain) == 0 {
				o.dirent.FirstCluster = next
			}
			chain = append(chain, next)
			last = next
		}

	case uint(len(chain)) > neededClusters && neededClusters > 0:
		keepCount := neededClusters
		cutAt := chain[keepCount]
		if rmErr := o.volume.chain.RemoveChain(cutAt, chain[keepCount-1]); rmErr != nil {
			return disko.ErrIOFailed.Wrap(rmErr)
		}
		chain = chain[:keepCount]

	case neededClusters == 0 && len(chain) > 0:
		if rmErr := o.volume.chain.RemoveChain(chain[0], 0); rmErr != nil {
			return disko.ErrIOFailed.Wrap(rmErr)
		}
		o.dirent.FirstCluster = 0
		chain = nil
	}

	o.dirent.size = int64(newSize)
	return o.writeBack()
}

// ExpandContiguous implements the driver-level half of the specification's
// expand(contiguous=true) operation (see [ChainEngine.ExtendContiguous]):
// it discards any existing allocation and replaces it with a single
// contiguous run, so the object's data is guaranteed sequential on disk.
func (o *FATObject) ExpandContiguous(newSize uint64) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}

	bytesPerCluster := uint64(o.volume.boot.BytesPerCluster)
	neededClusters := uint((newSize + bytesPerCluster - 1) / bytesPerCluster)

	if chain, err := o.currentChain(); err == nil && len(chain) > 0 {
		if rmErr := o.volume.chain.RemoveChain(chain[0], 0); rmErr != nil {
			return disko.ErrIOFailed.Wrap(rmErr)
		}
	}
	o.dirent.FirstCluster = 0

	if neededClusters > 0 {
		first, err := o.volume.chain.ExtendContiguous(2, neededClusters)
		if err != nil {
			return disko.ErrNoSpaceOnDevice.Wrap(err)
		}
		o.dirent.FirstCluster = first
	}

	o.dirent.size = int64(newSize)
	return o.writeBack()
}

// currentChain returns every cluster currently allocated to this object.
func (o *FATObject) currentChain() ([]ClusterID, error) {
	if o.dirent.FirstCluster == 0 {
		return nil, nil
	}
	return o.volume.chain.FollowChain(o.dirent.FirstCluster)
}

// blockToSector maps a 0-based logical block (a sector-sized unit, see
// [FATObject.Stat]'s BlockSize) to its absolute sector on the device.
func (o *FATObject) blockToSector(index common.LogicalBlock) (common.BlockID, error) {
	boot := o.volume.boot
	clusterIndex := uint(index) / uint(boot.SectorsPerCluster)
	sectorInCluster := uint(index) % uint(boot.SectorsPerCluster)

	chain, err := o.currentChain()
	if err != nil {
		return 0, err
	}
	if clusterIndex >= uint(len(chain)) {
		return 0, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("logical block %d is past the end of the object's allocation", index),
		)
	}

	cluster := chain[clusterIndex]
	firstSectorOfCluster := uint(boot.FirstDataSector) + uint(boot.SectorsPerCluster)*uint(cluster-2)
	return common.BlockID(firstSectorOfCluster + sectorInCluster), nil
}

// ReadBlocks implements [disko.ObjectHandle].
func (o *FATObject) ReadBlocks(index common.LogicalBlock, buffer []byte) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}

	bytesPerSector := uint(o.volume.boot.BytesPerSector)
	numSectors := uint(len(buffer)) / bytesPerSector

	for i := uint(0); i < numSectors; i++ {
		sector, err := o.blockToSector(index + common.LogicalBlock(i))
		if err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
		data, readErr := o.volume.device.Read(sector, 1)
		if readErr != nil {
			return disko.ErrIOFailed.Wrap(readErr)
		}
		copy(buffer[i*bytesPerSector:(i+1)*bytesPerSector], data)
	}
	return nil
}

// WriteBlocks implements [disko.ObjectHandle].
func (o *FATObject) WriteBlocks(index common.LogicalBlock, data []byte) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}

	bytesPerSector := uint(o.volume.boot.BytesPerSector)
	numSectors := uint(len(data)) / bytesPerSector

	for i := uint(0); i < numSectors; i++ {
		sector, err := o.blockToSector(index + common.LogicalBlock(i))
		if err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
		chunk := data[i*bytesPerSector : (i+1)*bytesPerSector]
		if writeErr := o.volume.device.Write(sector, chunk); writeErr != nil {
			return disko.ErrIOFailed.Wrap(writeErr)
		}
	}
	return nil
}

// ZeroOutBlocks implements [disko.ObjectHandle] by writing zeroed sectors;
// FAT has no hole-punching primitive so there's no space to save by doing
// anything cleverer.
func (o *FATObject) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}
	bytesPerSector := uint(o.volume.boot.BytesPerSector)
	zeros := make([]byte, bytesPerSector)
	for i := uint(0); i < count; i++ {
		sector, err := o.blockToSector(startIndex + common.LogicalBlock(i))
		if err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
		if writeErr := o.volume.device.Write(sector, zeros); writeErr != nil {
			return disko.ErrIOFailed.Wrap(writeErr)
		}
	}
	return nil
}

// Unlink implements [disko.ObjectHandle]: it marks the short entry (and any
// preceding LFN fragments) deleted by setting the first byte to 0xE5, then
// frees the object's cluster chain.
func (o *FATObject) Unlink() disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}

	if err := o.volume.markSlotsDeleted(o.location); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}

	if o.dirent.FirstCluster != 0 {
		if err := o.volume.chain.RemoveChain(o.dirent.FirstCluster, 0); err != nil {
			return disko.ErrIOFailed.Wrap(err)
		}
	}
	return nil
}

// Chmod implements [disko.ObjectHandle] by toggling the read-only attribute
// bit; FAT's attribute byte has no other permission bits to map POSIX mode
// bits onto.
func (o *FATObject) Chmod(mode os.FileMode) disko.DriverError {
	if err := o.checkGeneration(); err != nil {
		return err
	}
	if mode&0o200 == 0 {
		o.dirent.AttributeFlags |= AttrReadOnly
	} else {
		o.dirent.AttributeFlags &^= AttrReadOnly
	}
	o.dirent.mode = AttrFlagsToFileMode(uint8(o.dirent.AttributeFlags))
	return o.writeBack()
}

// Chown implements [disko.ObjectHandle]. FAT has no concept of ownership.
func (o *FATObject) Chown(uid, gid int) disko.DriverError {
	return disko.ErrNotSupported
}

// Chtimes implements [disko.ObjectHandle] (the specification's utime
// operation, §4.5/§6): FAT only has created/modified/accessed timestamps,
// so lastChanged and deletedAt are ignored rather than rejected.
func (o *FATObject) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	if err := o.checkGeneration(); err != nil {
		return err
	}
	if !createdAt.IsZero() {
		o.dirent.Created = createdAt
	}
	if !lastAccessed.IsZero() {
		o.dirent.LastAccessed = lastAccessed
	}
	if !lastModified.IsZero() {
		o.dirent.LastModified = lastModified
	}
	return o.writeBack()
}

// ListDir implements [disko.ObjectHandle]/[disko.SupportsListDirHandle].
func (o *FATObject) ListDir() ([]string, disko.DriverError) {
	if err := o.checkGeneration(); err != nil {
		return nil, err
	}
	dirents, err := o.volume.readDirectory(o.dirent.FirstCluster, o.isRoot)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	names := make([]string, len(dirents))
	for i, d := range dirents {
		names[i] = d.Name()
	}
	return names, nil
}

// Name implements [disko.ObjectHandle].
func (o *FATObject) Name() string {
	if o.isRoot {
		return "/"
	}
	return o.dirent.Name()
}

// SameAs implements [disko.ObjectHandle].
func (o *FATObject) SameAs(other disko.ObjectHandle) bool {
	otherFAT, ok := other.(*FATObject)
	if !ok {
		return false
	}
	if o.isRoot || otherFAT.isRoot {
		return o.isRoot && otherFAT.isRoot
	}
	return o.dirent.FirstCluster == otherFAT.dirent.FirstCluster
}

// writeBack serializes this object's (possibly modified) directory entry
// and stores it back at its original slot.
func (o *FATObject) writeBack() disko.DriverError {
	if o.isRoot {
		// The root directory itself has no directory entry of its own to
		// rewrite.
		return nil
	}
	if err := o.volume.rewriteDirent(o.location, o.dirent); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	return nil
}

// IsDir is a convenience used by the implementation layer when deciding how
// to treat a freshly looked-up object.
func (o *FATObject) IsDir() bool {
	return o.dirent.AttributeFlags&AttrDirectory != 0
}
