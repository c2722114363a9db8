package exfat

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
)

// Bitmap is exFAT's on-disk allocation bitmap (specification §4.3, exFAT
// §7.1): unlike FAT12/16/32, where a cluster's free/allocated state is
// implied by its FAT cell value, exFAT keeps a dedicated bit-per-cluster
// bitmap as a first-class file in the cluster heap, pointed at by an
// [allocationBitmapDirectoryEntry] in the root directory.
//
// This generalizes drivers/common.Allocator from an in-memory-only bitmap
// over abstract "blocks" to one that's loaded from, and flushed back to, a
// region of the cluster heap -- the exFAT-specific wrinkle being that the
// bitmap describes clusters starting at 2, the same numbering
// [common.ClusterStream] already uses for FAT's data region.
type Bitmap struct {
	bits               bitmap.Bitmap
	firstCluster       uint32
	clusterCount       uint32
	lastAllocatedIndex uint32
}

// LoadBitmap reads the allocation bitmap's own clusters out of the cluster
// heap and wraps them for allocate/free queries. `firstCluster` and
// `dataLength` come from the root directory's [allocationBitmapDirectoryEntry];
// `clusterCount` is the volume's total addressable cluster count (the
// bitmap may be padded to a whole number of clusters, so it can describe
// more bits than there are clusters -- callers only ever query bits below
// `clusterCount`).
func LoadBitmap(cs *common.ClusterStream, firstCluster uint32, dataLength uint64, clusterCount uint32) (*Bitmap, error) {
	clusterSize := uint64(cs.BlocksPerCluster) * cs.BlockStream.BytesPerBlock
	numClusters := uint((dataLength + clusterSize - 1) / clusterSize)

	raw, err := cs.Read(common.ClusterID(firstCluster), numClusters)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}

	bm := bitmap.NewSlice(raw)
	return &Bitmap{
		bits:         bm,
		firstCluster: firstCluster,
		clusterCount: clusterCount,
	}, nil
}

// NewBitmap creates a fresh, all-clear bitmap of the given size, for use by
// mkfs-style formatting rather than mount.
func NewBitmap(clusterCount uint32) *Bitmap {
	return &Bitmap{
		bits:         bitmap.New(int(clusterCount)),
		clusterCount: clusterCount,
	}
}

// clusterIndex converts an absolute cluster number (>= 2, per exFAT's
// shared-with-FAT numbering convention) into a zero-based bitmap bit index.
func (b *Bitmap) clusterIndex(cluster uint32) (uint32, error) {
	if cluster < 2 || cluster-2 >= b.clusterCount {
		return 0, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d not in range [2, %d)", cluster, b.clusterCount+2),
		)
	}
	return cluster - 2, nil
}

// IsAllocated reports whether `cluster` is marked in-use.
func (b *Bitmap) IsAllocated(cluster uint32) (bool, error) {
	idx, err := b.clusterIndex(cluster)
	if err != nil {
		return false, err
	}
	return b.bits.Get(int(idx)), nil
}

// Allocate finds and marks a free cluster, the exFAT-specific analogue of
// drivers/common.Allocator.AllocateBlock. The search is next-fit: it starts
// just past the most recently allocated cluster and wraps around.
func (b *Bitmap) Allocate() (uint32, error) {
	for i := uint32(0); i < b.clusterCount; i++ {
		idx := (b.lastAllocatedIndex + i) % b.clusterCount
		if !b.bits.Get(int(idx)) {
			b.bits.Set(int(idx), true)
			b.lastAllocatedIndex = idx + 1
			return idx + 2, nil
		}
	}
	return 0, disko.ErrNoSpaceOnDevice
}

// Free marks `cluster` free. Freeing an already-free cluster is treated as
// success, matching exFAT's tolerance of redundant bitmap repair passes.
func (b *Bitmap) Free(cluster uint32) error {
	idx, err := b.clusterIndex(cluster)
	if err != nil {
		return err
	}
	b.bits.Set(int(idx), false)
	return nil
}

// findRun scans for the first contiguous run of `count` clear bits,
// mirroring drivers/common.Allocator.findRun.
func (b *Bitmap) findRun(count uint32) (uint32, error) {
	runStart := uint32(0)
	runSize := uint32(0)

	for i := uint32(0); i < b.clusterCount; i++ {
		if b.bits.Get(int(i)) {
			runSize = 0
			continue
		}
		runSize++
		if runSize == 1 {
			runStart = i
		}
		if runSize == count {
			return runStart, nil
		}
	}
	return 0, disko.ErrNoSpaceOnDevice
}

// AllocateContiguous reserves `count` clusters as a single run, backing the
// specification's expand(contiguous=true) operation and exFAT's NoFatChain
// storage mode (where a file's data doesn't need a FAT chain at all because
// its clusters are guaranteed sequential). Mirrors
// drivers/common.Allocator.AllocateContiguousBlocks and
// drivers/fat.ChainEngine.ExtendContiguous.
func (b *Bitmap) AllocateContiguous(count uint32) (uint32, error) {
	if count == 0 {
		return 0, disko.ErrInvalidArgument.WithMessage("contiguous allocation of 0 clusters requested")
	}

	runStart, err := b.findRun(count)
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < count; i++ {
		b.bits.Set(int(runStart+i), true)
	}
	return runStart + 2, nil
}

// FreeCount returns the number of clear bits, backing the specification's
// getfree operation.
func (b *Bitmap) FreeCount() uint32 {
	free := uint32(0)
	for i := uint32(0); i < b.clusterCount; i++ {
		if !b.bits.Get(int(i)) {
			free++
		}
	}
	return free
}

// Flush writes the bitmap's backing bytes to its clusters in the heap.
func (b *Bitmap) Flush(cs *common.ClusterStream) error {
	raw := []byte(b.bits)
	clusterSize := uint64(cs.BlocksPerCluster) * cs.BlockStream.BytesPerBlock

	padded := raw
	if rem := uint64(len(raw)) % clusterSize; rem != 0 {
		padded = make([]byte, uint64(len(raw))+(clusterSize-rem))
		copy(padded, raw)
	}

	if err := cs.Write(common.ClusterID(b.firstCluster), padded); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	return nil
}
