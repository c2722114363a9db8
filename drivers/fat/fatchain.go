package fat

import (
	"fmt"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
)

// End-of-chain and bad-cluster markers for each FAT variant. Ranges are taken
// from Microsoft's FAT documentation (also summarized in the specification's
// glossary): FAT12 uses 12-bit cells, FAT16 16-bit, FAT32 28 usable bits of a
// 32-bit cell (the top 4 bits are reserved and must be preserved across
// writes).
const (
	fat12BadCluster ClusterID = 0xFF7
	fat12EOC        ClusterID = 0xFF8
	fat12Mask       ClusterID = 0xFFF

	fat16BadCluster ClusterID = 0xFFF7
	fat16EOC        ClusterID = 0xFFF8
	fat16Mask       ClusterID = 0xFFFF

	fat32BadCluster ClusterID = 0x0FFFFFF7
	fat32EOC        ClusterID = 0x0FFFFFF8
	fat32Mask       ClusterID = 0x0FFFFFFF
)

// ChainEngine implements the FAT/bitmap engine described in the
// specification's §4.2: reading and writing individual FAT cells, walking
// and building cluster chains, and finding and tracking free clusters. It is
// grounded on [FATDriver.listClusters]/[FATDriver.getClusterInChain], which
// already walk chains for directory traversal, generalized here into the
// full read/write/allocate/free vocabulary the directory and object layers
// need, and on [common.Allocator]'s free-run scan for [ChainEngine.FindFree]
// and [ChainEngine.ExtendContiguous].
type ChainEngine struct {
	window   *VolumeWindow
	boot     *FATBootSector
	fatStart common.BlockID

	// lastAllocated and freeCount are the advisory hint fields the
	// specification's data model calls out (§3): a starting point for the
	// next free-cluster scan, and a cached count that's invalidated (not
	// trusted) once it drifts, same as FAT32's FSInfo sector.
	lastAllocated ClusterID
	freeCount     uint32
	freeCountKnown bool
}

// NewChainEngine builds a [ChainEngine] over `window`, which must already be
// configured with the volume's FAT geometry (see [NewVolumeWindow]).
func NewChainEngine(window *VolumeWindow, boot *FATBootSector, fatStart common.BlockID) *ChainEngine {
	return &ChainEngine{
		window:   window,
		boot:     boot,
		fatStart: fatStart,
	}
}

// nFatEnt is the number of entries in the FAT, i.e. TotalClusters+2: clusters
// are numbered starting at 2, so entries 0 and 1 are reserved media/EOC
// markers and never correspond to an actual data cluster.
func (e *ChainEngine) nFatEnt() uint {
	return e.boot.TotalClusters + 2
}

// IsValidCluster reports whether `c` can legally appear as a data cluster
// number (as opposed to a reserved, free, bad, or EOC marker value).
func (e *ChainEngine) IsValidCluster(c ClusterID) bool {
	return c >= 2 && uint(c) < e.nFatEnt()
}

// IsEndOfChain reports whether `c` is an end-of-chain marker for this FAT
// variant.
func (e *ChainEngine) IsEndOfChain(c ClusterID) bool {
	switch e.boot.FATVersion {
	case 12:
		return c >= fat12EOC && c <= fat12Mask
	case 16:
		return c >= fat16EOC && c <= fat16Mask
	default:
		return c >= fat32EOC && c <= fat32Mask
	}
}

// IsBadCluster reports whether `c` is the marker for a cluster the volume
// considers unusable.
func (e *ChainEngine) IsBadCluster(c ClusterID) bool {
	switch e.boot.FATVersion {
	case 12:
		return c == fat12BadCluster
	case 16:
		return c == fat16BadCluster
	default:
		return c == fat32BadCluster
	}
}

// eocMarker returns the canonical end-of-chain value to write when
// terminating a chain for this FAT variant.
func (e *ChainEngine) eocMarker() ClusterID {
	switch e.boot.FATVersion {
	case 12:
		return fat12Mask
	case 16:
		return fat16Mask
	default:
		return fat32Mask
	}
}

// cellLocation computes which sector holds FAT entry `i` and the byte offset
// of its first byte within that sector.
func (e *ChainEngine) cellLocation(i ClusterID) (sector common.BlockID, byteOffset uint) {
	bytesPerSector := uint(e.boot.BytesPerSector)

	var fatByteOffset uint
	switch e.boot.FATVersion {
	case 12:
		// Each cell is 1.5 bytes; floor(i * 1.5) gives the offset of the
		// first of its two bytes.
		fatByteOffset = uint(i) + uint(i)/2
	case 16:
		fatByteOffset = uint(i) * 2
	default:
		fatByteOffset = uint(i) * 4
	}

	sector = e.fatStart + common.BlockID(fatByteOffset/bytesPerSector)
	byteOffset = fatByteOffset % bytesPerSector
	return sector, byteOffset
}

// readByteAt returns the byte at `byteOffset` of `sector`, moving the window
// there first.
func (e *ChainEngine) readByteAt(sector common.BlockID, byteOffset uint) (byte, error) {
	if err := e.window.MoveWindow(sector); err != nil {
		return 0, err
	}
	return e.window.Buffer()[byteOffset], nil
}

// writeByteAt stores `value` at `byteOffset` of `sector` and marks the
// window dirty. The caller is responsible for calling [VolumeWindow.SyncWindow]
// (directly, or implicitly via the next MoveWindow) once all bytes of the
// cell have been written.
func (e *ChainEngine) writeByteAt(sector common.BlockID, byteOffset uint, value byte) error {
	if err := e.window.MoveWindow(sector); err != nil {
		return err
	}
	e.window.Buffer()[byteOffset] = value
	e.window.MarkDirty()
	return nil
}

// GetFAT reads the raw value of FAT cell `i` (get_fat in the specification).
// FAT12 cells that straddle a sector boundary require two window moves; this
// is the one place in the engine where that's allowed to happen inside a
// single logical operation.
func (e *ChainEngine) GetFAT(i ClusterID) (ClusterID, error) {
	if uint(i) >= e.nFatEnt() {
		return 0, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d out of range [0, %d)", i, e.nFatEnt()),
		)
	}

	sector, offset := e.cellLocation(i)
	bytesPerSector := uint(e.boot.BytesPerSector)

	switch e.boot.FATVersion {
	case 12:
		lo, err := e.readByteAt(sector, offset)
		if err != nil {
			return 0, err
		}

		var hi byte
		if offset+1 < bytesPerSector {
			hi, err = e.readByteAt(sector, offset+1)
		} else {
			hi, err = e.readByteAt(sector+1, 0)
		}
		if err != nil {
			return 0, err
		}

		raw := uint16(lo) | uint16(hi)<<8
		if i%2 == 0 {
			return ClusterID(raw & 0x0FFF), nil
		}
		return ClusterID(raw >> 4), nil

	case 16:
		if err := e.window.MoveWindow(sector); err != nil {
			return 0, err
		}
		buf := e.window.Buffer()
		return ClusterID(uint16(buf[offset]) | uint16(buf[offset+1])<<8), nil

	default: // 32
		if err := e.window.MoveWindow(sector); err != nil {
			return 0, err
		}
		buf := e.window.Buffer()
		raw := uint32(buf[offset]) | uint32(buf[offset+1])<<8 |
			uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		return ClusterID(raw & 0x0FFFFFFF), nil
	}
}

// PutFAT writes `value` into FAT cell `i` (put_fat in the specification),
// preserving the reserved top 4 bits on FAT32 and the neighboring nibble on
// FAT12.
func (e *ChainEngine) PutFAT(i ClusterID, value ClusterID) error {
	if uint(i) >= e.nFatEnt() {
		return disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster %d out of range [0, %d)", i, e.nFatEnt()),
		)
	}

	sector, offset := e.cellLocation(i)
	bytesPerSector := uint(e.boot.BytesPerSector)

	switch e.boot.FATVersion {
	case 12:
		lo, err := e.readByteAt(sector, offset)
		if err != nil {
			return err
		}

		var hiSector common.BlockID
		var hiOffset uint
		if offset+1 < bytesPerSector {
			hiSector, hiOffset = sector, offset+1
		} else {
			hiSector, hiOffset = sector+1, 0
		}
		hi, err := e.readByteAt(hiSector, hiOffset)
		if err != nil {
			return err
		}

		raw := uint16(lo) | uint16(hi)<<8
		v := uint16(value) & 0x0FFF
		if i%2 == 0 {
			raw = (raw & 0xF000) | v
		} else {
			raw = (raw & 0x000F) | (v << 4)
		}

		if err := e.writeByteAt(sector, offset, byte(raw)); err != nil {
			return err
		}
		return e.writeByteAt(hiSector, hiOffset, byte(raw>>8))

	case 16:
		if err := e.window.MoveWindow(sector); err != nil {
			return err
		}
		buf := e.window.Buffer()
		buf[offset] = byte(value)
		buf[offset+1] = byte(value >> 8)
		e.window.MarkDirty()
		return nil

	default: // 32
		if err := e.window.MoveWindow(sector); err != nil {
			return err
		}
		buf := e.window.Buffer()
		// The top 4 bits of a FAT32 cell are reserved; preserve whatever was
		// already there instead of clobbering it.
		reserved := (uint32(buf[offset+3]) << 24) & 0xF0000000
		raw := (uint32(value) & 0x0FFFFFFF) | reserved
		buf[offset] = byte(raw)
		buf[offset+1] = byte(raw >> 8)
		buf[offset+2] = byte(raw >> 16)
		buf[offset+3] = byte(raw >> 24)
		e.window.MarkDirty()
		return nil
	}
}

// FollowChain walks the cluster chain starting at `start` and returns every
// cluster number in order. Traversal is bounded to at most nFatEnt-2 steps
// (the specification's §9 design note): a chain that doesn't terminate
// within that many hops must contain a cycle, and the walk fails with
// [disko.ErrInternal] rather than looping forever.
func (e *ChainEngine) FollowChain(start ClusterID) ([]ClusterID, error) {
	if !e.IsValidCluster(start) {
		return nil, disko.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("cluster 0x%x cannot start a chain", start),
		)
	}

	maxSteps := e.nFatEnt() - 2
	chain := make([]ClusterID, 0, 8)
	current := start

	for step := uint(0); ; step++ {
		if step >= maxSteps {
			return chain, disko.ErrInternal.WithMessage(
				fmt.Sprintf(
					"chain from cluster %d did not terminate within %d steps: cycle suspected",
					start,
					maxSteps,
				),
			)
		}

		chain = append(chain, current)

		next, err := e.GetFAT(current)
		if err != nil {
			return chain, err
		}
		if e.IsEndOfChain(next) {
			return chain, nil
		}
		if e.IsBadCluster(next) || !e.IsValidCluster(next) {
			return chain, disko.ErrInternal.WithMessage(
				fmt.Sprintf(
					"cluster %d links to invalid/bad cluster 0x%x",
					current,
					next,
				),
			)
		}

		current = next
	}
}

// FindFree scans the FAT for a free cluster (value 0), starting just after
// `hint` and wrapping around once. It returns 0 if no free cluster exists,
// matching the specification's find_free semantics; callers translate that
// into [disko.ErrNoSpace] where appropriate.
func (e *ChainEngine) FindFree(hint ClusterID) (ClusterID, error) {
	total := e.nFatEnt()
	if total <= 2 {
		return 0, nil
	}

	start := uint(hint) + 1
	if start < 2 || start >= total {
		start = 2
	}

	for offset := uint(0); offset < total-2; offset++ {
		candidate := ClusterID(2 + (start-2+offset)%(total-2))
		value, err := e.GetFAT(candidate)
		if err != nil {
			return 0, err
		}
		if value == 0 {
			return candidate, nil
		}
	}
	return 0, nil
}

// CreateChain allocates one new cluster, terminates it, links `prev` to it
// (unless `prev` is 0, meaning this is the first cluster of a new chain),
// and returns the new cluster's number. The successor cluster's EOC marker
// is written before the predecessor's link per the specification's ordering
// guarantee, so a crash between the two writes leaves the new cluster
// orphaned (recoverable by a free-space rescan) rather than linked into two
// chains at once.
func (e *ChainEngine) CreateChain(prev ClusterID) (ClusterID, error) {
	free, err := e.FindFree(e.lastAllocated)
	if err != nil {
		return 0, err
	}
	if free == 0 {
		return 0, disko.ErrNoSpaceOnDevice
	}

	if err := e.PutFAT(free, e.eocMarker()); err != nil {
		return 0, err
	}

	if prev != 0 {
		if err := e.PutFAT(prev, free); err != nil {
			// Roll back the new cluster so it isn't leaked as allocated-but-
			// unreferenced.
			_ = e.PutFAT(free, 0)
			return 0, err
		}
	}

	e.lastAllocated = free
	if e.freeCountKnown && e.freeCount > 0 {
		e.freeCount--
	}
	return free, nil
}

// RemoveChain frees every cluster in the chain starting at `start`. If
// `pclu` is nonzero, it names the cluster that previously pointed to
// `start`; that link is cut (terminated) before the chain's own clusters
// are freed, so a crash partway through leaves a shorter, still-valid chain
// rather than a dangling reference into freed space.
func (e *ChainEngine) RemoveChain(start ClusterID, pclu ClusterID) error {
	if pclu != 0 {
		if err := e.PutFAT(pclu, e.eocMarker()); err != nil {
			return err
		}
	}

	chain, err := e.FollowChain(start)
	if err != nil && len(chain) == 0 {
		return err
	}

	for _, cluster := range chain {
		if putErr := e.PutFAT(cluster, 0); putErr != nil {
			return putErr
		}
		if e.freeCountKnown {
			e.freeCount++
		}
	}
	return err
}

// ExtendContiguous finds a run of `count` consecutive free clusters
// beginning at or after `start` and links them into a single chain,
// returning the first cluster of the run. This backs the specification's
// f_expand(contiguous=1) scenario and exFAT's "no FAT chain" allocation
// mode, where a file's data is guaranteed sequential and no FAT links are
// needed to read it back (only the start cluster and length matter).
//
// Grounded on [common.Allocator.findRun]'s first-fit contiguous bitmap scan,
// adapted here to scan FAT cells directly instead of a bitmap since FAT12/16
// have no separate allocation bitmap.
func (e *ChainEngine) ExtendContiguous(start ClusterID, count uint) (ClusterID, error) {
	if count == 0 {
		return 0, disko.ErrInvalidArgument
	}

	total := e.nFatEnt()
	searchStart := uint(start)
	if searchStart < 2 {
		searchStart = 2
	}

	for base := searchStart; base+count <= total; base++ {
		runIsFree := true
		for offset := uint(0); offset < count; offset++ {
			value, err := e.GetFAT(ClusterID(base + offset))
			if err != nil {
				return 0, err
			}
			if value != 0 {
				runIsFree = false
				break
			}
		}
		if !runIsFree {
			continue
		}

		for offset := uint(0); offset < count-1; offset++ {
			cluster := ClusterID(base + offset)
			if err := e.PutFAT(cluster, cluster+1); err != nil {
				return 0, err
			}
		}
		last := ClusterID(base + count - 1)
		if err := e.PutFAT(last, e.eocMarker()); err != nil {
			return 0, err
		}

		e.lastAllocated = last
		if e.freeCountKnown {
			if uint32(count) <= e.freeCount {
				e.freeCount -= uint32(count)
			} else {
				e.freeCount = 0
			}
		}
		return ClusterID(base), nil
	}

	return 0, disko.ErrNoSpaceOnDevice
}

// FreeCount returns the volume's advisory free-cluster count and whether
// it's currently trusted. A caller that needs an exact answer (f_getfree)
// should rescan with [ChainEngine.RescanFreeCount] when this is false, per
// the specification's free-count maintenance rules (§4.2).
func (e *ChainEngine) FreeCount() (uint32, bool) {
	return e.freeCount, e.freeCountKnown
}

// RescanFreeCount walks the entire FAT counting free cells, and caches the
// result as the new trusted hint.
func (e *ChainEngine) RescanFreeCount() (uint32, error) {
	var free uint32
	total := e.nFatEnt()
	for i := uint(2); i < total; i++ {
		value, err := e.GetFAT(ClusterID(i))
		if err != nil {
			return 0, err
		}
		if value == 0 {
			free++
		}
	}
	e.freeCount = free
	e.freeCountKnown = true
	return free, nil
}
