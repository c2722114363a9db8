package fat

import (
	"fmt"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
)

// VolumeWindow is the single-sector disk access buffer the FAT engine uses
// for a mounted volume. Every FAT cell read or write passes through it: only
// one sector of the FAT is ever resident at a time, and it's flushed before
// a different sector is loaded in its place. Directory entries do not pass
// through it; the directory code reads and writes the block device directly.
//
// This mirrors FatFs's `win[]`/`winsect` pair (see original_source's ff.c):
// a single buffer, moved with `move_window()` and flushed with
// `sync_window()`, rather than a general-purpose block cache with an
// eviction policy. `drivers/common/blockcache` is a better fit for file data
// (many blocks resident, LRU eviction); metadata only ever needs one.
type VolumeWindow struct {
	device *common.BlockStream

	sector common.BlockID
	loaded bool
	dirty  bool
	buf    []byte

	// fatStart, sectorsPerFAT, and numFATs describe where the first FAT
	// begins and how large each copy is, so that a write landing inside the
	// first copy can be mirrored into the others. A zero numFATs (or
	// numFATs < 2) disables mirroring.
	fatStart      common.BlockID
	sectorsPerFAT uint
	numFATs       uint
}

// NewVolumeWindow creates a window over `device`. `fatStart`/`sectorsPerFAT`/
// `numFATs` describe the FAT region for mirrored writes; pass numFATs <= 1
// if the caller never intends to move the window over FAT sectors (e.g. a
// window dedicated to directory traffic only).
func NewVolumeWindow(
	device *common.BlockStream,
	fatStart common.BlockID,
	sectorsPerFAT uint,
	numFATs uint,
) *VolumeWindow {
	return &VolumeWindow{
		device:        device,
		fatStart:      fatStart,
		sectorsPerFAT: sectorsPerFAT,
		numFATs:       numFATs,
	}
}

// Buffer returns the bytes currently held in the window. The caller may
// modify it in place and then call [VolumeWindow.MarkDirty].
func (w *VolumeWindow) Buffer() []byte {
	return w.buf
}

// Sector returns the logical block number currently loaded into the window.
func (w *VolumeWindow) Sector() common.BlockID {
	return w.sector
}

// MarkDirty flags the window's buffer as modified so the next MoveWindow or
// an explicit SyncWindow call writes it back.
func (w *VolumeWindow) MarkDirty() {
	w.dirty = true
}

// MoveWindow loads `sector` into the window, flushing whatever was
// previously loaded first if it was dirty. It's a no-op if `sector` is
// already the resident sector.
func (w *VolumeWindow) MoveWindow(sector common.BlockID) error {
	if w.loaded && w.sector == sector {
		return nil
	}

	if err := w.SyncWindow(); err != nil {
		return err
	}

	buf, err := w.device.Read(sector, 1)
	if err != nil {
		return disko.ErrIOFailed.Wrap(
			fmt.Errorf("move_window: read sector %d: %w", sector, err),
		)
	}

	w.buf = buf
	w.sector = sector
	w.loaded = true
	w.dirty = false
	return nil
}

// SyncWindow flushes the resident sector if it's dirty, mirroring the write
// into every redundant FAT copy when the resident sector falls inside the
// first FAT. It's a no-op if nothing is loaded or nothing has changed.
func (w *VolumeWindow) SyncWindow() error {
	if !w.loaded || !w.dirty {
		return nil
	}

	if err := w.device.Write(w.sector, common.BlockData(w.buf)); err != nil {
		return disko.ErrIOFailed.Wrap(
			fmt.Errorf("sync_window: write sector %d: %w", w.sector, err),
		)
	}

	if offset, ok := w.offsetInFirstFAT(w.sector); ok {
		for copyIndex := uint(1); copyIndex < w.numFATs; copyIndex++ {
			mirror := w.fatStart + common.BlockID(copyIndex*w.sectorsPerFAT) + common.BlockID(offset)
			if err := w.device.Write(mirror, common.BlockData(w.buf)); err != nil {
				return disko.ErrIOFailed.Wrap(
					fmt.Errorf("sync_window: mirror sector %d to copy %d: %w", w.sector, copyIndex, err),
				)
			}
		}
	}

	w.dirty = false
	return nil
}

// offsetInFirstFAT reports whether `sector` lies within the first FAT copy
// and, if so, its offset from the start of that copy.
func (w *VolumeWindow) offsetInFirstFAT(sector common.BlockID) (uint, bool) {
	if w.numFATs < 2 || sector < w.fatStart {
		return 0, false
	}
	offset := uint(sector - w.fatStart)
	if offset >= w.sectorsPerFAT {
		return 0, false
	}
	return offset, true
}

// Invalidate discards the resident sector without flushing it. Used when the
// caller already knows the buffer's contents are being superseded (e.g.
// after a failed write that was rolled back by a lower layer).
func (w *VolumeWindow) Invalidate() {
	w.loaded = false
	w.dirty = false
	w.buf = nil
}
