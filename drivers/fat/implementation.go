package fat

import (
	"io"
	"os"
	"strings"
	"time"

	disko "github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/drivers/common"
	"github.com/dargueta/diskofat/drivers/fat/names"
)

// partitionReaderAt adapts a [common.BlockStream] to [io.ReaderAt] so the
// teacher's [FATDriver] (which was written against a plain io.ReaderAt disk
// file) can be reused unchanged for the sector-addressed reads it already
// knows how to do, while everything this package adds reads/writes through
// the BlockStream directly.
type partitionReaderAt struct {
	device *common.BlockStream
}

func (r *partitionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	bps := int64(r.device.BytesPerBlock)
	block := common.BlockID(off / bps)
	data, err := r.device.Read(block, uint(len(p))/uint(bps)+1)
	if err != nil {
		return 0, err
	}
	start := off % bps
	n := copy(p, data[start:])
	return n, nil
}

// GetBootSector implements [FATDriverCommon].
func (v *Volume) GetBootSector() *FATBootSector { return v.boot }

// GetClusterAtIndex implements [FATDriverCommon] in terms of [ChainEngine.GetFAT].
func (v *Volume) GetClusterAtIndex(index uint) (ClusterID, error) {
	return v.chain.GetFAT(ClusterID(index))
}

// SetClusterAtIndex implements [FATDriverCommon] in terms of [ChainEngine.PutFAT].
func (v *Volume) SetClusterAtIndex(index uint, cluster ClusterID) error {
	return v.chain.PutFAT(ClusterID(index), cluster)
}

// GetNextClusterInChain implements [FATDriverCommon].
func (v *Volume) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return v.chain.GetFAT(cluster)
}

// IsValidCluster implements [FATDriverCommon] in terms of [ChainEngine.IsValidCluster].
func (v *Volume) IsValidCluster(cluster ClusterID) bool { return v.chain.IsValidCluster(cluster) }

// IsEndOfChain implements [FATDriverCommon] in terms of [ChainEngine.IsEndOfChain].
func (v *Volume) IsEndOfChain(cluster ClusterID) bool { return v.chain.IsEndOfChain(cluster) }

// driver lazily builds the [FATDriver] helper that reuses the teacher's
// cluster-chain directory scanning logic (listClusters, ReadDirFromDirent,
// clusterToDirentSlice) on top of this volume's own FAT engine.
func (v *Volume) driver() *FATDriver {
	return &FATDriver{fs: v, diskFile: &partitionReaderAt{device: v.device}}
}

// isFixedRoot reports whether `cluster` refers to the FAT12/16 fixed-size
// root directory region rather than an ordinary cluster chain. FAT32 has no
// such region: its root directory is cluster v.rootDirCluster, a normal
// chain like any other directory.
func (v *Volume) isFixedRoot(cluster ClusterID) bool {
	return cluster == 0 && v.rootDirCluster == 0
}

// readDirectory returns every entry (including "." and "..", if present) in
// the directory starting at `cluster`. isRoot additionally tells it whether
// to fall back to the FAT12/16 fixed root region when cluster is 0.
func (v *Volume) readDirectory(cluster ClusterID, isRoot bool) ([]Dirent, error) {
	if isRoot && v.isFixedRoot(cluster) {
		data, err := v.device.Read(v.rootDirSector, v.boot.RootDirSectors)
		if err != nil {
			return nil, err
		}
		return decodeDirentRegion(data, int(v.boot.RootEntryCount))
	}

	startCluster := cluster
	if isRoot {
		startCluster = v.rootDirCluster
	}

	drv := v.driver()
	allDirents := []Dirent{}
	chain, err := v.chain.FollowChain(startCluster)
	if err != nil && len(chain) == 0 {
		return nil, err
	}
	for _, c := range chain {
		data, readErr := drv.readCluster(c, 1)
		if readErr != nil {
			return nil, readErr
		}
		dirents, decodeErr := decodeDirentRegion(data, v.boot.DirentsPerCluster)
		if decodeErr != nil {
			return nil, decodeErr
		}
		allDirents = append(allDirents, dirents...)
		if len(dirents) < v.boot.DirentsPerCluster {
			break
		}
	}
	return allDirents, nil
}

// slotSector returns the absolute sector and in-sector byte offset of the
// `slotIndex`-th 32-byte directory entry slot within the directory starting
// at `parentCluster` (0 meaning the FAT12/16 fixed root region when the
// volume has no FAT32 root cluster).
func (v *Volume) slotSector(parentCluster ClusterID, slotIndex int) (common.BlockID, uint, error) {
	bytesPerSector := uint(v.boot.BytesPerSector)
	direntsPerSector := bytesPerSector / DirentSize
	sectorOffset := uint(slotIndex) / direntsPerSector
	byteOffset := (uint(slotIndex) % direntsPerSector) * DirentSize

	if v.isFixedRoot(parentCluster) {
		return v.rootDirSector + common.BlockID(sectorOffset), byteOffset, nil
	}

	startCluster := parentCluster
	if startCluster == 0 {
		startCluster = v.rootDirCluster
	}

	sectorsPerCluster := uint(v.boot.SectorsPerCluster)
	clusterIndex := sectorOffset / sectorsPerCluster
	sectorInCluster := sectorOffset % sectorsPerCluster

	chain, err := v.chain.FollowChain(startCluster)
	if err != nil {
		return 0, 0, err
	}
	if clusterIndex >= uint(len(chain)) {
		return 0, 0, disko.ErrArgumentOutOfRange
	}
	cluster := chain[clusterIndex]
	firstSectorOfCluster := uint(v.boot.FirstDataSector) + sectorsPerCluster*uint(cluster-2)
	return common.BlockID(firstSectorOfCluster + sectorInCluster), byteOffset, nil
}

// markSlotsDeleted sets the first byte of the short entry at `loc`, plus
// every LFN fragment immediately preceding it, to 0xE5, the FAT convention
// for "this slot is free" (specification §4.3/§4.5 unlink semantics).
func (v *Volume) markSlotsDeleted(loc direntLocation) error {
	for i := loc.slotIndex - loc.lfnSlots; i <= loc.slotIndex; i++ {
		sector, offset, err := v.slotSector(loc.parentCluster, i)
		if err != nil {
			return err
		}
		data, err := v.device.Read(sector, 1)
		if err != nil {
			return err
		}
		data[offset] = 0xE5
		if err := v.device.Write(sector, data); err != nil {
			return err
		}
	}
	return nil
}

// rewriteDirent stores the mutated fields of `d` (attributes, timestamps,
// first cluster, size) back into the short-entry slot at `loc`. The 8.3 and
// long names are left untouched: this path serves Resize/Chmod/Chtimes, none
// of which the specification allows to change an object's name (rename is a
// distinct operation that replaces the whole entry, see driver.Rename).
func (v *Volume) rewriteDirent(loc direntLocation, d Dirent) error {
	sector, offset, err := v.slotSector(loc.parentCluster, loc.slotIndex)
	if err != nil {
		return err
	}
	data, err := v.device.Read(sector, 1)
	if err != nil {
		return err
	}

	slot := data[offset : offset+DirentSize]
	slot[11] = byte(d.AttributeFlags)

	cdate, ctime, chund := partsFromTimestamp(d.Created)
	slot[13] = chund
	putUint16(slot[14:16], ctime)
	putUint16(slot[16:18], cdate)

	adate, _, _ := partsFromTimestamp(d.LastAccessed)
	putUint16(slot[18:20], adate)

	mdate, mtime, _ := partsFromTimestamp(d.LastModified)
	putUint16(slot[22:24], mtime)
	putUint16(slot[24:26], mdate)

	putUint16(slot[20:22], uint16(d.FirstCluster>>16))
	putUint16(slot[26:28], uint16(d.FirstCluster))
	putUint32(slot[28:32], uint32(d.size))

	return v.device.Write(sector, data)
}

func putUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// partsFromTimestamp is the inverse of TimestampFromParts/DateFromInt: it
// packs a time.Time back into the FAT date/time/hundredths triple. Timestamps
// before 1980 (FAT's epoch) clamp to the epoch itself rather than wrapping.
func partsFromTimestamp(t time.Time) (date uint16, clock uint16, hundredths uint8) {
	if t.IsZero() || t.Year() < 1980 {
		return 0x21, 0, 0 // 1980-01-01, midnight
	}
	date = uint16((t.Year()-1980)<<9) | uint16(t.Month())<<5 | uint16(t.Day())
	clock = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	hundredths = uint8((t.Second()%2)*100) + uint8(t.Nanosecond()/10000000)
	return date, clock, hundredths
}

// findChildLocated scans `parentCluster` for an entry named `name`
// (case-insensitively, matching FAT's traditional semantics) and returns both
// the decoded entry and enough information to locate and rewrite its raw
// slot later.
func (v *Volume) findChildLocated(parentCluster ClusterID, isRoot bool, name string) (Dirent, direntLocation, error) {
	entries, err := v.readDirectory(parentCluster, isRoot)
	if err != nil {
		return Dirent{}, direntLocation{}, err
	}

	slotIndex := 0
	for _, d := range entries {
		entrySlots := 1
		if d.HasLongName() {
			entrySlots += numLFNFragments(d.longName)
		}
		if strings.EqualFold(d.Name(), name) || strings.EqualFold(d.AltName(), name) {
			loc := direntLocation{
				parentCluster: parentCluster,
				slotIndex:     slotIndex + entrySlots - 1,
				lfnSlots:      entrySlots - 1,
			}
			return d, loc, nil
		}
		slotIndex += entrySlots
	}
	return Dirent{}, direntLocation{}, disko.ErrNotFound
}

func numLFNFragments(name string) int {
	units := len([]rune(name))
	frags := (units + lfnUnitsPerEntry - 1) / lfnUnitsPerEntry
	if frags == 0 {
		frags = 1
	}
	return frags
}

// parentClusterOf returns the cluster FATObject.dirent.FirstCluster would
// imply for a directory, handling the root special case.
func (v *Volume) parentClusterOf(handle disko.ObjectHandle) (ClusterID, bool, error) {
	obj, ok := handle.(*FATObject)
	if !ok {
		return 0, false, disko.ErrInvalidArgument
	}
	if obj.isRoot {
		return v.rootDirCluster, true, nil
	}
	return obj.dirent.FirstCluster, false, nil
}

// Implementation is the FAT12/16/32 [disko.DriverImplementation]: it binds
// the specification's object-layer operations (§4.5) to a mounted [Volume].
type Implementation struct {
	Volume *Volume
}

// NewImplementation wraps an already-mounted volume.
func NewImplementation(v *Volume) *Implementation {
	return &Implementation{Volume: v}
}

// GetRootDirectory implements [disko.DriverImplementation].
func (impl *Implementation) GetRootDirectory() disko.ObjectHandle {
	root := Dirent{
		AttributeFlags: AttrDirectory,
		FirstCluster:   impl.Volume.rootDirCluster,
		mode:           os.ModeDir | 0o111,
	}
	return &FATObject{volume: impl.Volume, dirent: root, isRoot: true, generationID: impl.Volume.generationID}
}

// GetObject implements [disko.DriverImplementation].
func (impl *Implementation) GetObject(name string, parent disko.ObjectHandle) (disko.ObjectHandle, disko.DriverError) {
	v := impl.Volume
	parentCluster, isRoot, err := v.parentClusterOf(parent)
	if err != nil {
		return nil, disko.ErrInvalidArgument
	}

	dirent, loc, findErr := v.findChildLocated(parentCluster, isRoot, name)
	if findErr != nil {
		return nil, disko.ErrNotFound.WithMessage(name)
	}
	return v.newObjectHandle(dirent, loc), nil
}

// CreateObject implements [disko.DriverImplementation]: it writes a new
// directory entry named `name` into `parent`. The attribute byte is set from
// `perm`'s directory bit, but no cluster is allocated and no "." or ".."
// entries are written, neither here nor in the BaseDriver's Mkdir, which
// calls this directly.
func (impl *Implementation) CreateObject(name string, parent disko.ObjectHandle, perm os.FileMode) (disko.ObjectHandle, disko.DriverError) {
	v := impl.Volume
	parentCluster, isRoot, err := v.parentClusterOf(parent)
	if err != nil {
		return nil, disko.ErrInvalidArgument
	}

	if _, _, findErr := v.findChildLocated(parentCluster, isRoot, name); findErr == nil {
		return nil, disko.ErrExists.WithMessage(name)
	}

	shortName, genErr := generateShortNameForDir(v, parentCluster, isRoot, name)
	if genErr != nil {
		return nil, disko.ErrInvalidName.Wrap(genErr)
	}

	attr := AttrArchived
	if perm.IsDir() {
		attr = AttrDirectory
	}

	dirent := Dirent{
		name:           shortName,
		AttributeFlags: attr,
		Created:        impl.now(),
		LastModified:   impl.now(),
		LastAccessed:   impl.now(),
		mode:           AttrFlagsToFileMode(uint8(attr)),
	}
	if shortName != name {
		dirent.longName = name
	}

	loc, writeErr := v.appendDirent(parentCluster, isRoot, dirent)
	if writeErr != nil {
		return nil, disko.ErrIOFailed.Wrap(writeErr)
	}
	return v.newObjectHandle(dirent, loc), nil
}

// now is the implementation's notion of the current time, split out so the
// "preserve timestamps" mount flag (specification §4.7) could be honored by
// a future caller that stamps mount time once instead of per-call.
func (impl *Implementation) now() time.Time { return time.Now() }

// appendDirent writes `d`'s short entry (and, if it has a long name, its
// preceding LFN fragments) into the directory starting at parentCluster,
// beginning at the slot just past the entries [Volume.readDirectory]
// returns, and extends the chain through [Volume.ensureSlot] when those
// slots fall past its current allocation. It does not search for an earlier
// run of free slots, so slots freed by deletions are not reused. It returns
// the location of the newly written short entry.
func (v *Volume) appendDirent(parentCluster ClusterID, isRoot bool, d Dirent) (direntLocation, error) {
	existing, err := v.readDirectory(parentCluster, isRoot)
	if err != nil {
		return direntLocation{}, err
	}

	slotIndex := 0
	for _, e := range existing {
		slotIndex++
		if e.HasLongName() {
			slotIndex += numLFNFragments(e.longName)
		}
	}

	var shortBytes [11]byte
	copy8Dot3(shortBytes[:], d.name)
	checksum := fatNamesChecksum(shortBytes)

	var slots [][]byte
	if d.longName != "" {
		for _, lfn := range BuildLFNEntries(d.longName, checksum) {
			slots = append(slots, lfn.Bytes())
		}
	}
	slots = append(slots, serializeShortDirent(d, shortBytes))

	for i, slotData := range slots {
		sector, offset, locErr := v.ensureSlot(parentCluster, isRoot, slotIndex+i)
		if locErr != nil {
			return direntLocation{}, locErr
		}
		data, readErr := v.device.Read(sector, 1)
		if readErr != nil {
			return direntLocation{}, readErr
		}
		copy(data[offset:offset+DirentSize], slotData)
		if writeErr := v.device.Write(sector, data); writeErr != nil {
			return direntLocation{}, writeErr
		}
	}

	return direntLocation{
		parentCluster: parentCluster,
		slotIndex:     slotIndex + len(slots) - 1,
		lfnSlots:      len(slots) - 1,
	}, nil
}

// ensureSlot is like slotSector but extends the directory's cluster chain
// (fixed-root directories can't be extended and return ErrNoSpace instead)
// when `slotIndex` falls past its current allocation.
func (v *Volume) ensureSlot(parentCluster ClusterID, isRoot bool, slotIndex int) (common.BlockID, uint, error) {
	sector, offset, err := v.slotSector(parentCluster, slotIndex)
	if err == nil {
		return sector, offset, nil
	}
	if v.isFixedRoot(parentCluster) {
		return 0, 0, disko.ErrNoSpaceOnDevice.WithMessage("fixed root directory is full")
	}

	startCluster := parentCluster
	if startCluster == 0 {
		startCluster = v.rootDirCluster
	}
	chain, chainErr := v.chain.FollowChain(startCluster)
	if chainErr != nil && len(chain) == 0 {
		return 0, 0, chainErr
	}
	last := ClusterID(0)
	if len(chain) > 0 {
		last = chain[len(chain)-1]
	}
	if _, allocErr := v.chain.CreateChain(last); allocErr != nil {
		return 0, 0, allocErr
	}
	return v.slotSector(parentCluster, slotIndex)
}

func copy8Dot3(dst []byte, shortName string) {
	for i := range dst {
		dst[i] = ' '
	}
	base, ext, _ := strings.Cut(shortName, ".")
	copy(dst[0:8], strings.ToUpper(base))
	copy(dst[8:11], strings.ToUpper(ext))
}

func fatNamesChecksum(raw [11]byte) byte {
	var sum byte
	for _, b := range raw {
		var carry byte
		if sum&1 != 0 {
			carry = 0x80
		}
		sum = carry + (sum >> 1) + b
	}
	return sum
}

func serializeShortDirent(d Dirent, shortBytes [11]byte) []byte {
	data := make([]byte, DirentSize)
	copy(data[0:11], shortBytes[:])
	data[11] = byte(d.AttributeFlags)
	cdate, ctime, chund := partsFromTimestamp(d.Created)
	data[13] = chund
	putUint16(data[14:16], ctime)
	putUint16(data[16:18], cdate)
	adate, _, _ := partsFromTimestamp(d.LastAccessed)
	putUint16(data[18:20], adate)
	mdate, mtime, _ := partsFromTimestamp(d.LastModified)
	putUint16(data[22:24], mtime)
	putUint16(data[24:26], mdate)
	putUint16(data[20:22], uint16(d.FirstCluster>>16))
	putUint16(data[26:28], uint16(d.FirstCluster))
	putUint32(data[28:32], uint32(d.size))
	return data
}

// generateShortNameForDir derives (and if needed, disambiguates) an 8.3 name
// for `longName` against the entries already present in `parentCluster`,
// using the names package's numeric-tail generator.
func generateShortNameForDir(v *Volume, parentCluster ClusterID, isRoot bool, longName string) (string, error) {
	if !names.NeedsLongName(longName) {
		return strings.ToUpper(longName), nil
	}

	existing, err := v.readDirectory(parentCluster, isRoot)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[strings.ToUpper(e.AltName())] = true
	}

	return names.GenerateShortName(longName, func(candidate string) bool { return taken[candidate] })
}

// FSStat implements [disko.DriverImplementation].
func (impl *Implementation) FSStat() disko.FSStat {
	v := impl.Volume
	free, bytesPerCluster, _ := v.Getfree()
	return disko.FSStat{
		BlockSize:       int64(v.boot.BytesPerSector),
		TotalBlocks:     uint64(v.device.TotalBlocks),
		BlocksFree:      uint64(free) * uint64(bytesPerCluster) / uint64(v.boot.BytesPerSector),
		BlocksAvailable: uint64(free) * uint64(bytesPerCluster) / uint64(v.boot.BytesPerSector),
		MaxNameLength:   255,
		Label:           v.Getlabel(),
	}
}

// fatEpoch is the earliest timestamp representable by the on-disk FAT date
// format (1980-01-01), used by [fatFeatures.TimestampEpoch].
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// fatFeatures is a concrete [disko.FSFeatures] for FAT12/16/32. Long names
// are reported as a directory feature (not a separate capability bit: the
// interface has none) since [Dirent.Name] already surfaces them
// transparently.
type fatFeatures struct{}

func (fatFeatures) HasDirectories() bool      { return true }
func (fatFeatures) HasSymbolicLinks() bool    { return false }
func (fatFeatures) HasHardLinks() bool        { return false }
func (fatFeatures) HasCreatedTime() bool      { return true }
func (fatFeatures) HasAccessedTime() bool     { return true }
func (fatFeatures) HasModifiedTime() bool     { return true }
func (fatFeatures) HasChangedTime() bool      { return false }
func (fatFeatures) HasDeletedTime() bool      { return false }
func (fatFeatures) HasUnixPermissions() bool  { return false }
func (fatFeatures) HasUserID() bool           { return false }
func (fatFeatures) HasGroupID() bool          { return false }
func (fatFeatures) HasUserPermissions() bool  { return false }
func (fatFeatures) HasGroupPermissions() bool { return false }
func (fatFeatures) TimestampEpoch() time.Time { return fatEpoch }
func (fatFeatures) DefaultNameEncoding() string { return "cp437" }
func (fatFeatures) SupportsBootCode() bool      { return true }
func (fatFeatures) MaxBootCodeSize() int        { return 448 }
func (fatFeatures) DefaultBlockSize() int       { return 512 }

// GetFSFeatures implements [disko.DriverImplementation].
func (impl *Implementation) GetFSFeatures() disko.FSFeatures {
	return fatFeatures{}
}

// FormatImage implements [disko.DriverImplementation]. This driver does not
// format images: it writes nothing and always returns
// [disko.ErrNotImplemented].
func (impl *Implementation) FormatImage(image io.ReadWriteSeeker, stat disko.FSStat) disko.DriverError {
	return disko.ErrNotImplemented
}

// SetBootCode implements [disko.DriverImplementation]: it writes machine
// code into the boot sector's code area (bytes 62 onward on FAT12/16, 90
// onward on FAT32), which NewFATBootSectorFromStream never needs to parse
// since it's opaque to the driver.
func (impl *Implementation) SetBootCode(code []byte) disko.DriverError {
	v := impl.Volume
	codeOffset := 62
	if v.boot.FATVersion == 32 {
		codeOffset = 90
	}
	maxLen := 510 - codeOffset
	if len(code) > maxLen {
		return disko.ErrArgumentOutOfRange.WithMessage("boot code too large for reserved area")
	}

	sector, err := v.device.Read(0, 1)
	if err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	copy(sector[codeOffset:], code)
	if err := v.device.Write(0, sector); err != nil {
		return disko.ErrIOFailed.Wrap(err)
	}
	return nil
}

// GetBootCode implements [disko.DriverImplementation].
func (impl *Implementation) GetBootCode() ([]byte, disko.DriverError) {
	v := impl.Volume
	codeOffset := 62
	if v.boot.FATVersion == 32 {
		codeOffset = 90
	}

	sector, err := v.device.Read(0, 1)
	if err != nil {
		return nil, disko.ErrIOFailed.Wrap(err)
	}
	return append([]byte{}, sector[codeOffset:510]...), nil
}
