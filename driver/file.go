package driver

import (
	"io"
	"os"
	posixpath "path"
	"time"

	"github.com/dargueta/diskofat"
	"github.com/dargueta/diskofat/file_systems/common"
	"github.com/dargueta/diskofat/file_systems/common/basicstream"
	"github.com/dargueta/diskofat/file_systems/common/blockcache"
)

// FileInfo gives detailed information about a file or directory. It implements
// both the [os.FileInfo] and [os.DirEntry] interfaces, and can be used as a
// [disko.FileStat] object as well.
type FileInfo struct {
	// Interfaces
	os.FileInfo
	disko.DirectoryEntry

	// Embedded structs
	disko.FileStat

	// Fields
	absolutePath string
}

// os.FileInfo implementation --------------------------------------------------

// Mode returns the mode flags for the file or directory. It's functionally
// identical to Type(), but used to implement the [os.FileInfo] interface.
func (info FileInfo) Mode() os.FileMode {
	return info.FileStat.ModeFlags
}

func (info *FileInfo) Size() int64 {
	return info.FileStat.Size
}

// ModTime returns the timestamp of when the file was last modified. If the file
// system doesn't record this information, implementations MUST return zero time
func (info FileInfo) ModTime() time.Time {
	return info.FileStat.LastModified
}

func (info *FileInfo) Sys() interface{} {
	return info.FileStat
}

// os.DirEntry implementation --------------------------------------------------

func (info *FileInfo) Name() string {
	return posixpath.Base(info.absolutePath)
}

// Type returns the mode flags for the file or directory. It's functionally
// identical to Mode(), but used to implement the [os.DirEntry] interface.
func (info *FileInfo) Type() os.FileMode {
	return info.FileStat.ModeFlags
}

func (info FileInfo) IsDir() bool {
	return info.FileStat.ModeFlags&os.ModeDir != 0
}

// Info is part of the [os.DirEntry] interface. It returns the `FileInfo` it was
// called on, since that implements both interfaces.
func (info *FileInfo) Info() (os.FileInfo, error) {
	return info, nil
}

// disko.DirectoryEntry methods ------------------------------------------------

func (info *FileInfo) Stat() disko.FileStat {
	return info.FileStat
}

////////////////////////////////////////////////////////////////////////////////

type File struct {
	// Embed
	*basicstream.BasicStream

	// Fields
	owningDriver *Driver
	objectHandle extObjectHandle
	fileInfo     FileInfo
	ioFlags      disko.IOFlags

	lastReadDirResult    []disko.DirectoryEntry
	readDirResultPointer int
}

// NewFileFromObjectHandle creates a Disko file object that is (more or less) a
// drop-in replacement for [os.File].
func NewFileFromObjectHandle(
	driver *Driver,
	object extObjectHandle,
	ioFlags disko.IOFlags,
) (File, error) {
	fetchCb := func(index common.LogicalBlock, buffer []byte) error {
		return object.ReadBlocks(index, buffer)
	}
	flushCb := func(index common.LogicalBlock, buffer []byte) error {
		return object.WriteBlocks(index, buffer)
	}
	resizeCb := func(newSize common.LogicalBlock) error {
		return object.Resize(uint64(newSize))
	}

	stat := object.Stat()
	blockCache := blockcache.New(
		uint(stat.BlockSize),
		uint(stat.NumBlocks),
		fetchCb,
		flushCb,
		resizeCb,
	)

	stream, err := basicstream.New(stat.Size, blockCache, ioFlags)
	if err != nil {
		return File{}, err
	}

	return File{
		owningDriver: driver,
		objectHandle: object,
		ioFlags:      ioFlags,
		BasicStream:  stream,
		fileInfo: FileInfo{
			FileStat:     stat,
			absolutePath: object.AbsolutePath(),
		},
	}, nil
}

func (file *File) Chdir() error {
	return file.owningDriver.chdirToObject(file.objectHandle)
}

func (file *File) Chmod(mode os.FileMode) error {
	return file.objectHandle.Chmod(mode)
}

func (file *File) Chown(uid, gid int) error {
	return file.objectHandle.Chown(uid, gid)
}

func (file *File) Close() error {
	return file.BasicStream.Close()
}

func (file *File) Name() string {
	return file.objectHandle.Name()
}

func (file *File) ReadDir(n int) ([]os.DirEntry, error) {
	stat := file.objectHandle.Stat()
	if !stat.IsDir() {
		return nil, disko.ErrNotADirectory
	}

	if file.lastReadDirResult == nil {
		// The function has never been called or was exhausted on a previous
		// call. Read the contents of the directory and set up the queue.
		entries, err := file.owningDriver.readDir(file.objectHandle)
		if err != nil {
			return nil, err
		}

		file.lastReadDirResult = entries
		file.readDirResultPointer = 0
	}

	entriesRemaining := len(file.lastReadDirResult) - file.readDirResultPointer
	var numToCopy int
	if n <= 0 || n > entriesRemaining {
		numToCopy = entriesRemaining
	} else {
		numToCopy = n
	}

	result := make([]os.DirEntry, numToCopy)

	// If there are no entries remaining, return an empty slice and io.EOF.
	if entriesRemaining == 0 {
		file.lastReadDirResult = nil
		file.readDirResultPointer = 0
		return result, io.EOF
	}

	// TODO (dargueta): Is there a way to use copy() for a slice of a superset interface?
	// It shouldn't be a performance problem but this feels clunky.
	for i := 0; i < numToCopy; i++ {
		result[i] = file.lastReadDirResult[file.readDirResultPointer]
		file.readDirResultPointer++
	}
	return result, nil
}

func (file *File) Readdir(n int) ([]os.FileInfo, error) {
	dirents, err := file.ReadDir(n)
	if err == io.EOF {
		// If we hit EOF, return an empty slice, not nil.
		return make([]os.FileInfo, 0), err
	} else if err != nil {
		// Unknown error
		return nil, err
	}

	infoList := make([]os.FileInfo, len(dirents))
	for i, dirent := range dirents {
		infoList[i], err = dirent.Info()
		if err != nil {
			// Hit an error, return what we have so far instead of tossing the
			// entire result.
			return infoList[:i], err
		}
	}
	return infoList, nil
}

func (file *File) Readdirnames(n int) ([]string, error) {
	dirents, err := file.ReadDir(n)
	if err == io.EOF {
		// If we hit EOF, return an empty slice not nil.
		return make([]string, 0), err
	} else if err != nil {
		// Unknown error
		return nil, err
	}

	names := make([]string, len(dirents))
	for i, dirent := range dirents {
		names[i] = dirent.Name()
	}
	return names, nil
}

func (file *File) Stat() (os.FileInfo, error) {
	return file.fileInfo.Info()
}

// contiguousExpander is implemented by object handles (e.g. [fat.FATObject])
// that can grow their allocation as a single contiguous run instead of an
// ordinary possibly-fragmented chain.
type contiguousExpander interface {
	ExpandContiguous(size uint64) error
}

// Forward streams up to `count` bytes from the file's current read position
// into `out`, advancing the stream the same way reading that many bytes
// would, without requiring the caller to allocate a buffer the size of the
// whole range. This mirrors FatFs's f_forward
// (original_source/source/ff.c), which spools a file straight into a
// device driver's own buffer instead of materializing it first.
func (file *File) Forward(out io.Writer, count int64) (int64, error) {
	return io.CopyN(out, file.BasicStream, count)
}

// Expand pre-allocates `size` bytes for the file up front instead of one
// cluster at a time as writes arrive, mirroring FatFs's f_expand. When
// `contiguous` is true and the underlying object handle supports it, the
// allocation is requested as a single contiguous run (f_expand's opt==2
// mode); drivers that can't guarantee contiguity fall back to an ordinary
// [disko.ObjectHandle.Resize].
func (file *File) Expand(size int64, contiguous bool) error {
	target := file.underlyingHandle()
	if contiguous {
		if expander, ok := target.(contiguousExpander); ok {
			return expander.ExpandContiguous(uint64(size))
		}
	}
	return file.objectHandle.Resize(uint64(size))
}

// underlyingHandle unwraps the path-tracking [extObjectHandle] wrapper to
// get at the driver-supplied handle underneath, so capability interfaces
// like [contiguousExpander] (which extObjectHandle itself doesn't declare)
// can be type-asserted against the concrete handle.
func (file *File) underlyingHandle() disko.ObjectHandle {
	if wrapped, ok := file.objectHandle.(*tExtObjectHandle); ok {
		return wrapped.ObjectHandle
	}
	return file.objectHandle
}
