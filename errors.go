package disko

import (
	"syscall"
)

// DriverError is a wrapper around system errno codes, with a customizable
// error message. `label` is the short, capitalized description fixed to a
// particular sentinel (e.g. "File exists"); `message` is an optional, more
// specific detail attached by [DriverError.WithMessage] or [DriverError.Wrap].
type DriverError struct {
	ErrnoCode syscall.Errno
	label     string
	message   string
	wrapped   error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e DriverError) Error() string {
	text := e.label
	if text == "" {
		text = e.ErrnoCode.Error()
	}
	if e.message != "" {
		text += ": " + e.message
	}
	return text
}

// Is lets [errors.Is] match a DriverError against one of the sentinel values
// below by comparing the wrapped errno code, regardless of the (possibly
// more specific) message attached to either side.
func (e DriverError) Is(target error) bool {
	other, ok := target.(DriverError)
	if !ok {
		otherPtr, ok := target.(*DriverError)
		if !ok {
			return false
		}
		other = *otherPtr
	}
	return e.ErrnoCode == other.ErrnoCode
}

// Unwrap lets [errors.Is] and [errors.As] see through to whatever lower-level
// error this one was built from, if any, and otherwise falls back to the
// errno code itself so comparisons against e.g. [syscall.ENOENT] still work.
func (e DriverError) Unwrap() error {
	if e.wrapped != nil {
		return e.wrapped
	}
	return e.ErrnoCode
}

// Errno returns the POSIX errno code this error wraps.
func (e DriverError) Errno() syscall.Errno {
	return e.ErrnoCode
}

// WithMessage returns a copy of this error with a more specific detail
// appended after its label, e.g. `ErrExists.WithMessage("foo.txt")` produces
// "File exists: foo.txt".
func (e DriverError) WithMessage(message string) DriverError {
	return DriverError{ErrnoCode: e.ErrnoCode, label: e.label, message: message}
}

// Wrap returns a copy of this error whose detail is the text of `err`, and
// which [errors.Is]/[errors.As] can still unwrap down to `err` itself. Useful
// for preserving context from a lower layer (e.g. the disk I/O collaborator)
// while still exposing a stable errno code and label to callers.
func (e DriverError) Wrap(err error) DriverError {
	if err == nil {
		return e
	}
	return DriverError{
		ErrnoCode: e.ErrnoCode,
		label:     e.label,
		message:   err.Error(),
		wrapped:   err,
	}
}

// NewDriverError creates a new DriverError with a default message derived from the
// system's error code.
func NewDriverError(errnoCode syscall.Errno) *DriverError {
	return &DriverError{ErrnoCode: errnoCode}
}

// NewDriverErrorWithMessage creates a new DriverError from a system error code with a
// custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) *DriverError {
	return &DriverError{ErrnoCode: errnoCode, message: message}
}

////////////////////////////////////////////////////////////////////////////////
// errno aliases
//
// The FAT/exFAT drivers and the common block/cluster layers refer to errno
// codes directly (e.g. disko.ENOSPC) rather than importing "syscall"
// themselves, matching how the rest of this package already surfaces
// [DriverError] in terms of [syscall.Errno].

const (
	EPERM        = syscall.EPERM
	ENOENT       = syscall.ENOENT
	EIO          = syscall.EIO
	ENXIO        = syscall.ENXIO
	EBADF        = syscall.EBADF
	EAGAIN       = syscall.EAGAIN
	ENOMEM       = syscall.ENOMEM
	EACCES       = syscall.EACCES
	EEXIST       = syscall.EEXIST
	ENODEV       = syscall.ENODEV
	ENOTDIR      = syscall.ENOTDIR
	EISDIR       = syscall.EISDIR
	EINVAL       = syscall.EINVAL
	ENOSPC       = syscall.ENOSPC
	EROFS        = syscall.EROFS
	ERANGE       = syscall.ERANGE
	ENAMETOOLONG = syscall.ENAMETOOLONG
	ENOTEMPTY    = syscall.ENOTEMPTY
	ELOOP        = syscall.ELOOP
	ENOSYS       = syscall.ENOSYS
	EALREADY     = syscall.EALREADY
	EWOULDBLOCK  = syscall.EWOULDBLOCK
	ETIMEDOUT    = syscall.ETIMEDOUT
	ECANCELED    = syscall.ECANCELED
	EMFILE       = syscall.EMFILE
	EFBIG        = syscall.EFBIG
	EBUSY        = syscall.EBUSY
	E2BIG        = syscall.E2BIG
	EMEDIUMTYPE  = syscall.EMEDIUMTYPE
	// EUCLEAN stands in for the specification's INT_ERR sentinel. Not every
	// GOOS defines it in package syscall, so it's pinned to its well-known
	// Linux value rather than aliased.
	EUCLEAN = syscall.Errno(0x7d)
)

////////////////////////////////////////////////////////////////////////////////
// Sentinel errors
//
// These correspond to the result codes enumerated in the specification's
// error handling design: each wraps the nearest POSIX errno so existing
// errno-based callers keep working, while letting new code use
// errors.Is(err, disko.ErrNotFound) instead of comparing errno values by hand.

var ErrNotFound = DriverError{ErrnoCode: ENOENT, label: "No such file or directory"}
var ErrNotADirectory = DriverError{ErrnoCode: ENOTDIR, label: "Not a directory"}
var ErrIsADirectory = DriverError{ErrnoCode: EISDIR, label: "Is a directory"}
var ErrExists = DriverError{ErrnoCode: EEXIST, label: "File exists"}
var ErrDirectoryNotEmpty = DriverError{ErrnoCode: ENOTEMPTY, label: "Directory not empty"}
var ErrInvalidArgument = DriverError{ErrnoCode: EINVAL, label: "Invalid argument"}
var ErrInvalidName = DriverError{ErrnoCode: EINVAL, label: "Invalid name"}
var ErrPermissionDenied = DriverError{ErrnoCode: EACCES, label: "Permission denied"}
var ErrReadOnlyFileSystem = DriverError{ErrnoCode: EROFS, label: "Read-only file system"}
var ErrLinkCycleDetected = DriverError{ErrnoCode: ELOOP, label: "Too many levels of symbolic links"}
var ErrIOFailed = DriverError{ErrnoCode: EIO, label: "Input/output error"}
var ErrNotSupported = DriverError{ErrnoCode: ENOSYS, label: "Operation not supported"}
var ErrNoSpace = DriverError{ErrnoCode: ENOSPC, label: "No space left on device"}

// ErrInternal corresponds to the specification's INT_ERR: an invariant was
// violated (a FAT chain cycle, an impossible cluster value, a checksum
// mismatch in an exFAT entry set). The volume should be treated as suspect
// once this is observed.
var ErrInternal = DriverError{ErrnoCode: EUCLEAN, label: "Internal consistency error"}

// ErrNotEnabled corresponds to NOT_ENABLED: the volume has no work area bound.
var ErrNotEnabled = DriverError{ErrnoCode: ENODEV, label: "Volume has no work area"}

// ErrNoFileSystem corresponds to NO_FILESYSTEM: the recognizer could not
// classify the boot sector as any supported variant.
var ErrNoFileSystem = DriverError{ErrnoCode: EINVAL, label: "No recognized file system"}

// ErrMkfsAborted corresponds to MKFS_ABORTED.
var ErrMkfsAborted = DriverError{ErrnoCode: ECANCELED, label: "Format precondition failed"}

// ErrTimeout corresponds to TIMEOUT: the reentrancy mutex could not be
// acquired within its configured deadline.
var ErrTimeout = DriverError{ErrnoCode: ETIMEDOUT, label: "Timed out waiting for volume lock"}

// ErrLocked corresponds to LOCKED: the file-sharing table rejected this open
// because of a reader/writer conflict on the same file.
var ErrLocked = DriverError{ErrnoCode: EWOULDBLOCK, label: "File is locked by another open handle"}

// ErrNotEnoughCore corresponds to NOT_ENOUGH_CORE: caller-supplied scratch
// space (LFN buffer, exFAT dirent-block buffer) was undersized.
var ErrNotEnoughCore = DriverError{ErrnoCode: ENOMEM, label: "Caller-supplied buffer too small"}

// ErrTooManyOpenFiles corresponds to TOO_MANY_OPEN_FILES: the file-sharing
// table's lock slots are exhausted.
var ErrTooManyOpenFiles = DriverError{ErrnoCode: EMFILE, label: "Too many open files"}

// ErrInvalidObject corresponds to INVALID_OBJECT: the object's mount
// generation id no longer matches its volume's, or it was never initialized.
var ErrInvalidObject = DriverError{ErrnoCode: EBADF, label: "File or directory object is stale or uninitialized"}

// ErrNotReady corresponds to NOT_READY: the disk I/O collaborator reports the
// drive is not present.
var ErrNotReady = DriverError{ErrnoCode: ENXIO, label: "Drive not ready"}

// ErrInvalidDrive corresponds to INVALID_DRIVE: no volume is bound to the
// requested logical drive number.
var ErrInvalidDrive = DriverError{ErrnoCode: ENODEV, label: "Invalid logical drive"}

////////////////////////////////////////////////////////////////////////////////
// Additional sentinels used by the block/stream/cluster plumbing layers. These
// don't map onto a single ff.h result code the way the ones above do, but they
// follow the same wrap-an-errno shape.

// ErrNotPermitted corresponds to EPERM: the operation isn't allowed given the
// permissions the handle, or the mount itself, was opened with.
var ErrNotPermitted = DriverError{ErrnoCode: EPERM, label: "Operation not permitted"}

// ErrNotImplemented marks functionality that is a legitimate part of the
// driver surface but hasn't been written yet, as distinct from
// [ErrNotSupported], which means the file system format itself has no
// equivalent feature.
var ErrNotImplemented = DriverError{ErrnoCode: ENOSYS, label: "Not implemented"}

// ErrFileTooLarge corresponds to EFBIG: the requested size exceeds what the
// file system's addressing scheme (cluster chain length, 32-bit size field)
// can represent.
var ErrFileTooLarge = DriverError{ErrnoCode: EFBIG, label: "File too large"}

// ErrNoSpaceOnDevice is a synonym for [ErrNoSpace] used by the block cache and
// allocator layers.
var ErrNoSpaceOnDevice = ErrNoSpace

// ErrArgumentOutOfRange corresponds to EINVAL: a numeric argument (block
// index, cluster number, byte count) fell outside the range the callee can
// service.
var ErrArgumentOutOfRange = DriverError{ErrnoCode: EINVAL, label: "Argument out of range"}

// ErrBlockDeviceRequired is returned when an operation needs random access to
// the backing store (e.g. resizing in place) but was only given a stream.
var ErrBlockDeviceRequired = DriverError{ErrnoCode: EINVAL, label: "Block device required"}

// ErrBusy corresponds to EBUSY: the resource (volume, file lock slot) is
// currently in use by another operation.
var ErrBusy = DriverError{ErrnoCode: EBUSY, label: "Resource busy"}

// ErrAlreadyInProgress corresponds to EALREADY: a long-running operation
// (format, mount) was requested a second time before the first finished.
var ErrAlreadyInProgress = DriverError{ErrnoCode: EALREADY, label: "Operation already in progress"}

// ErrFileSystemCorrupted corresponds to the specification's internal
// consistency class of errors, but specifically for damage discovered while
// walking on-disk metadata (a directory entry pointing at a free cluster, a
// boot sector with an impossible geometry) rather than a runtime invariant
// violation.
var ErrFileSystemCorrupted = DriverError{ErrnoCode: EUCLEAN, label: "File system metadata is corrupted"}
