package driver

import "github.com/dargueta/diskofat"

// extObjectHandle is a [disko.ObjectHandle] that also remembers the absolute
// path used to reach it. The path resolver needs this so it doesn't have to
// reconstruct a full path every time it descends into a child object.
type extObjectHandle interface {
	disko.ObjectHandle
	AbsolutePath() string
}

// tExtObjectHandle adapts a driver-supplied [disko.ObjectHandle], which knows
// nothing about paths, into an [extObjectHandle].
type tExtObjectHandle struct {
	disko.ObjectHandle
	absolutePath string
}

// wrapObjectHandle pairs a bare [disko.ObjectHandle] with the absolute path
// that was used to reach it, so the path resolver doesn't have to recompute
// it on every subsequent operation against the same object.
func wrapObjectHandle(handle disko.ObjectHandle, absolutePath string) extObjectHandle {
	if already, ok := handle.(extObjectHandle); ok && already.AbsolutePath() == absolutePath {
		return already
	}
	return &tExtObjectHandle{
		ObjectHandle: handle,
		absolutePath: absolutePath,
	}
}

func (xh *tExtObjectHandle) AbsolutePath() string {
	return xh.absolutePath
}

// SameAs reports whether two handles refer to the same on-disk object,
// independent of the path(s) used to reach them, by comparing inode numbers.
// Only another [extObjectHandle] can compare equal; any other handle,
// including a bare driver handle, reports false.
func (xh *tExtObjectHandle) SameAs(other disko.ObjectHandle) bool {
	otherExt, ok := other.(extObjectHandle)
	if !ok {
		return false
	}
	return xh.Stat().InodeNumber == otherExt.Stat().InodeNumber
}
