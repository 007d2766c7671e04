//go:build linux

package archive

import (
	"golang.org/x/sys/unix"
)

type fdFile interface {
	Fd() uintptr
}

// syncData forces file data, and only the metadata needed to read it back, to disk.
func syncData(f SegmentFile) error {
	if fd, ok := f.(fdFile); ok {
		return unix.Fdatasync(int(fd.Fd()))
	}
	return f.Sync()
}

// preallocate reserves size bytes of disk blocks for f.
func preallocate(f SegmentFile, size int64) error {
	fd, ok := f.(fdFile)
	if !ok {
		return unix.EOPNOTSUPP
	}
	return unix.Fallocate(int(fd.Fd()), 0, 0, size)
}
