//go:build !linux

package archive

import "github.com/pkg/errors"

func syncData(f SegmentFile) error {
	return f.Sync()
}

func preallocate(SegmentFile, int64) error {
	return errors.New("preallocation not supported")
}
