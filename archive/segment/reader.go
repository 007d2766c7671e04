package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Reader reads a recording's byte stream by position. It keeps the most recently used segment
// open and is not safe for concurrent use.
type Reader struct {
	dir           string
	recordingID   int64
	startPosition int64
	segmentLength int

	index int
	file  *os.File
}

func NewReader(dir string, recordingID, startPosition int64, segmentLength int) *Reader {
	return &Reader{
		dir:           dir,
		recordingID:   recordingID,
		startPosition: startPosition,
		segmentLength: segmentLength,
		index:         -1,
	}
}

// ReadAt fills p with the bytes starting at stream position. A read never spans two segments,
// so n may be less than len(p) without an error.
func (r *Reader) ReadAt(p []byte, position int64) (int, error) {
	if position < r.startPosition {
		return 0, fmt.Errorf("position %d is before the recording start %d", position, r.startPosition)
	}
	index := Index(r.startPosition, position, r.segmentLength)
	offset := Offset(r.startPosition, position, r.segmentLength)
	if remaining := r.segmentLength - offset; len(p) > remaining {
		p = p[:remaining]
	}
	if err := r.open(index); err != nil {
		return 0, err
	}
	n, err := r.file.ReadAt(p, int64(offset))
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, err
}

func (r *Reader) open(index int) error {
	if r.file != nil && r.index == index {
		return nil
	}
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	path := filepath.Join(r.dir, FileName(r.recordingID, index))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	r.file, r.index = f, index
	return nil
}

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
