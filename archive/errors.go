package archive

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Every failure returned by this package matches exactly one of them via errors.Is.
var (
	// ErrConfiguration is an invalid segment length, directory or sync level.
	ErrConfiguration = errors.New("archive configuration error")
	// ErrIOFailure is a segment file that could not be created, sized, written or synced.
	ErrIOFailure = errors.New("archive i/o failure")
	// ErrAbortedWrite is a write interrupted part way through a block. The recording is
	// truncated at the last durable offset.
	ErrAbortedWrite = errors.New("archive write aborted")
)

var (
	ErrUnknownRecording = errors.New("unknown recording")
	ErrRecordingActive  = errors.New("recording already active")
	ErrInvalidReplay    = errors.New("invalid replay request")
	ErrUnknownReplay    = errors.New("unknown replay session")
)

// SegmentError is a failure on one segment file.
type SegmentError struct {
	Kind error
	Path string
	Err  error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *SegmentError) Is(target error) bool {
	return target == e.Kind
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

const (
	minSegmentFileLength = 64 * 1024
	maxSegmentFileLength = 1024 * 1024 * 1024
)

// ValidateSegmentFileLength checks that a segment length is a power of two within
// [64KiB, 1GiB] holding a whole number of terms.
func ValidateSegmentFileLength(segmentLength, termLength int) error {
	if segmentLength < minSegmentFileLength || segmentLength > maxSegmentFileLength {
		return errors.Wrapf(ErrConfiguration, "segment file length %d out of range [%d, %d]",
			segmentLength, minSegmentFileLength, maxSegmentFileLength)
	}
	if segmentLength&(segmentLength-1) != 0 {
		return errors.Wrapf(ErrConfiguration, "segment file length %d is not a power of two", segmentLength)
	}
	if termLength <= 0 || segmentLength%termLength != 0 {
		return errors.Wrapf(ErrConfiguration, "segment file length %d is not a multiple of term length %d",
			segmentLength, termLength)
	}
	return nil
}

// ValidateFileSyncLevel checks the durability level is 0, 1 or 2.
func ValidateFileSyncLevel(level int) error {
	if level < 0 || level > 2 {
		return errors.Wrapf(ErrConfiguration, "file sync level %d not in [0, 2]", level)
	}
	return nil
}
