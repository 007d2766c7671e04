package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/alpacahq/streamarchive/archive/segment"
	"github.com/alpacahq/streamarchive/metrics"
	utilio "github.com/alpacahq/streamarchive/utils/io"
	"github.com/alpacahq/streamarchive/utils/log"
)

// Durability levels.
const (
	// SyncNone leaves flushing to the operating system.
	SyncNone = 0
	// SyncData forces file data after every block.
	SyncData = 1
	// SyncMetadata forces file data and metadata after every block.
	SyncMetadata = 2
)

// SegmentFile is the part of *os.File the writer uses.
type SegmentFile interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
	Sync() error
	Close() error
}

// OpenFileFunc opens a segment file. os.OpenFile satisfies it through OSOpenFile.
type OpenFileFunc func(name string, flag int, perm os.FileMode) (SegmentFile, error)

// OSOpenFile opens segment files with os.OpenFile.
func OSOpenFile(name string, flag int, perm os.FileMode) (SegmentFile, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type WriterConfig struct {
	ArchiveDir    string
	FileSyncLevel int
	// SparseFiles sizes new segments with truncate instead of allocating their blocks.
	SparseFiles bool
	// OpenFile defaults to OSOpenFile.
	OpenFile OpenFileFunc
}

// openSegment is the single segment file a writer appends to. It is replaced, never reused,
// when the writer rolls over to the next index.
type openSegment struct {
	index  int
	offset int
	path   string
	file   SegmentFile
}

// RecordingWriter appends a recording's blocks to fixed-size segment files in the archive
// directory, rolling over to the next segment whenever the current one is full.
//
// A writer is driven from a single goroutine. Any write failure closes it for good; recording
// resumes with a new writer positioned at the last durable offset.
type RecordingWriter struct {
	ctx           context.Context
	recordingID   int64
	startPosition int64
	segmentLength int
	cfg           WriterConfig

	initialIndex int
	seg          *openSegment
	closed       bool
}

// NewRecordingWriter creates a writer for recordingID whose first block lands at joinPosition.
// Cancelling ctx aborts the write in progress.
func NewRecordingWriter(ctx context.Context, recordingID, startPosition, joinPosition int64,
	segmentLength int, cfg WriterConfig,
) (*RecordingWriter, error) {
	if segmentLength <= 0 || segmentLength&(segmentLength-1) != 0 {
		return nil, errors.Wrapf(ErrConfiguration, "segment length %d is not a power of two", segmentLength)
	}
	if joinPosition < startPosition {
		return nil, errors.Wrapf(ErrConfiguration, "join position %d before start position %d",
			joinPosition, startPosition)
	}
	if err := ValidateFileSyncLevel(cfg.FileSyncLevel); err != nil {
		return nil, err
	}
	if cfg.ArchiveDir == "" {
		return nil, errors.Wrap(ErrConfiguration, "empty archive directory")
	}
	if fi, err := os.Stat(cfg.ArchiveDir); err != nil || !fi.IsDir() {
		return nil, errors.Wrapf(ErrConfiguration, "archive directory %s is not a directory", cfg.ArchiveDir)
	}
	if cfg.OpenFile == nil {
		cfg.OpenFile = OSOpenFile
	}
	return &RecordingWriter{
		ctx:           ctx,
		recordingID:   recordingID,
		startPosition: startPosition,
		segmentLength: segmentLength,
		cfg:           cfg,
		initialIndex:  segment.Index(startPosition, joinPosition, segmentLength),
	}, nil
}

// Init opens, creating and sizing it if needed, the segment for the join position and seeks
// to segmentOffset within it.
func (w *RecordingWriter) Init(segmentOffset int) error {
	if w.closed {
		return errors.Wrap(ErrIOFailure, "recording writer is closed")
	}
	if w.seg != nil {
		return nil
	}
	if segmentOffset < 0 || segmentOffset > w.segmentLength {
		w.fail(ErrConfiguration)
		return errors.Wrapf(ErrConfiguration, "segment offset %d out of [0, %d]", segmentOffset, w.segmentLength)
	}
	seg, err := w.openSegment(w.initialIndex)
	if err != nil {
		w.fail(ErrIOFailure)
		return err
	}
	w.seg = seg
	if _, err := seg.file.Seek(int64(segmentOffset), io.SeekStart); err != nil {
		w.fail(ErrIOFailure)
		return &SegmentError{Kind: ErrIOFailure, Path: seg.path, Err: err}
	}
	seg.offset = segmentOffset
	log.Debug("recording %d writing %s from offset %d", w.recordingID, seg.path, segmentOffset)
	return nil
}

// OnBlock appends buf[offset:offset+length] to the open segment. Blocks must arrive in
// contiguous position order; a block never spans two segments. A block that does not fit in
// what is left of the segment is written at the start of the next one, leaving the tail of
// the previous segment zeroed, so Position only tracks the stream position while blocks stay
// within a term and the segment length is a whole number of terms, as the archive's are.
func (w *RecordingWriter) OnBlock(buf []byte, offset, length int, sessionID, termID int32) error {
	if w.closed {
		return errors.Wrap(ErrIOFailure, "recording writer is closed")
	}
	if w.seg == nil {
		return errors.Wrap(ErrIOFailure, "recording writer is not initialised")
	}

	if length > w.segmentLength {
		path := w.seg.path
		w.fail(ErrIOFailure)
		return &SegmentError{Kind: ErrIOFailure, Path: path, Err: fmt.Errorf(
			"block of %d bytes exceeds segment length (session=%d, term=%d)", length, sessionID, termID)}
	}
	// a full segment, or one without room for the whole block, is left for the next index
	if w.seg.offset+length > w.segmentLength {
		if err := w.rollover(); err != nil {
			return err
		}
	}

	data := buf[offset : offset+length]
	for len(data) > 0 {
		if err := w.ctx.Err(); err != nil {
			return w.writeFailed(err)
		}
		n, err := w.seg.file.Write(data)
		if err != nil {
			return w.writeFailed(err)
		}
		if n == 0 {
			return w.writeFailed(io.ErrShortWrite)
		}
		data = data[n:]
	}

	if err := w.force(); err != nil {
		return w.writeFailed(err)
	}
	w.seg.offset += length
	metrics.RecordedBytesTotal.Add(float64(length))
	return nil
}

func (w *RecordingWriter) force() error {
	switch w.cfg.FileSyncLevel {
	case SyncData:
		return syncData(w.seg.file)
	case SyncMetadata:
		return w.seg.file.Sync()
	}
	return nil
}

func (w *RecordingWriter) rollover() error {
	if err := w.seg.file.Close(); err != nil {
		path := w.seg.path
		w.seg = nil
		w.fail(ErrIOFailure)
		return &SegmentError{Kind: ErrIOFailure, Path: path, Err: err}
	}
	next, err := w.openSegment(w.seg.index + 1)
	w.seg = nil
	if err != nil {
		w.fail(ErrIOFailure)
		return err
	}
	w.seg = next
	metrics.SegmentRolloversTotal.Inc()
	log.Debug("recording %d rolled over to %s", w.recordingID, next.path)
	return nil
}

func (w *RecordingWriter) openSegment(index int) (*openSegment, error) {
	path := filepath.Join(w.cfg.ArchiveDir, segment.FileName(w.recordingID, index))
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}
	f, err := w.cfg.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &SegmentError{Kind: ErrIOFailure, Path: path, Err: err}
	}
	// an existing segment may have been left short by a crash before it was sized
	if err := w.size(f); err != nil {
		_ = f.Close()
		return nil, &SegmentError{Kind: ErrIOFailure, Path: path, Err: err}
	}
	if created {
		if w.cfg.FileSyncLevel > SyncNone {
			if err := utilio.SyncDir(w.cfg.ArchiveDir); err != nil {
				_ = f.Close()
				return nil, &SegmentError{Kind: ErrIOFailure, Path: path, Err: err}
			}
		}
	}
	return &openSegment{index: index, path: path, file: f}, nil
}

func (w *RecordingWriter) size(f SegmentFile) error {
	if !w.cfg.SparseFiles {
		if err := preallocate(f, int64(w.segmentLength)); err == nil {
			return nil
		}
	}
	return f.Truncate(int64(w.segmentLength))
}

// writeFailed closes the writer and classifies err. Cancellation and closed or interrupted
// file handles abort the write, everything else is an i/o failure.
func (w *RecordingWriter) writeFailed(err error) error {
	kind := ErrIOFailure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EINTR) {
		kind = ErrAbortedWrite
	}
	path := w.seg.path
	w.fail(kind)
	return &SegmentError{Kind: kind, Path: path, Err: err}
}

func (w *RecordingWriter) fail(kind error) {
	label := "io"
	switch kind {
	case ErrAbortedWrite:
		label = "aborted"
	case ErrConfiguration:
		label = "configuration"
	}
	metrics.WriterFailuresTotal.WithLabelValues(label).Inc()
	log.Error("recording %d writer failed: %v", w.recordingID, kind)
	_ = w.Close()
}

func (w *RecordingWriter) SegmentFileLength() int {
	return w.segmentLength
}

// Close releases the open segment. It is safe to call more than once.
func (w *RecordingWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.seg == nil {
		return nil
	}
	err := w.seg.file.Close()
	w.seg = nil
	return err
}

func (w *RecordingWriter) IsClosed() bool {
	return w.closed
}

// SegmentIndex is the index of the open segment, or -1 before Init and after Close.
func (w *RecordingWriter) SegmentIndex() int {
	if w.seg == nil {
		return -1
	}
	return w.seg.index
}

// Position is the stream position the next block is written at, or -1 when not open.
func (w *RecordingWriter) Position() int64 {
	if w.seg == nil {
		return -1
	}
	return segment.BasePosition(w.startPosition, w.segmentLength) +
		int64(w.seg.index)*int64(w.segmentLength) + int64(w.seg.offset)
}
