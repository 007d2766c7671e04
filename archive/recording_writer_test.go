package archive_test

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/archive/segment"
)

const testSegmentLength = 1024

func newWriter(t *testing.T, ctx context.Context, cfg archive.WriterConfig) *archive.RecordingWriter {
	t.Helper()
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = t.TempDir()
	}
	w, err := archive.NewRecordingWriter(ctx, 1, 0, 0, testSegmentLength, cfg)
	require.Nil(t, err)
	require.Nil(t, w.Init(0))
	return w
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func readSegments(t *testing.T, dir string, recordingID int64) []segment.File {
	t.Helper()
	files, err := segment.NewFinder(os.ReadDir).Find(dir, recordingID)
	require.Nil(t, err)
	return files
}

// shortFile writes at most max bytes per call.
type shortFile struct {
	*os.File
	max int
}

func (f *shortFile) Write(p []byte) (int, error) {
	if len(p) > f.max {
		p = p[:f.max]
	}
	return f.File.Write(p)
}

// failingFile writes half of the first buffer it gets, then fails with err.
type failingFile struct {
	*os.File
	err error
}

func (f *failingFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, f.err
}

func openWith(wrap func(f *os.File) archive.SegmentFile) archive.OpenFileFunc {
	return func(name string, flag int, perm os.FileMode) (archive.SegmentFile, error) {
		f, err := os.OpenFile(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return wrap(f), nil
	}
}

func TestRecordingWriter_FullSegmentsRoundTrip(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		syncLevel int
		sparse    bool
		segments  int
		block     int
	}{
		"sparse/no sync":             {syncLevel: archive.SyncNone, sparse: true, segments: 3, block: 256},
		"allocated/data sync":        {syncLevel: archive.SyncData, sparse: false, segments: 2, block: 128},
		"allocated/metadata sync":    {syncLevel: archive.SyncMetadata, sparse: false, segments: 1, block: 512},
		"sparse/one block a segment": {syncLevel: archive.SyncNone, sparse: true, segments: 4, block: 1024},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			dir := t.TempDir()
			w := newWriter(t, context.Background(), archive.WriterConfig{
				ArchiveDir:    dir,
				FileSyncLevel: tt.syncLevel,
				SparseFiles:   tt.sparse,
			})
			input := randomBytes(tt.segments * testSegmentLength)

			// --- when ---
			for off := 0; off < len(input); off += tt.block {
				require.Nil(t, w.OnBlock(input, off, tt.block, 5, int32(off/tt.block)))
			}
			require.Nil(t, w.Close())

			// --- then ---
			files := readSegments(t, dir, 1)
			require.Len(t, files, tt.segments)
			var got []byte
			for i, f := range files {
				assert.Equal(t, i, f.Index)
				assert.Equal(t, int64(testSegmentLength), f.Size)
				b, err := os.ReadFile(f.Path)
				require.Nil(t, err)
				got = append(got, b...)
			}
			assert.True(t, bytes.Equal(input, got))
		})
	}
}

func TestRecordingWriter_RollsOverWhenBlockDoesNotFit(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	w := newWriter(t, context.Background(), archive.WriterConfig{ArchiveDir: dir, SparseFiles: true})
	first := randomBytes(testSegmentLength - 10)
	second := randomBytes(20)

	// --- when ---
	require.Nil(t, w.OnBlock(first, 0, len(first), 0, 0))
	assert.Equal(t, 0, w.SegmentIndex())
	require.Nil(t, w.OnBlock(second, 0, len(second), 0, 0))

	// --- then ---
	assert.Equal(t, 1, w.SegmentIndex())
	assert.Equal(t, int64(testSegmentLength+20), w.Position())
	require.Nil(t, w.Close())
	seg1, err := os.ReadFile(filepath.Join(dir, segment.FileName(1, 1)))
	require.Nil(t, err)
	assert.Equal(t, second, seg1[:20])
	// the tail the second block skipped stays zeroed
	seg0, err := os.ReadFile(filepath.Join(dir, segment.FileName(1, 0)))
	require.Nil(t, err)
	assert.Equal(t, first, seg0[:len(first)])
	assert.Equal(t, make([]byte, 10), seg0[len(first):])
}

func TestRecordingWriter_ShortWrites(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	w := newWriter(t, context.Background(), archive.WriterConfig{
		ArchiveDir:  dir,
		SparseFiles: true,
		OpenFile: openWith(func(f *os.File) archive.SegmentFile {
			return &shortFile{File: f, max: 7}
		}),
	})
	input := randomBytes(2 * testSegmentLength)

	// --- when ---
	for off := 0; off < len(input); off += 100 {
		n := 100
		if off+n > len(input) {
			n = len(input) - off
		}
		// 100 byte blocks do not divide the segment, the tail of each segment stays empty
		require.Nil(t, w.OnBlock(input, off, n, 0, 0))
	}

	// --- then ---
	assert.False(t, w.IsClosed())
	require.Nil(t, w.Close())
	seg0, err := os.ReadFile(filepath.Join(dir, segment.FileName(1, 0)))
	require.Nil(t, err)
	assert.Equal(t, input[:1000], seg0[:1000])
}

func TestRecordingWriter_Failures(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		openFile archive.OpenFileFunc
		cancel   bool
		wantKind error
	}{
		"aborted/context canceled": {
			cancel:   true,
			wantKind: archive.ErrAbortedWrite,
		},
		"aborted/file closed mid-write": {
			openFile: openWith(func(f *os.File) archive.SegmentFile {
				return &failingFile{File: f, err: os.ErrClosed}
			}),
			wantKind: archive.ErrAbortedWrite,
		},
		"io failure/disk full": {
			openFile: openWith(func(f *os.File) archive.SegmentFile {
				return &failingFile{File: f, err: errors.New("no space left on device")}
			}),
			wantKind: archive.ErrIOFailure,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			w := newWriter(t, ctx, archive.WriterConfig{SparseFiles: true, OpenFile: tt.openFile})
			if tt.cancel {
				cancel()
			}

			// --- when ---
			err := w.OnBlock(randomBytes(64), 0, 64, 0, 0)

			// --- then ---
			assert.ErrorIs(t, err, tt.wantKind)
			if tt.wantKind == archive.ErrIOFailure {
				assert.False(t, errors.Is(err, archive.ErrAbortedWrite))
			}
			var segErr *archive.SegmentError
			require.True(t, errors.As(err, &segErr))
			assert.Equal(t, segment.FileName(1, 0), filepath.Base(segErr.Path))
			assert.True(t, w.IsClosed())
			assert.Equal(t, -1, w.SegmentIndex())
			// permanently closed
			assert.ErrorIs(t, w.OnBlock(randomBytes(64), 0, 64, 0, 0), archive.ErrIOFailure)
		})
	}
}

func TestRecordingWriter_InitFailure(t *testing.T) {
	t.Parallel()

	// --- given ---
	w, err := archive.NewRecordingWriter(context.Background(), 1, 0, 0, testSegmentLength, archive.WriterConfig{
		ArchiveDir: t.TempDir(),
		OpenFile: func(string, int, os.FileMode) (archive.SegmentFile, error) {
			return nil, os.ErrPermission
		},
	})
	require.Nil(t, err)

	// --- when ---
	err = w.Init(0)

	// --- then ---
	assert.ErrorIs(t, err, archive.ErrIOFailure)
	assert.ErrorIs(t, err, os.ErrPermission)
	assert.True(t, w.IsClosed())
}

func TestRecordingWriter_Resume(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	w, err := archive.NewRecordingWriter(context.Background(), 4, 512, 1536, testSegmentLength,
		archive.WriterConfig{ArchiveDir: dir, SparseFiles: true})
	require.Nil(t, err)

	// --- when ---
	require.Nil(t, w.Init(512))
	require.Nil(t, w.OnBlock([]byte("resumed"), 0, 7, 0, 0))

	// --- then ---
	assert.Equal(t, 1, w.SegmentIndex())
	assert.Equal(t, int64(1536+7), w.Position())
	require.Nil(t, w.Close())
	b, err := os.ReadFile(filepath.Join(dir, segment.FileName(4, 1)))
	require.Nil(t, err)
	assert.Equal(t, "resumed", string(b[512:519]))
}

func TestRecordingWriter_ResumeSizesShortSegment(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		sparse bool
	}{
		"sparse":       {sparse: true},
		"preallocated": {sparse: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			dir := t.TempDir()
			path := filepath.Join(dir, segment.FileName(7, 0))
			require.Nil(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 128), 0o644))
			w, err := archive.NewRecordingWriter(context.Background(), 7, 0, 128, testSegmentLength,
				archive.WriterConfig{ArchiveDir: dir, SparseFiles: tt.sparse})
			require.Nil(t, err)

			// --- when ---
			require.Nil(t, w.Init(128))
			require.Nil(t, w.OnBlock(randomBytes(32), 0, 32, 0, 0))
			require.Nil(t, w.Close())

			// --- then ---
			fi, err := os.Stat(path)
			require.Nil(t, err)
			assert.Equal(t, int64(testSegmentLength), fi.Size())
			b, err := os.ReadFile(path)
			require.Nil(t, err)
			assert.Equal(t, bytes.Repeat([]byte{1}, 128), b[:128])
			assert.Equal(t, randomBytes(32), b[128:160])
		})
	}
}

func TestRecordingWriter_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w := newWriter(t, context.Background(), archive.WriterConfig{SparseFiles: true})

	assert.Nil(t, w.Close())
	assert.Nil(t, w.Close())
	assert.True(t, w.IsClosed())
	assert.Equal(t, testSegmentLength, w.SegmentFileLength())
	assert.Equal(t, int64(-1), w.Position())
}

func TestNewRecordingWriter_Configuration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.Nil(t, os.WriteFile(file, nil, 0o644))

	tests := map[string]struct {
		segmentLength int
		join          int64
		cfg           archive.WriterConfig
	}{
		"not a power of two": {segmentLength: 1000, cfg: archive.WriterConfig{ArchiveDir: dir}},
		"bad sync level":     {segmentLength: 1024, cfg: archive.WriterConfig{ArchiveDir: dir, FileSyncLevel: 3}},
		"no directory":       {segmentLength: 1024},
		"not a directory":    {segmentLength: 1024, cfg: archive.WriterConfig{ArchiveDir: file}},
		"join before start":  {segmentLength: 1024, join: -32, cfg: archive.WriterConfig{ArchiveDir: dir}},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := archive.NewRecordingWriter(context.Background(), 1, 0, tt.join, tt.segmentLength, tt.cfg)
			assert.ErrorIs(t, err, archive.ErrConfiguration)
		})
	}
}

func TestValidateSegmentFileLength(t *testing.T) {
	t.Parallel()

	assert.Nil(t, archive.ValidateSegmentFileLength(128*1024*1024, 64*1024))
	assert.ErrorIs(t, archive.ValidateSegmentFileLength(32*1024, 16*1024), archive.ErrConfiguration)
	assert.ErrorIs(t, archive.ValidateSegmentFileLength(3*64*1024, 64*1024), archive.ErrConfiguration)
	assert.ErrorIs(t, archive.ValidateSegmentFileLength(64*1024, 128*1024), archive.ErrConfiguration)
}
