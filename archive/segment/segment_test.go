package segment_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/streamarchive/archive/segment"
)

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		wantID  int64
		wantIdx int
		wantOK  bool
	}{
		{name: "segment", file: segment.FileName(3, 12), wantID: 3, wantIdx: 12, wantOK: true},
		{name: "zero", file: "0-0.rec", wantOK: true},
		{name: "wrong ext", file: "3-12.walfile"},
		{name: "no index", file: "3.rec"},
		{name: "negative", file: "-1-2.rec"},
		{name: "garbage", file: "a-b.rec"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, idx, ok := segment.ParseFileName(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantIdx, idx)
		})
	}
}

func TestIndexAndOffset(t *testing.T) {
	t.Parallel()

	const l = 1024
	// recording started mid-segment: base is rounded down
	start := int64(3*l + 96)
	assert.Equal(t, int64(3*l), segment.BasePosition(start, l))
	assert.Equal(t, 0, segment.Index(start, start, l))
	assert.Equal(t, 96, segment.Offset(start, start, l))
	assert.Equal(t, 1, segment.Index(start, 4*l, l))
	assert.Equal(t, 0, segment.Offset(start, 4*l, l))
	assert.Equal(t, 2, segment.Index(start, 5*l+1023, l))
	assert.Equal(t, 1023, segment.Offset(start, 5*l+1023, l))
}

func TestFinder_Find(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	for _, name := range []string{"1-10.rec", "1-2.rec", "2-0.rec", "1-0.rec", "catalog.dat", "x.rec"} {
		require.Nil(t, os.WriteFile(filepath.Join(dir, name), []byte("abc"), 0o644))
	}
	require.Nil(t, os.Mkdir(filepath.Join(dir, "3-0.rec"), 0o755))
	finder := segment.NewFinder(os.ReadDir)

	// --- when ---
	got, err := finder.Find(dir, 1)
	all, err2 := finder.Find(dir, -1)

	// --- then ---
	require.Nil(t, err)
	require.Nil(t, err2)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 2, 10}, []int{got[0].Index, got[1].Index, got[2].Index})
	assert.Equal(t, filepath.Join(dir, "1-10.rec"), got[2].Path)
	assert.Equal(t, int64(3), got[0].Size)
	require.Len(t, all, 4)
	assert.Equal(t, int64(2), all[3].RecordingID)
}

func TestFinder_DirReadError(t *testing.T) {
	t.Parallel()

	finder := segment.NewFinder(os.ReadDir)
	_, err := finder.Find(filepath.Join(t.TempDir(), "missing"), 1)
	assert.NotNil(t, err)
}

func TestFinder_Delete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"1-0.rec", "1-1.rec", "2-0.rec"} {
		require.Nil(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	finder := segment.NewFinder(os.ReadDir)

	require.Nil(t, finder.Delete(dir, 1))

	left, err := finder.Find(dir, -1)
	require.Nil(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, int64(2), left[0].RecordingID)
}

func TestReader_ReadAt(t *testing.T) {
	t.Parallel()

	// --- given ---
	const l = 64
	dir := t.TempDir()
	seg0 := make([]byte, l)
	seg1 := make([]byte, l)
	for i := range seg0 {
		seg0[i] = byte(i)
		seg1[i] = byte(100 + i)
	}
	require.Nil(t, os.WriteFile(filepath.Join(dir, segment.FileName(7, 0)), seg0, 0o644))
	require.Nil(t, os.WriteFile(filepath.Join(dir, segment.FileName(7, 1)), seg1, 0o644))
	r := segment.NewReader(dir, 7, 32, l)
	defer r.Close()

	// --- when ---
	buf := make([]byte, 48)
	n, err := r.ReadAt(buf, 40)

	// --- then ---
	require.Nil(t, err)
	assert.Equal(t, 24, n, "a read stops at the segment end")
	assert.Equal(t, seg0[40:], buf[:n])

	n, err = r.ReadAt(buf, 64)
	require.Nil(t, err)
	assert.Equal(t, 48, n)
	assert.Equal(t, seg1[:48], buf)

	_, err = r.ReadAt(buf, 0)
	assert.NotNil(t, err, "before the recording start")
	_, err = r.ReadAt(buf, 3*l)
	assert.NotNil(t, err, "missing segment")
}
