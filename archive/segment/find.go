package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alpacahq/streamarchive/utils/log"
)

// File is one segment file found on disk.
type File struct {
	RecordingID int64
	Index       int
	Path        string
	Size        int64
}

type Finder struct {
	dirRead func(name string) ([]os.DirEntry, error)
}

func NewFinder(dirRead func(name string) ([]os.DirEntry, error)) *Finder {
	return &Finder{dirRead: dirRead}
}

// Find returns the segment files of recordingID directly under dir, ordered by index.
// A negative recordingID returns the segments of every recording, ordered by recording then index.
func (f *Finder) Find(dir string, recordingID int64) ([]File, error) {
	var ret []File
	entries, err := f.dirRead(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		id, index, ok := ParseFileName(entry.Name())
		if !ok || (recordingID >= 0 && id != recordingID) {
			continue
		}

		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		log.Debug("found a segment file: %s", entry.Name())
		ret = append(ret, File{
			RecordingID: id,
			Index:       index,
			Path:        filepath.Join(dir, entry.Name()),
			Size:        size,
		})
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].RecordingID != ret[j].RecordingID {
			return ret[i].RecordingID < ret[j].RecordingID
		}
		return ret[i].Index < ret[j].Index
	})
	return ret, nil
}

// Delete removes every segment file of recordingID under dir.
func (f *Finder) Delete(dir string, recordingID int64) error {
	files, err := f.Find(dir, recordingID)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file.Path); err != nil {
			return fmt.Errorf("failed to delete %s: %w", file.Path, err)
		}
		log.Info("deleted %s", file.Path)
	}
	return nil
}
