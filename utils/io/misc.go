package io

import (
	"fmt"
	"os"
	"runtime"
)

// SyncDir forces the directory entry table of dir to stable storage so that newly
// created files survive a crash.
func SyncDir(dir string) error {
	fp, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", dir, err)
	}
	defer fp.Close()

	if err := fp.Sync(); err != nil {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}

func GetCallerFileContext(level int) (fileContext string) {
	_, file, line, _ := runtime.Caller(1 + level)
	return fmt.Sprintf("%s:%d", file, line)
}
