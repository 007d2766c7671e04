package catalog

import (
	"fmt"

	"github.com/alpacahq/streamarchive/utils/io"
)

type NotFoundError string

func (msg NotFoundError) Error() string {
	return errReport("%s: Recording not found in catalog", string(msg))
}

type AlreadyStoppedError string

func (msg AlreadyStoppedError) Error() string {
	return errReport("%s: Recording already has a stop position", string(msg))
}

type UnableToPersist string

func (msg UnableToPersist) Error() string {
	return errReport("%s: Unable to persist the catalog", string(msg))
}

// ErrCorruptCatalog is used when the catalog file exists but cannot be decoded.
type ErrCorruptCatalog struct {
	filePath string
	msg      string
}

func (e *ErrCorruptCatalog) Error() string {
	return "Could not decode the catalog file:" + e.filePath + ", msg=" + e.msg
}

func errReport(base string, msg string) string {
	base = io.GetCallerFileContext(2) + ":" + base
	return fmt.Sprintf(base, msg)
}
