package replaymerge

import "github.com/pkg/errors"

// Failure reasons reported by Err once a merge has failed.
var (
	// ErrRecordingInactive means the recording stopped, or was never active.
	ErrRecordingInactive = errors.New("recording not active")
	// ErrReplayImageClosed means the replay ended before the live stream took over.
	ErrReplayImageClosed = errors.New("replay image closed before catch-up")
	// ErrDestinationFailure means the subscription rejected a destination change.
	ErrDestinationFailure = errors.New("destination change rejected")
	// ErrReplayRequest means the archive refused to start the replay.
	ErrReplayRequest = errors.New("replay request rejected")
)
