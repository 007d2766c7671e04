package replaymerge

import "github.com/alpacahq/streamarchive/transport"

// ArchiveClient starts and stops replays of a recording.
type ArchiveClient interface {
	// StartReplay sends recordingID from position to the receive endpoint replayEndpoint and
	// returns the replay session id, whose low 32 bits are the replay image's session id.
	StartReplay(recordingID, position, length int64, replayEndpoint string, streamID int32) (int64, error)
	StopReplay(replaySessionID int64) error
}

// PositionSource reports a recording's current position, or active=false once it stopped.
type PositionSource interface {
	RecordingPosition(recordingID int64) (position int64, active bool)
}

// Subscription is the multi-destination subscription the merge takes over. It receives the
// replay and the live stream as one image.
type Subscription interface {
	AddDestination(endpoint string) error
	RemoveDestination(endpoint string) error
	ResolvedEndpoint(endpoint string) string
	DestinationStatus(endpoint string) transport.DestinationStatus
	ImageBySessionID(sessionID int32) *transport.Image
}

var _ Subscription = (*transport.Subscription)(nil)
