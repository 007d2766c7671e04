package archive

// RecordingEventType is the kind of a RecordingEvent.
type RecordingEventType string

const (
	RecordingStarted  RecordingEventType = "started"
	RecordingProgress RecordingEventType = "progress"
	RecordingStopped  RecordingEventType = "stopped"
)

// RecordingEvent reports a change in a recording's life.
type RecordingEvent struct {
	Type          RecordingEventType `msgpack:"type"`
	RecordingID   int64              `msgpack:"recording_id"`
	StartPosition int64              `msgpack:"start_position"`
	// Position is the recorded position, or the stop position for RecordingStopped.
	Position  int64  `msgpack:"position"`
	SessionID int32  `msgpack:"session_id"`
	StreamID  int32  `msgpack:"stream_id"`
	Channel   string `msgpack:"channel"`
}

// RecordingEventsListener is notified from the archive's work loop. Implementations must not
// block.
type RecordingEventsListener interface {
	OnRecordingEvent(ev RecordingEvent)
}

type noopListener struct{}

func (noopListener) OnRecordingEvent(RecordingEvent) {}
