package archive

import (
	"go.uber.org/atomic"

	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/transport"
)

// recordingSession copies one image into a recording, block by block.
type recordingSession struct {
	descriptor catalog.RecordingDescriptor
	sub        *transport.Subscription
	image      *transport.Image
	writer     *RecordingWriter
	position   *atomic.Int64

	positionBitsToShift int
	lastProgress        int64
}

// doWork records at most one block. done is true once the image has ended.
func (s *recordingSession) doWork() (work int, done bool, err error) {
	n, err := s.image.BlockPoll(s.writer.OnBlock, s.descriptor.TermBufferLength)
	if err != nil {
		return 0, true, err
	}
	if n > 0 {
		s.position.Store(s.image.Position())
		return n, false, nil
	}
	return 0, s.image.IsClosed(), nil
}

// progressed is true once per term recorded.
func (s *recordingSession) progressed() bool {
	pos := s.position.Load()
	if pos>>s.positionBitsToShift == s.lastProgress>>s.positionBitsToShift {
		return false
	}
	s.lastProgress = pos
	return true
}

func (s *recordingSession) event(t RecordingEventType) RecordingEvent {
	d := s.descriptor
	return RecordingEvent{
		Type:          t,
		RecordingID:   d.RecordingID,
		StartPosition: d.StartPosition,
		Position:      s.position.Load(),
		SessionID:     d.SessionID,
		StreamID:      d.StreamID,
		Channel:       d.Channel,
	}
}

func (s *recordingSession) close() {
	_ = s.writer.Close()
	_ = s.sub.Close()
}
