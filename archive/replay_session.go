package archive

import (
	"io"
	"math"

	"github.com/alpacahq/streamarchive/archive/segment"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

// ReplayFollowLength requests a replay that keeps following a recording until it stops.
const ReplayFollowLength int64 = math.MaxInt64

const maxReplayBatchLength = 1024 * 1024

// replaySession sends a range of a recording to a replay endpoint.
type replaySession struct {
	id         int64
	descriptor catalog.RecordingDescriptor
	reader     *segment.Reader
	sender     *transport.Sender

	position int64
	// limit is the position the replay ends at, math.MaxInt64 when following
	limit int64
	buf   []byte
}

func newReplaySession(id int64, d catalog.RecordingDescriptor, dir string, sender *transport.Sender,
	position, length int64,
) *replaySession {
	limit := ReplayFollowLength
	if length != ReplayFollowLength && length <= math.MaxInt64-position {
		limit = position + length
	}
	batch := d.TermBufferLength / 4
	if batch > maxReplayBatchLength {
		batch = maxReplayBatchLength
	}
	return &replaySession{
		id:         id,
		descriptor: d,
		reader:     segment.NewReader(dir, d.RecordingID, d.StartPosition, d.SegmentFileLength),
		sender:     sender,
		position:   position,
		limit:      limit,
		buf:        make([]byte, batch),
	}
}

// doWork sends at most one batch of whole frames that are below both the replay limit and
// recorded, where recorded is the current position of the recording. stopped is true once the
// recording has ended.
func (s *replaySession) doWork(recorded int64, stopped bool) (work int, done bool) {
	end := recorded
	if s.limit < end {
		end = s.limit
	}
	if s.position >= end {
		return 0, s.position >= s.limit || stopped
	}

	want := end - s.position
	if want > int64(len(s.buf)) {
		want = int64(len(s.buf))
	}
	n, err := s.reader.ReadAt(s.buf[:want], s.position)
	if err != nil && err != io.EOF {
		log.Error("replay %d of recording %d failed to read at %d: %v", s.id, s.descriptor.RecordingID,
			s.position, err)
		return 0, true
	}
	length := wholeFrames(s.buf[:n])
	if length == 0 {
		return 0, false
	}

	result := s.sender.Send(s.buf[:length])
	switch {
	case result == transport.BackPressured:
		return 0, false
	case result < 0:
		log.Debug("replay %d ended, receiver gone at %d", s.id, s.position)
		return 0, true
	}
	s.position = result
	metrics.ReplayedBytesTotal.Add(float64(length))
	return length, false
}

func (s *replaySession) close() {
	_ = s.sender.Close()
	_ = s.reader.Close()
}

// wholeFrames returns the length of the run of complete frames at the start of buf.
func wholeFrames(buf []byte) int {
	offset := 0
	for offset+transport.HeaderLength <= len(buf) {
		frameLength := transport.FrameLength(buf, offset)
		if frameLength < transport.HeaderLength {
			break
		}
		aligned := transport.Align(frameLength)
		if offset+aligned > len(buf) {
			break
		}
		offset += aligned
	}
	return offset
}
