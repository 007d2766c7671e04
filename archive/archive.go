// Package archive records streams into segment files and replays them by position.
package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/alpacahq/streamarchive/archive/segment"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

type Config struct {
	ArchiveDir        string
	SegmentFileLength int
	FileSyncLevel     int
	SparseFiles       bool
}

// Archive records publications on a Media and serves replays of its recordings. All sessions
// are driven by DoWork, which Run calls in a loop; the control methods may be called from any
// goroutine.
type Archive struct {
	mu sync.Mutex

	ctx       context.Context
	cfg       Config
	media     *transport.Media
	catalog   *catalog.Catalog
	positions *Positions
	listener  RecordingEventsListener

	recordings   map[int64]*recordingSession
	replays      map[int64]*replaySession
	nextReplayID int64
	closed       bool
}

// New creates an archive over the recordings in cat. Recordings that were still active when a
// previous process stopped are given the stop position found by scanning their last segment.
func New(ctx context.Context, media *transport.Media, cat *catalog.Catalog, cfg Config,
	listener RecordingEventsListener,
) (*Archive, error) {
	if err := ValidateSegmentFileLength(cfg.SegmentFileLength, media.TermBufferLength()); err != nil {
		return nil, err
	}
	if err := ValidateFileSyncLevel(cfg.FileSyncLevel); err != nil {
		return nil, err
	}
	if listener == nil {
		listener = noopListener{}
	}
	a := &Archive{
		ctx:        ctx,
		cfg:        cfg,
		media:      media,
		catalog:    cat,
		positions:  NewPositions(),
		listener:   listener,
		recordings: map[int64]*recordingSession{},
		replays:    map[int64]*replaySession{},
	}
	if err := a.recoverStopPositions(); err != nil {
		return nil, err
	}
	return a, nil
}

// Positions is the live position source of the archive's recordings.
func (a *Archive) Positions() *Positions {
	return a.positions
}

func (a *Archive) Catalog() *catalog.Catalog {
	return a.catalog
}

// StartRecording records the publication on channel from its current position and returns the
// new recording id.
func (a *Archive) StartRecording(channel string, streamID int32) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, transport.ErrClosed
	}

	pub := a.media.Publication(channel)
	if pub == nil {
		return 0, errors.Wrapf(transport.ErrNotConnected, "no publication on %s", channel)
	}
	for _, rs := range a.recordings {
		if rs.descriptor.Channel == channel && rs.descriptor.StreamID == streamID &&
			rs.descriptor.SessionID == pub.SessionID() {
			return 0, errors.Wrapf(ErrRecordingActive, "recording %d", rs.descriptor.RecordingID)
		}
	}

	sub := a.media.AddSubscription(streamID)
	if err := sub.AddDestination(channel); err != nil {
		return 0, err
	}
	image := sub.ImageBySessionID(pub.SessionID())
	if image == nil {
		_ = sub.Close()
		return 0, errors.Wrapf(transport.ErrNotConnected, "no image for session %d", pub.SessionID())
	}

	startPosition := image.JoinPosition()
	id, err := a.catalog.AddNewRecording(catalog.RecordingDescriptor{
		StartTimestamp:    time.Now(),
		StartPosition:     startPosition,
		InitialTermID:     image.InitialTermID(),
		SegmentFileLength: a.cfg.SegmentFileLength,
		TermBufferLength:  image.TermBufferLength(),
		SessionID:         image.SessionID(),
		StreamID:          streamID,
		Channel:           channel,
	})
	if err != nil {
		_ = sub.Close()
		return 0, err
	}
	descriptor, err := a.catalog.RecordingDescriptor(id)
	if err != nil {
		_ = sub.Close()
		return 0, err
	}

	writer, err := NewRecordingWriter(a.ctx, id, startPosition, startPosition, a.cfg.SegmentFileLength,
		WriterConfig{
			ArchiveDir:    a.cfg.ArchiveDir,
			FileSyncLevel: a.cfg.FileSyncLevel,
			SparseFiles:   a.cfg.SparseFiles,
		})
	if err == nil {
		err = writer.Init(segment.Offset(startPosition, startPosition, a.cfg.SegmentFileLength))
	}
	if err != nil {
		_ = sub.Close()
		_ = a.catalog.UpdateStopPosition(id, startPosition, time.Now())
		return 0, err
	}

	rs := &recordingSession{
		descriptor:          descriptor,
		sub:                 sub,
		image:               image,
		writer:              writer,
		position:            a.positions.add(id, startPosition),
		positionBitsToShift: transport.PositionBitsToShift(image.TermBufferLength()),
		lastProgress:        startPosition,
	}
	a.recordings[id] = rs
	metrics.ActiveRecordings.Inc()
	log.Info("started recording %d of %s stream=%d session=%d at %d", id, channel, streamID,
		image.SessionID(), startPosition)
	a.listener.OnRecordingEvent(rs.event(RecordingStarted))
	return id, nil
}

// StopRecording stops an active recording at its current position.
func (a *Archive) StopRecording(recordingID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rs, ok := a.recordings[recordingID]
	if !ok {
		return errors.Wrapf(ErrUnknownRecording, "recording %d is not active", recordingID)
	}
	return a.stopRecording(rs)
}

func (a *Archive) stopRecording(rs *recordingSession) error {
	id := rs.descriptor.RecordingID
	rs.close()
	delete(a.recordings, id)
	a.positions.remove(id)
	metrics.ActiveRecordings.Dec()

	stopPosition := rs.position.Load()
	log.Info("stopped recording %d at %d", id, stopPosition)
	a.listener.OnRecordingEvent(rs.event(RecordingStopped))
	return a.catalog.UpdateStopPosition(id, stopPosition, time.Now())
}

// StartReplay replays recordingID from position to the receive endpoint replayEndpoint. length
// may be ReplayFollowLength to keep following an active recording. The returned replay session
// id carries the replay image's session id in its low 32 bits.
func (a *Archive) StartReplay(recordingID, position, length int64, replayEndpoint string, streamID int32,
) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, transport.ErrClosed
	}

	d, err := a.catalog.RecordingDescriptor(recordingID)
	if err != nil {
		return 0, errors.Wrapf(ErrUnknownRecording, "recording %d: %v", recordingID, err)
	}
	if position < 0 {
		position = d.StartPosition
	}
	if length <= 0 {
		return 0, errors.Wrapf(ErrInvalidReplay, "length %d", length)
	}
	if err := a.validateReplayPosition(d, position); err != nil {
		return 0, err
	}

	sender, err := a.media.AddSender(replayEndpoint, d.SessionID, streamID, d.InitialTermID,
		d.TermBufferLength, position)
	if err != nil {
		return 0, err
	}

	a.nextReplayID++
	id := a.nextReplayID<<32 | int64(uint32(d.SessionID))
	a.replays[id] = newReplaySession(id, d, a.cfg.ArchiveDir, sender, position, length)
	metrics.ActiveReplays.Inc()
	log.Info("started replay %d of recording %d from %d to %s", id, recordingID, position, replayEndpoint)
	return id, nil
}

func (a *Archive) validateReplayPosition(d catalog.RecordingDescriptor, position int64) error {
	recorded := d.StopPosition
	if rs, ok := a.recordings[d.RecordingID]; ok {
		recorded = rs.position.Load()
	}
	if position < d.StartPosition || position > recorded {
		return errors.Wrapf(ErrInvalidReplay, "position %d outside recorded range [%d, %d]",
			position, d.StartPosition, recorded)
	}
	if position%transport.FrameAlignment != 0 {
		return errors.Wrapf(ErrInvalidReplay, "position %d is not frame aligned", position)
	}
	if position == recorded {
		return nil
	}
	reader := segment.NewReader(a.cfg.ArchiveDir, d.RecordingID, d.StartPosition, d.SegmentFileLength)
	defer reader.Close()
	if _, ok := frameAt(reader, position, d.TermBufferLength); !ok {
		return errors.Wrapf(ErrInvalidReplay, "position %d is not the start of a frame", position)
	}
	return nil
}

// StopReplay ends a replay session.
func (a *Archive) StopReplay(replaySessionID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rp, ok := a.replays[replaySessionID]
	if !ok {
		return errors.Wrapf(ErrUnknownReplay, "replay %d", replaySessionID)
	}
	a.closeReplay(rp)
	return nil
}

func (a *Archive) closeReplay(rp *replaySession) {
	rp.close()
	delete(a.replays, rp.id)
	metrics.ActiveReplays.Dec()
	log.Info("replay %d finished at %d", rp.id, rp.position)
}

// DoWork runs one duty cycle of every recording and replay session and returns the number of
// bytes moved. A recording whose writer fails is stopped and its error returned.
func (a *Archive) DoWork() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs error
	work := 0
	for _, rs := range a.recordings {
		n, done, err := rs.doWork()
		work += n
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "recording %d", rs.descriptor.RecordingID))
		}
		if done {
			if serr := a.stopRecording(rs); serr != nil {
				errs = multierr.Append(errs, serr)
			}
			continue
		}
		if rs.progressed() {
			a.listener.OnRecordingEvent(rs.event(RecordingProgress))
		}
	}

	for _, rp := range a.replays {
		recorded, active := a.positions.RecordingPosition(rp.descriptor.RecordingID)
		if !active {
			d, err := a.catalog.RecordingDescriptor(rp.descriptor.RecordingID)
			if err != nil {
				a.closeReplay(rp)
				continue
			}
			recorded = d.StopPosition
		}
		n, done := rp.doWork(recorded, !active)
		work += n
		if done {
			a.closeReplay(rp)
		}
	}
	return work, errs
}

// Run calls DoWork until ctx is done, sleeping for idle whenever there was nothing to do.
func (a *Archive) Run(ctx context.Context, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		work, err := a.DoWork()
		if err != nil {
			log.Error("archive duty cycle: %v", err)
		}
		if work == 0 {
			time.Sleep(idle)
		}
	}
}

// Close stops every recording and replay. It is safe to call more than once.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs error
	for _, rs := range a.recordings {
		errs = multierr.Append(errs, a.stopRecording(rs))
	}
	for _, rp := range a.replays {
		a.closeReplay(rp)
	}
	return errs
}

func (a *Archive) recoverStopPositions() error {
	for _, d := range a.catalog.ListRecordings(0, 0) {
		if !d.IsActive() {
			continue
		}
		stop, err := scanStopPosition(a.cfg.ArchiveDir, d)
		if err != nil {
			return err
		}
		log.Warn("recording %d was not stopped cleanly, recovered stop position %d", d.RecordingID, stop)
		if err := a.catalog.UpdateStopPosition(d.RecordingID, stop, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// scanStopPosition walks the frames of the last segment of a recording and returns the end of
// the last complete frame.
func scanStopPosition(dir string, d catalog.RecordingDescriptor) (int64, error) {
	files, err := segment.NewFinder(os.ReadDir).Find(dir, d.RecordingID)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return d.StartPosition, nil
	}
	last := files[len(files)-1]
	base := segment.BasePosition(d.StartPosition, d.SegmentFileLength)
	position := base + int64(last.Index)*int64(d.SegmentFileLength)
	if position < d.StartPosition {
		position = d.StartPosition
	}
	end := base + int64(last.Index+1)*int64(d.SegmentFileLength)

	reader := segment.NewReader(filepath.Dir(last.Path), d.RecordingID, d.StartPosition, d.SegmentFileLength)
	defer reader.Close()
	for position < end {
		frameLength, ok := frameAt(reader, position, d.TermBufferLength)
		if !ok {
			break
		}
		position += int64(transport.Align(frameLength))
	}
	return position, nil
}

// frameAt reads the frame header at position and reports its length if it is a plausible frame
// for that position.
func frameAt(reader *segment.Reader, position int64, termLength int) (int, bool) {
	header := make([]byte, transport.HeaderLength)
	n, err := reader.ReadAt(header, position)
	if err != nil || n < transport.HeaderLength {
		return 0, false
	}
	frameLength := transport.FrameLength(header, 0)
	termOffset := transport.ComputeTermOffset(position, transport.PositionBitsToShift(termLength))
	if frameLength < transport.HeaderLength || termOffset+transport.Align(frameLength) > termLength {
		return 0, false
	}
	if transport.FrameTermOffset(header, 0) != termOffset {
		return 0, false
	}
	return frameLength, true
}
