// Package replaymerge moves a consumer that has fallen behind a live stream onto it: the
// consumer first reads a replay of the stream's recording and, once close enough, joins the
// live publication on the same subscription so the two are stitched into one image.
package replaymerge

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

// DefaultLiveAddMaxWindow caps the default catch-up threshold.
const DefaultLiveAddMaxWindow int64 = 32 * 1024 * 1024

type Config struct {
	// ReplayDestination is the receive endpoint added for the replay, typically with port 0.
	ReplayDestination string
	// LiveDestination is the live publication's channel.
	LiveDestination string
	StreamID        int32
	RecordingID     int64
	// StartPosition is where the replay, and so delivery, starts.
	StartPosition int64
	// CatchupThreshold is how close, in bytes, the replay must get to the recording position
	// before the live destination is added. Zero means min(term length / 4, LiveAddMaxWindow).
	CatchupThreshold int64
	// LiveAddMaxWindow defaults to DefaultLiveAddMaxWindow.
	LiveAddMaxWindow int64
	// RequireLiveData holds the merge until at least one frame arrived from the live destination.
	RequireLiveData bool
}

// ReplayMerge drives one merge attempt. It is poll driven, never blocks, and is used from a
// single goroutine. A failed merge stays failed; retrying needs a new ReplayMerge starting at
// the last position received.
type ReplayMerge struct {
	sub       Subscription
	archive   ArchiveClient
	positions PositionSource
	cfg       Config

	s         session
	liveImage *transport.Image
	closed    bool
}

func New(sub Subscription, archiveClient ArchiveClient, positions PositionSource, cfg Config) *ReplayMerge {
	if cfg.LiveAddMaxWindow <= 0 {
		cfg.LiveAddMaxWindow = DefaultLiveAddMaxWindow
	}
	metrics.MergeAttemptsTotal.Inc()
	return &ReplayMerge{
		sub:       sub,
		archive:   archiveClient,
		positions: positions,
		cfg:       cfg,
		s: session{
			state:          ResolveReplayDestination,
			recordingID:    cfg.RecordingID,
			startPosition:  cfg.StartPosition,
			targetPosition: cfg.StartPosition,
		},
	}
}

// Poll advances the merge by at most one step and then delivers up to fragmentLimit fragments
// from the image, whether they came from the replay or the live stream. A zero result is not a
// failure; HasFailed tells the two apart.
func (m *ReplayMerge) Poll(handler transport.FragmentHandler, fragmentLimit int) int {
	if m.closed || m.s.state == Failed {
		return 0
	}
	if m.s.state != Merged {
		obs, p := m.observe()
		next, effects := transition(m.s, obs, p)
		m.commit(next, effects)
	}

	img := m.replayImage()
	if m.s.state == Failed || img == nil {
		return 0
	}
	return img.Poll(handler, fragmentLimit)
}

func (m *ReplayMerge) observe() (observation, params) {
	var obs observation
	obs.recordingPosition, obs.recordingActive = m.positions.RecordingPosition(m.cfg.RecordingID)

	p := params{
		catchupThreshold: m.cfg.CatchupThreshold,
		requireLiveData:  m.cfg.RequireLiveData,
	}
	if img := m.replayImage(); img != nil {
		obs.imageFound = true
		obs.imageClosed = img.IsClosed()
		obs.imagePosition = img.Position()
		obs.activeTransports = img.ActiveTransportCount()
		if p.catchupThreshold <= 0 {
			p.catchupThreshold = int64(img.TermBufferLength() / 4)
			if p.catchupThreshold > m.cfg.LiveAddMaxWindow {
				p.catchupThreshold = m.cfg.LiveAddMaxWindow
			}
		}
	}
	if m.s.isLiveAdded {
		obs.live = m.sub.DestinationStatus(m.cfg.LiveDestination)
	}
	return obs, p
}

// commit applies effects in order and moves to next if they all succeed. On the first failure
// the merge fails with the flags it had before this step.
func (m *ReplayMerge) commit(next session, effects []effect) {
	prev := m.s
	for _, e := range effects {
		if err := m.apply(&next, e); err != nil {
			next = prev
			next.state = Failed
			next.err = err
			break
		}
	}
	m.s = next

	if next.state == prev.state {
		return
	}
	switch next.state {
	case Merged:
		m.liveImage = m.replayImage()
		metrics.MergeResultsTotal.WithLabelValues("merged").Inc()
		log.Info("%s merged to live", m)
	case Failed:
		metrics.MergeResultsTotal.WithLabelValues("failed").Inc()
		log.Warn("%s failed: %v", m, next.err)
	default:
		log.Debug("%s: %s -> %s", m, prev.state, next.state)
	}
}

func (m *ReplayMerge) apply(next *session, e effect) error {
	switch e.kind {
	case addReplayDestination:
		if err := m.sub.AddDestination(m.cfg.ReplayDestination); err != nil {
			return errors.Wrapf(ErrDestinationFailure, "add replay destination %s: %v", m.cfg.ReplayDestination, err)
		}
		next.replayEndpoint = m.sub.ResolvedEndpoint(m.cfg.ReplayDestination)
		if next.replayEndpoint == "" {
			_ = m.sub.RemoveDestination(m.cfg.ReplayDestination)
			return errors.Wrapf(ErrDestinationFailure, "replay destination %s not resolved", m.cfg.ReplayDestination)
		}
	case startReplay:
		id, err := m.archive.StartReplay(next.recordingID, next.startPosition, archive.ReplayFollowLength,
			next.replayEndpoint, m.cfg.StreamID)
		if err != nil {
			return errors.Wrapf(ErrReplayRequest, "%v", err)
		}
		next.replaySessionID = id
	case addLiveDestination:
		if err := m.sub.AddDestination(m.cfg.LiveDestination); err != nil {
			return errors.Wrapf(ErrDestinationFailure, "add live destination %s: %v", m.cfg.LiveDestination, err)
		}
	case removeReplayDestination:
		if err := m.sub.RemoveDestination(m.cfg.ReplayDestination); err != nil {
			return errors.Wrapf(ErrDestinationFailure, "remove replay destination %s: %v", m.cfg.ReplayDestination, err)
		}
	case stopReplay:
		// the replay usually ends by itself once its destination is gone
		if err := m.archive.StopReplay(next.replaySessionID); err != nil {
			log.Debug("stop replay %d: %v", next.replaySessionID, err)
		}
	}
	return nil
}

// replayImage is the image carrying the replay session, nil before the replay started.
func (m *ReplayMerge) replayImage() *transport.Image {
	if m.liveImage != nil {
		return m.liveImage
	}
	if m.s.state < ReplayCatchup || m.s.replaySessionID == 0 {
		return nil
	}
	return m.sub.ImageBySessionID(int32(m.s.replaySessionID))
}

func (m *ReplayMerge) IsLiveAdded() bool {
	return m.s.isLiveAdded
}

func (m *ReplayMerge) IsMerged() bool {
	return m.s.isMerged
}

func (m *ReplayMerge) HasFailed() bool {
	return m.s.state == Failed
}

// Err is the reason the merge failed, or nil.
func (m *ReplayMerge) Err() error {
	return m.s.err
}

func (m *ReplayMerge) State() State {
	return m.s.state
}

// Image is the live image once IsMerged, nil before.
func (m *ReplayMerge) Image() *transport.Image {
	if !m.s.isMerged {
		return nil
	}
	return m.liveImage
}

// Close removes the destinations this merge added and stops its replay. The live destination
// stays once merged. Errors are ignored and Close may be called any number of times.
func (m *ReplayMerge) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	if m.s.replayDestinationAdded {
		if err := m.sub.RemoveDestination(m.cfg.ReplayDestination); err != nil {
			log.Debug("%s close: %v", m, err)
		}
	}
	if m.s.isLiveAdded && !m.s.isMerged {
		if err := m.sub.RemoveDestination(m.cfg.LiveDestination); err != nil {
			log.Debug("%s close: %v", m, err)
		}
	}
	if m.s.replayActive {
		if err := m.archive.StopReplay(m.s.replaySessionID); err != nil {
			log.Debug("%s close: %v", m, err)
		}
	}
	return nil
}

func (m *ReplayMerge) String() string {
	imagePosition := int64(-1)
	if img := m.replayImage(); img != nil {
		imagePosition = img.Position()
	}
	return fmt.Sprintf("ReplayMerge{state=%s, recordingID=%d, startPosition=%d, targetPosition=%d, "+
		"imagePosition=%d, isLiveAdded=%t, isMerged=%t}",
		m.s.state, m.s.recordingID, m.s.startPosition, m.s.targetPosition, imagePosition,
		m.s.isLiveAdded, m.s.isMerged)
}
