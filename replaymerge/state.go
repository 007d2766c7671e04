package replaymerge

import (
	"github.com/pkg/errors"

	"github.com/alpacahq/streamarchive/transport"
)

// State is the step a merge is at.
type State int

const (
	ResolveReplayDestination State = iota
	AwaitRecordingPosition
	ReplayCatchup
	AttemptLiveJoin
	Merged
	Failed
)

func (s State) String() string {
	switch s {
	case ResolveReplayDestination:
		return "RESOLVE_REPLAY_DESTINATION"
	case AwaitRecordingPosition:
		return "AWAIT_RECORDING_POSITION"
	case ReplayCatchup:
		return "REPLAY_CATCHUP"
	case AttemptLiveJoin:
		return "ATTEMPT_LIVE_JOIN"
	case Merged:
		return "MERGED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// IsTerminal is true for Merged and Failed.
func (s State) IsTerminal() bool {
	return s == Merged || s == Failed
}

type effectKind int

const (
	addReplayDestination effectKind = iota
	startReplay
	addLiveDestination
	removeReplayDestination
	stopReplay
)

func (k effectKind) String() string {
	return [...]string{
		"addReplayDestination", "startReplay", "addLiveDestination", "removeReplayDestination", "stopReplay",
	}[k]
}

type effect struct {
	kind effectKind
}

// session is everything the transition function knows about a merge.
type session struct {
	state State

	recordingID   int64
	startPosition int64
	// targetPosition is the last recording position observed
	targetPosition int64
	// catchupPosition is the recording position when the live destination was added
	catchupPosition int64

	replayEndpoint  string
	replaySessionID int64

	replayDestinationAdded bool
	replayActive           bool
	isLiveAdded            bool
	isMerged               bool

	err error
}

// observation is the environment sampled at the start of a poll.
type observation struct {
	recordingPosition int64
	recordingActive   bool

	imageFound       bool
	imageClosed      bool
	imagePosition    int64
	activeTransports int

	live transport.DestinationStatus
}

type params struct {
	catchupThreshold int64
	requireLiveData  bool
}

// transition computes the next session and the side effects needed to get there. It never
// performs them: flags that depend on an effect are committed by the caller only once the
// effect succeeded.
func transition(s session, obs observation, p params) (session, []effect) {
	switch s.state {
	case ResolveReplayDestination:
		s.state = AwaitRecordingPosition
		s.replayDestinationAdded = true
		return s, []effect{{addReplayDestination}}

	case AwaitRecordingPosition:
		if !obs.recordingActive {
			return fail(s, ErrRecordingInactive), nil
		}
		s.targetPosition = obs.recordingPosition
		s.state = ReplayCatchup
		s.replayActive = true
		return s, []effect{{startReplay}}

	case ReplayCatchup:
		if !obs.recordingActive {
			return fail(s, ErrRecordingInactive), nil
		}
		s.targetPosition = obs.recordingPosition
		if !obs.imageFound {
			return s, nil
		}
		if obs.imageClosed {
			return fail(s, ErrReplayImageClosed), nil
		}
		if s.targetPosition-obs.imagePosition <= p.catchupThreshold {
			s.state = AttemptLiveJoin
			s.catchupPosition = s.targetPosition
			s.isLiveAdded = true
			return s, []effect{{addLiveDestination}}
		}
		return s, nil

	case AttemptLiveJoin:
		if obs.recordingActive {
			s.targetPosition = obs.recordingPosition
		}
		if !obs.imageFound || obs.imageClosed {
			return fail(s, ErrReplayImageClosed), nil
		}
		if liveJoined(s, obs, p) {
			s.state = Merged
			s.isMerged = true
			s.replayDestinationAdded = false
			s.replayActive = false
			return s, []effect{{removeReplayDestination}, {stopReplay}}
		}
		if !obs.recordingActive {
			return fail(s, ErrRecordingInactive), nil
		}
		return s, nil
	}
	return s, nil
}

// liveJoined is true once the live destination feeds the image and everything before the point
// it joined at has been consumed, so dropping the replay leaves no gap.
func liveJoined(s session, obs observation, p params) bool {
	if !obs.live.Connected || obs.activeTransports < 2 {
		return false
	}
	if p.requireLiveData && obs.live.Frames == 0 {
		return false
	}
	return obs.imagePosition >= obs.live.JoinPosition && obs.imagePosition >= s.catchupPosition
}

func fail(s session, reason error) session {
	s.state = Failed
	s.err = errors.Wrapf(reason, "recording %d from %d", s.recordingID, s.startPosition)
	return s
}
