package replaymerge

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/streamarchive/transport"
)

func TestTransition(t *testing.T) {
	t.Parallel()

	p := params{catchupThreshold: 16 * 1024}
	catchup := session{state: ReplayCatchup, recordingID: 3, targetPosition: 1000, replayDestinationAdded: true,
		replayActive: true, replaySessionID: 1<<32 | 7}
	joining := catchup
	joining.state = AttemptLiveJoin
	joining.isLiveAdded = true
	joining.catchupPosition = 100_000
	live := transport.DestinationStatus{Connected: true, JoinPosition: 120_000, Position: 120_064, Frames: 1}

	tests := []struct {
		name        string
		s           session
		obs         observation
		p           params
		wantState   State
		wantEffects []effectKind
		wantErr     error
		check       func(t *testing.T, s session)
	}{
		{
			name:        "resolve adds the replay destination",
			s:           session{state: ResolveReplayDestination},
			wantState:   AwaitRecordingPosition,
			wantEffects: []effectKind{addReplayDestination},
			check: func(t *testing.T, s session) {
				assert.True(t, s.replayDestinationAdded)
			},
		},
		{
			name:      "await fails on an inactive recording",
			s:         session{state: AwaitRecordingPosition},
			wantState: Failed,
			wantErr:   ErrRecordingInactive,
		},
		{
			name:        "await captures the target and starts the replay",
			s:           session{state: AwaitRecordingPosition},
			obs:         observation{recordingActive: true, recordingPosition: 4096},
			wantState:   ReplayCatchup,
			wantEffects: []effectKind{startReplay},
			check: func(t *testing.T, s session) {
				assert.Equal(t, int64(4096), s.targetPosition)
				assert.True(t, s.replayActive)
			},
		},
		{
			name:      "catchup fails when the recording stops",
			s:         catchup,
			obs:       observation{imageFound: true, imagePosition: 1000},
			wantState: Failed,
			wantErr:   ErrRecordingInactive,
		},
		{
			name:      "catchup waits for the replay image",
			s:         catchup,
			obs:       observation{recordingActive: true, recordingPosition: 1 << 20},
			wantState: ReplayCatchup,
			check: func(t *testing.T, s session) {
				assert.Equal(t, int64(1<<20), s.targetPosition)
			},
		},
		{
			name:      "catchup fails when the replay image closes",
			s:         catchup,
			obs:       observation{recordingActive: true, recordingPosition: 1 << 20, imageFound: true, imageClosed: true},
			wantState: Failed,
			wantErr:   ErrReplayImageClosed,
		},
		{
			name: "catchup keeps replaying while the gap is over the threshold",
			s:    catchup,
			obs: observation{recordingActive: true, recordingPosition: 100_000, imageFound: true,
				imagePosition: 100_000 - 16*1024 - 32, activeTransports: 1},
			wantState: ReplayCatchup,
		},
		{
			name: "catchup adds live within the threshold",
			s:    catchup,
			obs: observation{recordingActive: true, recordingPosition: 100_000, imageFound: true,
				imagePosition: 100_000 - 16*1024, activeTransports: 1},
			wantState:   AttemptLiveJoin,
			wantEffects: []effectKind{addLiveDestination},
			check: func(t *testing.T, s session) {
				assert.True(t, s.isLiveAdded)
				assert.False(t, s.isMerged)
				assert.Equal(t, int64(100_000), s.catchupPosition)
			},
		},
		{
			name: "join waits for the live destination to connect",
			s:    joining,
			obs: observation{recordingActive: true, recordingPosition: 130_000, imageFound: true,
				imagePosition: 130_000, activeTransports: 1},
			wantState: AttemptLiveJoin,
		},
		{
			name: "join waits for two transports",
			s:    joining,
			obs: observation{recordingActive: true, recordingPosition: 130_000, imageFound: true,
				imagePosition: 130_000, activeTransports: 1, live: live},
			wantState: AttemptLiveJoin,
		},
		{
			name: "join waits until the image reaches the live join position",
			s:    joining,
			obs: observation{recordingActive: true, recordingPosition: 130_000, imageFound: true,
				imagePosition: 119_968, activeTransports: 2, live: live},
			wantState: AttemptLiveJoin,
		},
		{
			name: "join waits for live data when required",
			s:    joining,
			obs: observation{recordingActive: true, recordingPosition: 130_000, imageFound: true,
				imagePosition: 120_000, activeTransports: 2,
				live: transport.DestinationStatus{Connected: true, JoinPosition: 120_000}},
			p:         params{catchupThreshold: 16 * 1024, requireLiveData: true},
			wantState: AttemptLiveJoin,
		},
		{
			name: "join merges and drops the replay",
			s:    joining,
			obs: observation{recordingActive: true, recordingPosition: 130_000, imageFound: true,
				imagePosition: 120_000, activeTransports: 2, live: live},
			wantState:   Merged,
			wantEffects: []effectKind{removeReplayDestination, stopReplay},
			check: func(t *testing.T, s session) {
				assert.True(t, s.isMerged)
				assert.True(t, s.isLiveAdded)
				assert.False(t, s.replayDestinationAdded)
				assert.False(t, s.replayActive)
			},
		},
		{
			name: "join merges after the recording stopped if nothing is missing",
			s:    joining,
			obs: observation{imageFound: true, imagePosition: 120_000, activeTransports: 2, live: live},
			wantState:   Merged,
			wantEffects: []effectKind{removeReplayDestination, stopReplay},
		},
		{
			name: "join fails when the recording stops short of the live join position",
			s:    joining,
			obs: observation{imageFound: true, imagePosition: 110_000, activeTransports: 2, live: live},
			wantState: Failed,
			wantErr:   ErrRecordingInactive,
		},
		{
			name:      "join fails when the image closes",
			s:         joining,
			obs:       observation{recordingActive: true, imageFound: true, imageClosed: true},
			wantState: Failed,
			wantErr:   ErrReplayImageClosed,
		},
		{
			name:      "merged is terminal",
			s:         session{state: Merged, isLiveAdded: true, isMerged: true},
			wantState: Merged,
		},
		{
			name:      "failed is terminal",
			s:         session{state: Failed, err: ErrRecordingInactive},
			obs:       observation{recordingActive: true},
			wantState: Failed,
			wantErr:   ErrRecordingInactive,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			pp := p
			if tt.p != (params{}) {
				pp = tt.p
			}

			// --- when ---
			next, effects := transition(tt.s, tt.obs, pp)

			// --- then ---
			assert.Equal(t, tt.wantState, next.state)
			var kinds []effectKind
			for _, e := range effects {
				kinds = append(kinds, e.kind)
			}
			assert.Equal(t, tt.wantEffects, kinds)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(next.err, tt.wantErr), "err=%v", next.err)
			} else {
				assert.Nil(t, next.err)
			}
			if next.isMerged {
				assert.True(t, next.isLiveAdded)
			}
			if tt.check != nil {
				tt.check(t, next)
			}
		})
	}
}

func TestTransitionIsPure(t *testing.T) {
	t.Parallel()

	s := session{state: ReplayCatchup, targetPosition: 10}
	obs := observation{recordingActive: true, recordingPosition: 1 << 20, imageFound: true}

	next, _ := transition(s, obs, params{catchupThreshold: 1})

	assert.Equal(t, int64(10), s.targetPosition)
	assert.Equal(t, int64(1<<20), next.targetPosition)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "REPLAY_CATCHUP", ReplayCatchup.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
	assert.True(t, Merged.IsTerminal())
	assert.True(t, Failed.IsTerminal())
	assert.False(t, AttemptLiveJoin.IsTerminal())
}
