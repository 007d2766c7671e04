package catchup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/streamarchive/catchup"
	"github.com/alpacahq/streamarchive/replaymerge"
)

// Retryer succeeds at a certain trial.
type retryer struct {
	Count     int
	SucceedAt int
}

func (r *retryer) try(_ context.Context) error {
	r.Count++
	if r.Count == r.SucceedAt {
		return nil
	}
	return catchup.ErrRetryable
}

func TestRetryer_Run(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		retryFunc func(ctx context.Context) error
		context   context.Context
		wantErr   error
	}{
		{
			name:      "success",
			retryFunc: func(ctx context.Context) error { return nil },
			context:   context.Background(),
		},
		{
			name:      "not retryable error",
			retryFunc: func(ctx context.Context) error { return errNotRetryable },
			context:   context.Background(),
			wantErr:   errNotRetryable,
		},
		{
			name:      "retryable error until attempts run out",
			retryFunc: func(ctx context.Context) error { return catchup.ErrRetryable },
			context:   context.Background(),
			wantErr:   catchup.ErrMaxAttempts,
		},
		{
			name:      "timeouts are retried",
			retryFunc: func(ctx context.Context) error { return catchup.ErrTimeout },
			context:   context.Background(),
			wantErr:   catchup.ErrMaxAttempts,
		},
		{
			name: "last error is kept once attempts run out",
			retryFunc: func(ctx context.Context) error {
				return catchup.Retryable(replaymerge.ErrReplayImageClosed)
			},
			context: context.Background(),
			wantErr: replaymerge.ErrReplayImageClosed,
		},
		{
			name: "succeed at the 3rd try",
			retryFunc: func() func(ctx context.Context) error {
				r := retryer{SucceedAt: 3}
				return r.try
			}(),
			context: context.Background(),
		},
		{
			name: "don't retry if context is canceled",
			retryFunc: func(ctx context.Context) error {
				return catchup.ErrRetryable
			},
			context: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx // already canceled context is passed
			}(),
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			r := catchup.NewRetryer(tt.retryFunc, 10*time.Millisecond, 2, 4)

			// --- when ---
			err := r.Run(tt.context)

			// --- then ---
			if tt.wantErr == nil {
				assert.Nil(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

var errNotRetryable = errors.New("some error")

func TestRetryable(t *testing.T) {
	t.Parallel()

	err := catchup.Retryable(replaymerge.ErrDestinationFailure)

	assert.ErrorIs(t, err, catchup.ErrRetryable)
	assert.ErrorIs(t, err, replaymerge.ErrDestinationFailure)
	assert.False(t, errors.Is(err, replaymerge.ErrReplayImageClosed))
	assert.Nil(t, catchup.Retryable(nil))
}
