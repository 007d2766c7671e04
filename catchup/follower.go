// Package catchup keeps a consumer on a stream: it catches up from the stream's recording with
// a replay merge, follows the live image, and starts over from the last received position
// whenever an attempt fails or stalls.
package catchup

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/replaymerge"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

type Config struct {
	ReplayDestination string
	LiveDestination   string
	StreamID          int32
	RecordingID       int64
	StartPosition     int64
	CatchupThreshold  int64
	RequireLiveData   bool

	// MergeTimeout fails an attempt that delivered nothing for this long.
	MergeTimeout      time.Duration
	RetryInterval     time.Duration
	RetryBackoffCoeff int
	MaxAttempts       int
	FragmentLimit     int
	// IdleSleep is slept after a poll that did no work.
	IdleSleep time.Duration
}

func (c *Config) setDefaults() {
	if c.MergeTimeout <= 0 {
		c.MergeTimeout = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.RetryBackoffCoeff <= 0 {
		c.RetryBackoffCoeff = 2
	}
	if c.FragmentLimit <= 0 {
		c.FragmentLimit = 10
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = time.Millisecond
	}
}

// Follower delivers a stream to handler from StartPosition onwards, across any number of merge
// attempts. It is used from a single goroutine.
type Follower struct {
	sub       replaymerge.Subscription
	archive   replaymerge.ArchiveClient
	positions replaymerge.PositionSource
	cfg       Config
	handler   transport.FragmentHandler

	position int64
	image    *transport.Image
	now      func() time.Time
}

func NewFollower(sub replaymerge.Subscription, archiveClient replaymerge.ArchiveClient,
	positions replaymerge.PositionSource, cfg Config, handler transport.FragmentHandler,
) *Follower {
	cfg.setDefaults()
	return &Follower{
		sub:       sub,
		archive:   archiveClient,
		positions: positions,
		cfg:       cfg,
		handler:   handler,
		position:  cfg.StartPosition,
		now:       time.Now,
	}
}

// Position is the stream position after the last fragment delivered.
func (f *Follower) Position() int64 {
	return f.position
}

// Image is the live image once caught up.
func (f *Follower) Image() *transport.Image {
	return f.image
}

// CatchUp retries merge attempts until one merges and returns the live image.
func (f *Follower) CatchUp(ctx context.Context) (*transport.Image, error) {
	started := f.now()
	err := NewRetryer(f.attempt, f.cfg.RetryInterval, f.cfg.RetryBackoffCoeff, f.cfg.MaxAttempts).Run(ctx)
	if err != nil {
		return nil, err
	}
	metrics.CatchupDuration.Observe(f.now().Sub(started).Seconds())
	return f.image, nil
}

// Run catches up and then follows the live image until ctx is done. When the live image ends
// it catches up again from the last position delivered.
func (f *Follower) Run(ctx context.Context) error {
	return NewRetryer(func(ctx context.Context) error {
		if f.image == nil {
			if err := f.attempt(ctx); err != nil {
				return err
			}
		}
		return f.followLive(ctx)
	}, f.cfg.RetryInterval, f.cfg.RetryBackoffCoeff, f.cfg.MaxAttempts).Run(ctx)
}

func (f *Follower) attempt(ctx context.Context) error {
	rm := replaymerge.New(f.sub, f.archive, f.positions, replaymerge.Config{
		ReplayDestination: f.cfg.ReplayDestination,
		LiveDestination:   f.cfg.LiveDestination,
		StreamID:          f.cfg.StreamID,
		RecordingID:       f.cfg.RecordingID,
		StartPosition:     f.position,
		CatchupThreshold:  f.cfg.CatchupThreshold,
		RequireLiveData:   f.cfg.RequireLiveData,
	})
	log.Info("catching up recording %d from %d", f.cfg.RecordingID, f.position)

	lastProgress := f.now()
	lastState := rm.State()
	for {
		if err := ctx.Err(); err != nil {
			_ = rm.Close()
			return err
		}

		n := rm.Poll(f.onFragment, f.cfg.FragmentLimit)
		if rm.IsMerged() {
			f.image = rm.Image()
			_ = rm.Close()
			return nil
		}
		if rm.HasFailed() {
			_ = rm.Close()
			if errors.Is(rm.Err(), replaymerge.ErrRecordingInactive) {
				return rm.Err()
			}
			return Retryable(rm.Err())
		}

		if n > 0 || rm.State() != lastState {
			lastProgress = f.now()
			lastState = rm.State()
		} else if f.now().Sub(lastProgress) > f.cfg.MergeTimeout {
			_ = rm.Close()
			metrics.MergeResultsTotal.WithLabelValues("timeout").Inc()
			return errors.Wrapf(ErrTimeout, "%s", rm)
		}
		if n == 0 {
			time.Sleep(f.cfg.IdleSleep)
		}
	}
}

func (f *Follower) followLive(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := f.image.Poll(f.onFragment, f.cfg.FragmentLimit)
		if n > 0 {
			continue
		}
		if f.image.IsClosed() {
			f.image = nil
			if err := f.sub.RemoveDestination(f.cfg.LiveDestination); err != nil {
				log.Debug("remove live destination %s: %v", f.cfg.LiveDestination, err)
			}
			return errors.Wrap(ErrRetryable, "live image closed")
		}
		time.Sleep(f.cfg.IdleSleep)
	}
}

func (f *Follower) onFragment(buf []byte, offset, length int, header *transport.Header) {
	f.position = header.Position()
	f.handler(buf, offset, length, header)
}
