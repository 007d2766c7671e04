package start

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"

	"github.com/alpacahq/streamarchive/catchup"
	"github.com/alpacahq/streamarchive/internal/di"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils"
	"github.com/alpacahq/streamarchive/utils/log"
)

// startFollower runs an in-process consumer that catches up on the recording of the catch-up
// live destination from its start and then follows it live.
func startFollower(ctx context.Context, c *di.Container, config *utils.ArchiveConfig,
	recordings map[string]int64,
) error {
	live := config.Catchup.LiveDestination
	recordingID, ok := recordings[live]
	if !ok {
		return fmt.Errorf("catchup live destination %s is not recorded", live)
	}
	var streamID int32
	for _, rec := range config.Recordings {
		if rec.Channel == live {
			streamID = rec.StreamID
		}
	}
	a := c.GetArchive()
	d, err := a.Catalog().RecordingDescriptor(recordingID)
	if err != nil {
		return err
	}

	received := atomic.NewInt64(0)
	follower := catchup.NewFollower(c.GetMedia().AddSubscription(streamID), a, a.Positions(), catchup.Config{
		ReplayDestination: config.Catchup.ReplayDestination,
		LiveDestination:   live,
		StreamID:          streamID,
		RecordingID:       recordingID,
		StartPosition:     d.StartPosition,
		CatchupThreshold:  config.Catchup.CatchupThreshold,
		RequireLiveData:   config.Catchup.RequireLiveData,
		MergeTimeout:      config.Catchup.MergeTimeout,
		RetryInterval:     config.Catchup.RetryInterval,
		RetryBackoffCoeff: config.Catchup.RetryBackoffCoeff,
		MaxAttempts:       config.Catchup.MaxAttempts,
		FragmentLimit:     config.Catchup.FragmentLimit,
	}, func([]byte, int, int, *transport.Header) {
		received.Inc()
	})

	go func() {
		err := follower.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("follower of recording %d stopped: %v", recordingID, err)
		}
		log.Info("follower of recording %d received %d messages up to position %d", recordingID,
			received.Load(), follower.Position())
	}()
	return nil
}
