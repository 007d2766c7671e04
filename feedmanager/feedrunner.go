package feedmanager

import (
	"context"
	"sync"
	"time"

	"github.com/alpacahq/streamarchive/utils/log"
)

type feedRun struct {
	description string
	cancel      context.CancelFunc
	done        chan struct{}
}

var RunningFeeds struct {
	sync.Mutex
	feeds map[FeedKeyType]*feedRun
}

func init() {
	RunningFeeds.feeds = make(map[FeedKeyType]*feedRun)
}

// PollFeed offers a message from fd every interval until ctx is done or the feed is killed.
// Messages refused by the publication are retried on the next tick.
func PollFeed(ctx context.Context, interval time.Duration, fd *Feed) {
	ctx, cancel := context.WithCancel(ctx)
	run := &feedRun{
		description: fd.Description(interval),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	RunningFeeds.Lock()
	if old, ok := RunningFeeds.feeds[fd.Key]; ok {
		old.cancel()
	}
	RunningFeeds.feeds[fd.Key] = run
	RunningFeeds.Unlock()

	go func() {
		defer close(run.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Info("started feed %s", run.description)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fd.Offer() {
					log.Debug("feed %s not accepted at sequence %d", fd.Publication.Channel(), fd.Sequence)
				}
			}
		}
	}()
}

// Descriptions lists the running feeds.
func Descriptions() []string {
	RunningFeeds.Lock()
	defer RunningFeeds.Unlock()
	ret := make([]string, 0, len(RunningFeeds.feeds))
	for _, run := range RunningFeeds.feeds {
		ret = append(ret, run.description)
	}
	return ret
}

func KillFeed(key FeedKeyType) {
	RunningFeeds.Lock()
	run, ok := RunningFeeds.feeds[key]
	delete(RunningFeeds.feeds, key)
	RunningFeeds.Unlock()
	if ok {
		run.cancel()
		<-run.done
	}
}

func KillAllFeeds() {
	var keys []FeedKeyType
	RunningFeeds.Lock()
	for key := range RunningFeeds.feeds {
		keys = append(keys, key)
	}
	RunningFeeds.Unlock()
	for _, key := range keys {
		KillFeed(key)
	}
}
