package di

import (
	"github.com/alpacahq/streamarchive/feedmanager"
	"github.com/alpacahq/streamarchive/utils/log"
)

// GetFeeds adds a publication for every configured synthetic feed. They are started with
// StartFeeds.
func (c *Container) GetFeeds() []*feedmanager.Feed {
	if c.feeds != nil {
		return c.feeds
	}
	feeds := make([]*feedmanager.Feed, 0, len(c.cfg.Publications))
	for _, p := range c.cfg.Publications {
		fd, err := feedmanager.NewFeed(c.GetMedia(), p.Channel, p.StreamID, p.MessageLength)
		if err != nil {
			log.Error("Unable to add publication %s. err=%v", p.Channel, err)
			panic(err)
		}
		feeds = append(feeds, fd)
	}
	c.feeds = feeds
	return c.feeds
}

func (c *Container) StartFeeds() {
	for i, fd := range c.GetFeeds() {
		feedmanager.PollFeed(c.ctx, c.cfg.Publications[i].Interval, fd)
	}
}
