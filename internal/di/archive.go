package di

import (
	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

func (c *Container) GetMedia() *transport.Media {
	if c.media != nil {
		return c.media
	}
	media, err := transport.NewMedia(c.cfg.TermBufferLength)
	if err != nil {
		log.Error("Unable to create the transport media. err=%v", err)
		panic(err)
	}
	c.media = media
	return c.media
}

// GetArchive builds the archive with the stream hub as its event listener, recovering the stop
// positions of recordings left active by a previous run.
func (c *Container) GetArchive() *archive.Archive {
	if c.archive != nil {
		return c.archive
	}
	a, err := archive.New(c.ctx, c.GetMedia(), c.GetCatalog(), archive.Config{
		ArchiveDir:        c.GetAbsRootDir(),
		SegmentFileLength: c.cfg.SegmentFileLength,
		FileSyncLevel:     c.cfg.FileSyncLevel,
		SparseFiles:       c.cfg.SparseFiles,
	}, c.GetStreamHub())
	if err != nil {
		log.Error("Unable to create the archive. err=%v", err)
		panic(err)
	}
	c.archive = a
	return c.archive
}
