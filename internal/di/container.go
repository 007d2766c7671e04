package di

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/feedmanager"
	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/frontend/stream"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils"
	"github.com/alpacahq/streamarchive/utils/log"
)

// Container builds the archive's components on first use and hands out the same instance
// afterwards. Construction failures panic, as they only happen at startup.
type Container struct {
	cfg        *utils.ArchiveConfig
	ctx        context.Context
	absRootDir string
	media      *transport.Media
	catalog    *catalog.Catalog
	archive    *archive.Archive
	hub        *stream.Hub
	service    *frontend.ArchiveService
	rpcServer  *frontend.RpcServer
	feeds      []*feedmanager.Feed
}

func NewContainer(ctx context.Context, cfg *utils.ArchiveConfig) *Container {
	return &Container{cfg: cfg, ctx: ctx}
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.cfg.RootDirectory

	// rootDir is the absolute path to the archive directory.
	// e.g. rootDir = "/project/streamarchive/data"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of root directory %s", err.Error())
		panic(err)
	}
	log.Info("Root Directory: %s", rootDir)
	const ownerGroupAll = 0o770
	err = os.MkdirAll(rootDir, ownerGroupAll)
	if err != nil {
		log.Error("Could not create root directory: %s", err.Error())
		panic(err)
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

func (c *Container) GetStartTime() time.Time {
	return c.cfg.StartTime
}
