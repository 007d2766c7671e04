package start

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alpacahq/streamarchive/feedmanager"
	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/internal/di"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/utils"
	"github.com/alpacahq/streamarchive/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a stream archive server"
	long                  = "This command starts a stream archive server: it records the configured streams and serves replays, recording events and control requests"
	example               = "streamarchive start --config <path>"
	defaultConfigFilePath = "./archive.yml"
	configDesc            = "set the path for the archive YAML configuration file"

	archiveIdleSleep = time.Millisecond
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	defer globalCancel()

	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to the config at the moment) are correct
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	// Attempt to set configuration.
	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}

	c := di.NewContainer(globalCtx, config)

	// Initialize archive services.
	// --------------------------------
	log.Info("initializing archive...")
	start := time.Now()

	a := c.GetArchive()
	c.GetFeeds()
	recordings := map[string]int64{}
	for _, rec := range config.Recordings {
		id, err2 := a.StartRecording(rec.Channel, rec.StreamID)
		if err2 != nil {
			return fmt.Errorf("failed to start recording %s stream=%d: %w", rec.Channel, rec.StreamID, err2)
		}
		recordings[rec.Channel] = id
	}
	c.StartFeeds()
	go a.Run(globalCtx, archiveIdleSleep)

	go metrics.StartDiskUsageMonitor(globalCtx, metrics.TotalDiskUsageBytes, c.GetAbsRootDir(),
		config.DiskUsageMonitorInterval)

	if config.Catchup.LiveDestination != "" {
		if err = startFollower(globalCtx, c, config, recordings); err != nil {
			return err
		}
	}

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	// rpc, websocket, monitoring and utility handlers
	log.Info("launching rpc, websocket and metrics server...")
	srv := &http.Server{
		Addr:              config.ListenURL,
		Handler:           c.GetHTTPMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("enabling control access...")
	frontend.Ready.Store(true)

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err2 != nil {
					log.Error("failed to write goroutine pprof: %v", err2)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				frontend.Ready.Store(false)
				log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
				time.Sleep(config.StopGracePeriod)
				shutdown(c, srv, globalCancel)
				return
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server - error: %w", err)
	}
	log.Info("exiting...")
	return nil
}

func shutdown(c *di.Container, srv *http.Server, cancel context.CancelFunc) {
	feedmanager.KillAllFeeds()
	cancel()
	if err := c.GetArchive().Close(); err != nil {
		log.Error("failed to close the archive: %v", err)
	}
	c.GetStreamHub().Close()

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown the server: %v", err)
	}
}
