package utils

import (
	"fmt"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

const (
	defaultListenURL                = "localhost:5993"
	defaultSegmentFileLength        = 128 * 1024 * 1024
	defaultTermBufferLength         = 64 * 1024
	defaultStopGracePeriod          = 0
	defaultDiskUsageMonitorInterval = 10 * time.Minute
	defaultMergeTimeout             = 5 * time.Second
	defaultRetryInterval            = 100 * time.Millisecond
	defaultRetryBackoffCoeff        = 2
	defaultFragmentLimit            = 10
	defaultReplayDestination        = "localhost:0"
	defaultPublishInterval          = 10 * time.Millisecond
	defaultMessageLength            = 64
)

type RecordingSetting struct {
	Channel  string
	StreamID int32
}

// PublicationSetting describes a synthetic in-process publisher, used to feed the archive
// when no external source is attached.
type PublicationSetting struct {
	Channel       string
	StreamID      int32
	Interval      time.Duration
	MessageLength int
}

type CatchupSetting struct {
	ReplayDestination string
	LiveDestination   string
	MergeTimeout      time.Duration
	RetryInterval     time.Duration
	RetryBackoffCoeff int
	MaxAttempts       int
	CatchupThreshold  int64
	RequireLiveData   bool
	FragmentLimit     int
}

type ArchiveConfig struct {
	RootDirectory            string
	ListenURL                string
	LogLevel                 log.Level
	SegmentFileLength        int
	TermBufferLength         int
	FileSyncLevel            int
	SparseFiles              bool
	StopGracePeriod          time.Duration
	DiskUsageMonitorInterval time.Duration
	Recordings               []*RecordingSetting
	Publications             []*PublicationSetting
	Catchup                  CatchupSetting
	StartTime                time.Time
}

// ParseConfig reads a YAML archive configuration. Validation failures are reported as
// archive.ErrConfiguration.
func ParseConfig(data []byte) (*ArchiveConfig, error) {
	var (
		m   = &ArchiveConfig{StartTime: time.Now()}
		aux struct {
			RootDirectory            string `yaml:"root_directory"`
			ListenURL                string `yaml:"listen_url"`
			LogLevel                 string `yaml:"log_level"`
			SegmentFileLength        string `yaml:"segment_file_length"`
			TermBufferLength         string `yaml:"term_buffer_length"`
			FileSyncLevel            int    `yaml:"file_sync_level"`
			SparseFiles              string `yaml:"sparse_files"`
			StopGracePeriod          int    `yaml:"stop_grace_period"`
			DiskUsageMonitorInterval int    `yaml:"disk_usage_monitor_interval"`
			Recordings               []struct {
				Channel  string `yaml:"channel"`
				StreamID int32  `yaml:"stream_id"`
			} `yaml:"recordings"`
			Publications []struct {
				Channel       string `yaml:"channel"`
				StreamID      int32  `yaml:"stream_id"`
				Interval      string `yaml:"interval"`
				MessageLength int    `yaml:"message_length"`
			} `yaml:"publications"`
			Catchup struct {
				ReplayDestination string `yaml:"replay_destination"`
				LiveDestination   string `yaml:"live_destination"`
				MergeTimeout      string `yaml:"merge_timeout"`
				RetryInterval     string `yaml:"retry_interval"`
				RetryBackoffCoeff int    `yaml:"retry_backoff_coeff"`
				MaxAttempts       int    `yaml:"max_attempts"`
				CatchupThreshold  string `yaml:"catchup_threshold"`
				RequireLiveData   bool   `yaml:"require_live_data"`
				FragmentLimit     int    `yaml:"fragment_limit"`
			} `yaml:"catchup"`
		}
	)

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, errors.Wrap(archive.ErrConfiguration, err.Error())
	}

	if aux.RootDirectory == "" {
		return nil, errors.Wrap(archive.ErrConfiguration, "invalid root directory")
	}
	m.RootDirectory = aux.RootDirectory

	m.ListenURL = aux.ListenURL
	if m.ListenURL == "" {
		m.ListenURL = defaultListenURL
	}

	m.LogLevel = log.ParseLevel(aux.LogLevel)
	log.SetLevel(m.LogLevel)

	var err error
	m.TermBufferLength, err = parseLength(aux.TermBufferLength, defaultTermBufferLength)
	if err != nil {
		return nil, errors.Wrap(err, "term_buffer_length")
	}
	if err = transport.ValidateTermLength(m.TermBufferLength); err != nil {
		return nil, errors.Wrap(archive.ErrConfiguration, err.Error())
	}

	m.SegmentFileLength, err = parseLength(aux.SegmentFileLength, defaultSegmentFileLength)
	if err != nil {
		return nil, errors.Wrap(err, "segment_file_length")
	}
	if err = archive.ValidateSegmentFileLength(m.SegmentFileLength, m.TermBufferLength); err != nil {
		return nil, err
	}

	if aux.FileSyncLevel < 0 || aux.FileSyncLevel > 2 {
		return nil, errors.Wrapf(archive.ErrConfiguration, "file_sync_level must be 0, 1 or 2: %d", aux.FileSyncLevel)
	}
	m.FileSyncLevel = aux.FileSyncLevel

	m.SparseFiles = true
	if aux.SparseFiles != "" {
		sparse, err2 := strconv.ParseBool(aux.SparseFiles)
		if err2 != nil {
			log.Error("Invalid value: %v for sparse_files. Using sparse segment files...", aux.SparseFiles)
		} else {
			m.SparseFiles = sparse
		}
	}

	m.StopGracePeriod = defaultStopGracePeriod
	if aux.StopGracePeriod > 0 {
		m.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	m.DiskUsageMonitorInterval = defaultDiskUsageMonitorInterval
	if aux.DiskUsageMonitorInterval > 0 {
		m.DiskUsageMonitorInterval = time.Duration(aux.DiskUsageMonitorInterval) * time.Second
	}

	for _, rec := range aux.Recordings {
		if rec.Channel == "" {
			return nil, errors.Wrap(archive.ErrConfiguration, "recording without channel")
		}
		m.Recordings = append(m.Recordings, &RecordingSetting{
			Channel:  rec.Channel,
			StreamID: rec.StreamID,
		})
	}

	for _, pub := range aux.Publications {
		if pub.Channel == "" {
			return nil, errors.Wrap(archive.ErrConfiguration, "publication without channel")
		}
		interval, err2 := parseDuration(pub.Interval, defaultPublishInterval)
		if err2 != nil {
			return nil, errors.Wrap(err2, "publications.interval")
		}
		msgLen := pub.MessageLength
		if msgLen <= 0 {
			msgLen = defaultMessageLength
		}
		m.Publications = append(m.Publications, &PublicationSetting{
			Channel:       pub.Channel,
			StreamID:      pub.StreamID,
			Interval:      interval,
			MessageLength: msgLen,
		})
	}

	if err = m.parseCatchup(aux.Catchup.ReplayDestination, aux.Catchup.LiveDestination,
		aux.Catchup.MergeTimeout, aux.Catchup.RetryInterval, aux.Catchup.CatchupThreshold); err != nil {
		return nil, err
	}
	m.Catchup.RetryBackoffCoeff = defaultRetryBackoffCoeff
	if aux.Catchup.RetryBackoffCoeff > 0 {
		m.Catchup.RetryBackoffCoeff = aux.Catchup.RetryBackoffCoeff
	}
	m.Catchup.MaxAttempts = aux.Catchup.MaxAttempts
	m.Catchup.RequireLiveData = aux.Catchup.RequireLiveData
	m.Catchup.FragmentLimit = defaultFragmentLimit
	if aux.Catchup.FragmentLimit > 0 {
		m.Catchup.FragmentLimit = aux.Catchup.FragmentLimit
	}

	return m, nil
}

func (m *ArchiveConfig) parseCatchup(replayDest, liveDest, mergeTimeout, retryInterval, threshold string) error {
	var err error
	m.Catchup.ReplayDestination = replayDest
	if m.Catchup.ReplayDestination == "" {
		m.Catchup.ReplayDestination = defaultReplayDestination
	}
	m.Catchup.LiveDestination = liveDest

	if m.Catchup.MergeTimeout, err = parseDuration(mergeTimeout, defaultMergeTimeout); err != nil {
		return errors.Wrap(err, "catchup.merge_timeout")
	}
	if m.Catchup.RetryInterval, err = parseDuration(retryInterval, defaultRetryInterval); err != nil {
		return errors.Wrap(err, "catchup.retry_interval")
	}

	// zero means "derive from the term length" at merge time
	length, err := parseLength(threshold, 0)
	if err != nil {
		return errors.Wrap(err, "catchup.catchup_threshold")
	}
	m.Catchup.CatchupThreshold = int64(length)
	return nil
}

// parseLength accepts either a plain byte count or a human readable size such as "128M".
func parseLength(s string, defaultValue int) (int, error) {
	if s == "" {
		return defaultValue, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, errors.Wrap(archive.ErrConfiguration, fmt.Sprintf("invalid length %q: %v", s, err))
	}
	return int(n), nil
}

func parseDuration(s string, defaultValue time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrap(archive.ErrConfiguration, fmt.Sprintf("invalid duration %q: %v", s, err))
	}
	return d, nil
}
