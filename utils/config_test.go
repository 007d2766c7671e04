package utils_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/utils"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := utils.ParseConfig([]byte("root_directory: /tmp/archive\n"))
	require.Nil(t, err)

	assert.Equal(t, "/tmp/archive", cfg.RootDirectory)
	assert.Equal(t, "localhost:5993", cfg.ListenURL)
	assert.Equal(t, 128*1024*1024, cfg.SegmentFileLength)
	assert.Equal(t, 64*1024, cfg.TermBufferLength)
	assert.True(t, cfg.SparseFiles)
	assert.Equal(t, 0, cfg.FileSyncLevel)
	assert.Equal(t, 10*time.Minute, cfg.DiskUsageMonitorInterval)
	assert.Equal(t, "localhost:0", cfg.Catchup.ReplayDestination)
	assert.Equal(t, 5*time.Second, cfg.Catchup.MergeTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Catchup.RetryInterval)
	assert.Equal(t, 2, cfg.Catchup.RetryBackoffCoeff)
	assert.Equal(t, int64(0), cfg.Catchup.CatchupThreshold)
	assert.Equal(t, 10, cfg.Catchup.FragmentLimit)
}

func TestParseConfig(t *testing.T) {
	const full = `
root_directory: /data/archive
listen_url: 0.0.0.0:6000
segment_file_length: 1M
term_buffer_length: 262144
file_sync_level: 2
sparse_files: false
stop_grace_period: 3
recordings:
  - channel: localhost:20121
    stream_id: 1001
publications:
  - channel: localhost:20121
    stream_id: 1001
    interval: 5ms
catchup:
  live_destination: localhost:20121
  merge_timeout: 2s
  catchup_threshold: 32K
  max_attempts: 7
  require_live_data: true
`
	cfg, err := utils.ParseConfig([]byte(full))
	require.Nil(t, err)

	assert.Equal(t, "0.0.0.0:6000", cfg.ListenURL)
	assert.Equal(t, 1024*1024, cfg.SegmentFileLength)
	assert.Equal(t, 256*1024, cfg.TermBufferLength)
	assert.Equal(t, 2, cfg.FileSyncLevel)
	assert.False(t, cfg.SparseFiles)
	assert.Equal(t, 3*time.Second, cfg.StopGracePeriod)
	require.Len(t, cfg.Recordings, 1)
	assert.Equal(t, &utils.RecordingSetting{Channel: "localhost:20121", StreamID: 1001}, cfg.Recordings[0])
	require.Len(t, cfg.Publications, 1)
	assert.Equal(t, 5*time.Millisecond, cfg.Publications[0].Interval)
	assert.Equal(t, 64, cfg.Publications[0].MessageLength)
	assert.Equal(t, "localhost:20121", cfg.Catchup.LiveDestination)
	assert.Equal(t, 2*time.Second, cfg.Catchup.MergeTimeout)
	assert.Equal(t, int64(32*1024), cfg.Catchup.CatchupThreshold)
	assert.Equal(t, 7, cfg.Catchup.MaxAttempts)
	assert.True(t, cfg.Catchup.RequireLiveData)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]struct {
		config string
	}{
		"no root directory": {
			config: "listen_url: localhost:5993\n",
		},
		"term length not a power of two": {
			config: "root_directory: /a\nterm_buffer_length: 100000\n",
		},
		"segment length below the minimum": {
			config: "root_directory: /a\nsegment_file_length: 32K\n",
		},
		"segment length not a multiple of the term length": {
			config: "root_directory: /a\nsegment_file_length: 64K\nterm_buffer_length: 128K\n",
		},
		"file sync level out of range": {
			config: "root_directory: /a\nfile_sync_level: 3\n",
		},
		"recording without channel": {
			config: "root_directory: /a\nrecordings:\n  - stream_id: 1\n",
		},
		"unparsable length": {
			config: "root_directory: /a\nsegment_file_length: lots\n",
		},
		"unparsable merge timeout": {
			config: "root_directory: /a\ncatchup:\n  merge_timeout: soon\n",
		},
		"malformed yaml": {
			config: "root_directory: [/a\n",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
					_, err := utils.ParseConfig([]byte(tt.config))
			assert.ErrorIs(t, err, archive.ErrConfiguration)
		})
	}
}
