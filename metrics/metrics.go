package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "streamarchive"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// TotalDiskUsageBytes stores the disk usage of the archive directory
	TotalDiskUsageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total_disk_usage_bytes",
			Help:      "Bytes actually allocated on disk by the archive directory",
		},
	)

	// RecordedBytesTotal stores the number of bytes appended to segment files
	RecordedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recorded_bytes_total",
		Help:      "Number of bytes appended to segment files",
	})

	// SegmentRolloversTotal stores the number of segment files opened after the first one
	SegmentRolloversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "segment_rollovers_total",
		Help:      "Number of segment rollovers",
	})

	// WriterFailuresTotal stores the number of failed recording writers partitioned by kind
	WriterFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "writer_failures_total",
		Help:      "Number of recording writer failures partitioned by kind (io, aborted, configuration)",
	}, []string{"kind"})

	// ActiveRecordings stores the number of recordings in progress
	ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_recordings",
		Help:      "Number of recordings in progress",
	})

	// ActiveReplays stores the number of replay sessions in progress
	ActiveReplays = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "active_replays",
		Help:      "Number of replay sessions in progress",
	})

	// ReplayedBytesTotal stores the number of bytes sent by replay sessions
	ReplayedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replayed_bytes_total",
		Help:      "Number of bytes sent by replay sessions",
	})

	// MergeAttemptsTotal stores the number of replay merge attempts
	MergeAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "merge_attempts_total",
		Help:      "Number of replay merge attempts",
	})

	// MergeResultsTotal stores the outcome of finished replay merge attempts
	// partitioned by result
	MergeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "merge_results_total",
		Help:      "Number of finished replay merge attempts partitioned by result (merged, failed, timeout)",
	}, []string{"result"})

	// CatchupDuration stores the time from the first merge attempt until live data is consumed
	CatchupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "catchup_duration_seconds",
		Help:      "Time taken to catch up from a recording and join the live stream",
	})

	// StreamEventsDroppedTotal stores the number of recording events not delivered to
	// websocket subscribers
	StreamEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stream_events_dropped_total",
		Help:      "Number of recording events that could not be pushed to a websocket subscriber",
	})

	// RPCTotalRequestDuration stores the processing time for every control request
	RPCTotalRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rpc_total_request_duration_seconds",
		Help:      "RPC request processing time for every request",
	})

	// RPCSuccessfulRequestDuration stores the processing time for successful
	// requests partitioned by method
	RPCSuccessfulRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rpc_successful_request_duration_seconds",
		Help:      "RPC request processing time for successful requests partitioned by method",
	}, []string{"method"})
)
