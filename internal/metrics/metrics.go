// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_records_ingested_total",
			Help: "Total number of records accepted into the buffer",
		},
		[]string{"source"},
	)

	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_duplicates_dropped_total",
			Help: "Total number of records dropped by dedup within the window",
		},
	)

	SubmitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_submit_rejections_total",
			Help: "Total number of submissions rejected or timed out under backpressure",
		},
		[]string{"mode"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veilpipe_queue_depth",
			Help: "Current depth of the ingestion buffer",
		},
	)

	BackpressureActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veilpipe_backpressure_active",
			Help: "1 while queue depth is at or above the backpressure threshold",
		},
	)

	// Batch metrics
	BatchesFormed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_batches_formed_total",
			Help: "Total number of batches formed, by trigger (size or age)",
		},
		[]string{"trigger"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veilpipe_batch_size",
			Help:    "Distribution of formed batch sizes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Processing metrics
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_records_processed_total",
			Help: "Total number of processed records by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veilpipe_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veilpipe_record_duration_seconds",
			Help:    "End-to-end duration of one processing attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retry and dead-letter metrics
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_retries_scheduled_total",
			Help: "Total number of retries scheduled with backoff",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_dead_letters_total",
			Help: "Total number of records routed to the dead-letter store",
		},
		[]string{"reason"},
	)

	DeadLetterReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_dead_letter_replays_total",
			Help: "Total number of dead-letter entries resubmitted for replay",
		},
	)

	// Checkpoint metrics
	CheckpointsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_checkpoints_written_total",
			Help: "Total number of checkpoints persisted",
		},
	)

	CheckpointPosition = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "veilpipe_checkpoint_position",
			Help: "Furthest durably processed source position",
		},
	)

	// Source metrics
	SourcePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_source_polls_total",
			Help: "Total number of source polls by status",
		},
		[]string{"status"},
	)

	SourceRecordsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_source_records_filtered_total",
			Help: "Total number of raw records excluded by filter rules",
		},
	)

	// Sink metrics
	SinkPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_sink_persisted_total",
			Help: "Total number of processed records persisted by status",
		},
		[]string{"status"},
	)

	// Notifier metrics
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veilpipe_alerts_emitted_total",
			Help: "Total number of alert events emitted",
		},
		[]string{"severity"},
	)

	NotifierFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veilpipe_notifier_failures_total",
			Help: "Total number of notification publish failures (logged and dropped)",
		},
	)
)
