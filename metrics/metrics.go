package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "saver"

var (
	// RecordsSaved counts persisted data and calibration records.
	RecordsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_saved_total",
		Help:      "Number of records appended to data files",
	})

	// FilesCreated counts newly created data, calibration and config files.
	FilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_created_total",
		Help:      "Number of files created with a header",
	})

	// MessagesDropped counts inbound messages discarded because they could
	// not be decoded or saved.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Number of inbound messages dropped by the dispatch loop",
	})

	// BackupSuccess counts confirmed remote transfers.
	BackupSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_success_total",
		Help:      "Number of files successfully mirrored to the archive",
	})

	// BackupFailure counts failed transfer attempts (the task is requeued).
	BackupFailure = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_failure_total",
		Help:      "Number of failed transfer attempts",
	})

	// QueueDepth tracks the internal queue depths.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Depth of the internal queues",
	}, []string{"queue"})
)
