package backup

import (
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jmball/mqtt-saver/metrics"
	"github.com/jmball/mqtt-saver/utils/log"
)

// Uploader sends one local file to a remote path and reports whether the
// transfer was confirmed. Implementations must tolerate repeated calls for
// the same file; the worker retries failures forever.
type Uploader func(localPath, remotePath string) error

// Worker drains the backup queue to the remote archive. Exactly one worker
// consumes a queue.
type Worker struct {
	q          *Queue
	upload     Uploader
	base       string
	retryDelay time.Duration
}

const defaultRetryDelay = time.Second

// NewWorker returns a worker mirroring queued files via upload. base is the
// remote base path files are mirrored under.
func NewWorker(q *Queue, upload Uploader, base string) *Worker {
	return &Worker{q: q, upload: upload, base: base, retryDelay: defaultRetryDelay}
}

// Run blocks on the trigger and drains the queue each time it fires. Run it
// on its own goroutine; it never returns.
func (w *Worker) Run() {
	for range w.q.trigger {
		w.drain()
	}
}

// drain uploads tasks one at a time until the queue is empty. Emptiness is
// re-checked every iteration, so tasks enqueued mid-drain are picked up. A
// failed transfer goes back to the tail and the worker pauses briefly to
// bound the retry rate; the task is never discarded unless its source file
// is confirmed missing.
func (w *Worker) drain() {
	for w.q.Len() > 0 {
		task := w.q.take()

		if _, err := os.Stat(task); os.IsNotExist(err) {
			log.Warn("backup source %q no longer exists; dropping task", task)
			continue
		}

		if err := w.upload(task, w.remotePath(task)); err != nil {
			metrics.BackupFailure.Inc()
			log.Warn("temporary data backup failure for %q: %v; retrying", task, err)
			w.q.Add(task)
			time.Sleep(w.retryDelay)
			continue
		}
		metrics.BackupSuccess.Inc()
	}
	log.Debug("backup drain complete")
}

// remotePath maps a local path onto the archive: the path relative to the
// working directory, appended to the archive base path.
func (w *Worker) remotePath(local string) string {
	return path.Join(w.base, filepath.ToSlash(local))
}
