package saver

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/jmball/mqtt-saver/utils/log"
)

// RunContext holds the active run's directory and filename epoch. It is
// owned by the dispatch goroutine; nothing else reads or writes it, so no
// locking is needed.
type RunContext struct {
	Dir   string
	Epoch string

	root string
}

// NewRunContext returns a context with no active run. Run directories are
// created under root.
func NewRunContext(root string) *RunContext {
	if root == "" {
		root = "."
	}
	return &RunContext{root: root}
}

// Active reports whether a run is in progress.
func (rc *RunContext) Active() bool {
	return rc.Epoch != ""
}

// StartRun creates the run directory exclusively and activates the run. A
// directory that already exists on disk must never be merged into, so on
// collision the run falls back to a deterministic alternate name carrying
// the epoch.
func (rc *RunContext) StartRun(name, epoch string) error {
	if err := os.MkdirAll(rc.root, 0o755); err != nil {
		return errors.Wrapf(err, "create run root %q", rc.root)
	}

	dir := filepath.Join(rc.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !os.IsExist(err) {
			return errors.Wrapf(err, "create run directory %q", dir)
		}
		alt := filepath.Join(rc.root, name+"_"+epoch)
		log.Warn("run directory %q already exists, saving into %q instead", dir, alt)
		if err := os.Mkdir(alt, 0o755); err != nil {
			return errors.Wrapf(err, "create alternate run directory %q", alt)
		}
		dir = alt
	}

	rc.Dir = dir
	rc.Epoch = epoch
	return nil
}

// EnsureActive guarantees an active run with an existing directory before a
// write. If the run start message was missed, a run is synthesized from the
// current time rather than dropping data; if the directory was deleted
// mid-run it is recreated.
func (rc *RunContext) EnsureActive() error {
	if !rc.Active() {
		epoch := strconv.FormatInt(time.Now().Unix(), 10)
		dir := filepath.Join(rc.root, "run_"+epoch)
		log.Warn("got run data but there's no active run; possibly missed the run start message")
		log.Warn("saving into synthesized run directory %q", dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create synthesized run directory %q", dir)
		}
		rc.Dir = dir
		rc.Epoch = epoch
		return nil
	}

	if _, err := os.Stat(rc.Dir); os.IsNotExist(err) {
		log.Warn("run directory %q is missing; the data folder may have been deleted mid-run", rc.Dir)
		log.Warn("recreating %q", rc.Dir)
		if err := os.MkdirAll(rc.Dir, 0o755); err != nil {
			return errors.Wrapf(err, "recreate run directory %q", rc.Dir)
		}
	}
	return nil
}

// EndRun deactivates the run. Data arriving afterwards synthesizes a fresh
// run via EnsureActive.
func (rc *RunContext) EndRun() {
	rc.Dir = ""
	rc.Epoch = ""
}
