package saver

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jmball/mqtt-saver/metrics"
	"github.com/jmball/mqtt-saver/utils/log"
	"github.com/jmball/mqtt-saver/wire"
)

// Writer appends records to their resolved files, creating each file with
// its header on first write. Every call happens on the dispatch goroutine,
// so no file is ever open in two places at once and writes to one path are
// strictly ordered.
type Writer struct {
	run     *RunContext
	calDir  string
	enqueue func(path string)
}

// NewWriter returns a writer saving under run's directory and calibration
// files under calDir. enqueue, when non-nil, is called once for each newly
// created file so it gets mirrored to the remote archive; nil disables
// backup entirely.
func NewWriter(run *RunContext, calDir string, enqueue func(string)) *Writer {
	return &Writer{run: run, calDir: calDir, enqueue: enqueue}
}

// WriteData persists one data record. Sweep kinds carry a row batch, the
// scalar-sample kinds a single row.
func (w *Writer) WriteData(kind string, p *wire.DataPayload, processed bool) error {
	if err := w.run.EnsureActive(); err != nil {
		return err
	}

	path, header, err := ResolveData(w.run.Dir, kind, p.Sweep, p.DeviceID(), w.run.Epoch, processed)
	if err != nil {
		return err
	}

	var rows [][]float64
	if kind == KindIV {
		rows, err = p.RowBatch()
	} else {
		var row []float64
		row, err = p.Row()
		rows = [][]float64{row}
	}
	if err != nil {
		return err
	}

	if processed {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrapf(err, "create processed directory for %q", path)
		}
	}

	created, err := createWithHeader(path, header)
	if err != nil {
		return err
	}
	if created {
		log.Debug("new save path: %s", path)
		metrics.FilesCreated.Inc()
		if w.enqueue != nil {
			w.enqueue(path)
		}
	}

	if err := appendRows(path, rows); err != nil {
		return err
	}
	metrics.RecordsSaved.Inc()
	return nil
}

// WriteCalibration persists one calibration record. Identity-colliding
// submissions leave the existing file untouched.
func (w *Writer) WriteCalibration(kind, extra string, p *wire.CalibrationPayload) error {
	if err := os.MkdirAll(w.calDir, 0o755); err != nil {
		return errors.Wrapf(err, "create calibration directory %q", w.calDir)
	}

	path, header, err := ResolveCalibration(w.calDir, kind, p.Diode, extra, p.Timestamp)
	if err != nil {
		return err
	}

	created, err := createWithHeader(path, header)
	if err != nil {
		return err
	}
	if !created {
		log.Debug("calibration file %s already exists; leaving it alone", path)
		return nil
	}

	if err := appendRows(path, p.Data); err != nil {
		return err
	}
	metrics.RecordsSaved.Inc()
	metrics.FilesCreated.Inc()
	if w.enqueue != nil {
		w.enqueue(path)
	}
	return nil
}

// createWithHeader creates the file exclusively and writes its header line.
// Returns false without error when the file already exists.
func createWithHeader(path, header string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "create %q", path)
	}
	defer f.Close()

	if _, err := f.WriteString(header); err != nil {
		return true, errors.Wrapf(err, "write header to %q", path)
	}
	return true, nil
}

func appendRows(path string, rows [][]float64) error {
	if len(rows) == 0 || (len(rows) == 1 && len(rows[0]) == 0) {
		log.Debug("empty payload for %s", path)
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %q for append", path)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.Comma = '\t'
	fields := make([]string, 0, 16)
	for _, row := range rows {
		fields = fields[:0]
		for _, v := range row {
			fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(fields); err != nil {
			return errors.Wrapf(err, "append row to %q", path)
		}
	}
	cw.Flush()
	return errors.Wrapf(cw.Error(), "flush %q", path)
}
