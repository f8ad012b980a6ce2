package saver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jmball/mqtt-saver/wire"
)

func dataPayload(t *testing.T, data interface{}, label string, pixel int, sweep string) *wire.DataPayload {
	t.Helper()
	b, err := msgpack.Marshal(map[string]interface{}{
		"data":  data,
		"pixel": map[string]interface{}{"label": label, "pixel": pixel},
		"sweep": sweep,
	})
	require.NoError(t, err)
	p, err := wire.DecodeData(b)
	require.NoError(t, err)
	return p
}

type enqueueSpy struct {
	paths []string
}

func (e *enqueueSpy) add(path string) { e.paths = append(e.paths, path) }

func newTestWriter(t *testing.T) (*Writer, *RunContext, *enqueueSpy) {
	t.Helper()
	root := t.TempDir()
	rc := NewRunContext(root)
	require.NoError(t, rc.StartRun("r1", "E1"))
	spy := &enqueueSpy{}
	return NewWriter(rc, filepath.Join(root, "calibration"), spy.add), rc, spy
}

func TestWriteDataHeaderWrittenExactlyOnce(t *testing.T) {
	w, rc, spy := newTestWriter(t)

	for i := 0; i < 3; i++ {
		p := dataPayload(t, []float64{0.1, 1e-3, float64(i), 0}, "sa1", 2, "")
		require.NoError(t, w.WriteData(KindVT, p, false))
	}

	path := filepath.Join(rc.Dir, "sa1_device2_E1.vt.tsv")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(raw)
	assert.Equal(t, 1, strings.Count(content, "voltage (v)"), "header must appear exactly once")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.TrimSuffix(ivHeader, "\n"), lines[0])
	assert.Equal(t, "0.1\t0.001\t1\t0", lines[2])

	// one backup task per created file, not per append
	assert.Equal(t, []string{path}, spy.paths)
}

func TestWriteDataRepeatedSweepsGetOwnFiles(t *testing.T) {
	w, rc, _ := newTestWriter(t)

	for i := 0; i < 3; i++ {
		rows := [][]float64{{float64(i), 1, 2, 0}, {float64(i), 3, 4, 0}}
		p := dataPayload(t, rows, "d1", 1, "light")
		require.NoError(t, w.WriteData(KindIV, p, false))
	}

	for i := 1; i <= 3; i++ {
		path := filepath.Join(rc.Dir, "d1_device1_E1.liv"+string(rune('0'+i))+".tsv")
		raw, err := os.ReadFile(path)
		require.NoError(t, err, path)
		lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
		assert.Len(t, lines, 3, "header plus its own two rows only")
	}
}

func TestWriteDataProcessedSubdir(t *testing.T) {
	w, rc, _ := newTestWriter(t)

	p := dataPayload(t, []float64{0, 1, 2, 3, 4, 5}, "sa1", 1, "")
	require.NoError(t, w.WriteData(KindMPPT, p, true))

	path := filepath.Join(rc.Dir, "processed", "processed_sa1_device1_E1.mppt.tsv")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), strings.TrimSuffix(ivProcessedHeader, "\n")))
}

func TestWriteDataNoActiveRunSynthesizes(t *testing.T) {
	root := t.TempDir()
	rc := NewRunContext(root)
	w := NewWriter(rc, filepath.Join(root, "calibration"), nil)

	p := dataPayload(t, []float64{1, 2, 3, 0}, "sa1", 1, "")
	require.NoError(t, w.WriteData(KindVT, p, false))

	assert.True(t, rc.Active())
	entries, err := os.ReadDir(rc.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "_"+rc.Epoch+".vt.tsv")
}

func TestWriteDataEmptyRowsLoggedNotFatal(t *testing.T) {
	w, rc, _ := newTestWriter(t)

	p := dataPayload(t, []float64{}, "sa1", 1, "")
	require.NoError(t, w.WriteData(KindVT, p, false))

	raw, err := os.ReadFile(filepath.Join(rc.Dir, "sa1_device1_E1.vt.tsv"))
	require.NoError(t, err)
	assert.Equal(t, ivHeader, string(raw), "file holds only its header")
}

func TestWriteDataUnknownKindDropped(t *testing.T) {
	w, _, spy := newTestWriter(t)
	p := dataPayload(t, []float64{1}, "sa1", 1, "")
	err := w.WriteData("humidity_measurement", p, false)
	assert.ErrorIs(t, err, ErrUnrecognizedKind)
	assert.Empty(t, spy.paths)
}

func calPayload(t *testing.T, ts int64, diode string, data [][]float64) *wire.CalibrationPayload {
	t.Helper()
	b, err := msgpack.Marshal(map[string]interface{}{
		"timestamp": ts,
		"diode":     diode,
		"data":      data,
	})
	require.NoError(t, err)
	p, err := wire.DecodeCalibration(b)
	require.NoError(t, err)
	return p
}

func TestWriteCalibrationNeverOverwrites(t *testing.T) {
	w, _, spy := newTestWriter(t)

	first := calPayload(t, 1595938312, "", [][]float64{{350, 0.5}})
	require.NoError(t, w.WriteCalibration(CalSpectrum, "", first))
	require.Len(t, spy.paths, 1)
	path := spy.paths[0]

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// same identity, different data: existing contents must survive
	second := calPayload(t, 1595938312, "", [][]float64{{999, 999}})
	require.NoError(t, w.WriteCalibration(CalSpectrum, "", second))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, spy.paths, 1, "no second backup task for the ignored duplicate")
}

func TestWriteCalibrationRows(t *testing.T) {
	w, _, spy := newTestWriter(t)

	p := calPayload(t, 1595938312, "wl", [][]float64{{350, 0.5}, {400, 0.7}})
	require.NoError(t, w.WriteCalibration(CalRTD, "", p))

	require.Len(t, spy.paths, 1)
	raw, err := os.ReadFile(spy.paths[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "350\t0.5", lines[1])
}
