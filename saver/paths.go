package saver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrUnrecognizedKind means a record or calibration kind with no known
// header or filename mapping. The record is dropped; nothing is persisted
// under a guessed header.
var ErrUnrecognizedKind = errors.New("unrecognized record kind")

// Data record kinds, as they appear in the third topic segment.
const (
	KindVT   = "vt_measurement"
	KindIV   = "iv_measurement"
	KindMPPT = "mppt_measurement"
	KindIT   = "it_measurement"
	KindEQE  = "eqe_measurement"
	KindDAQ  = "daq_measurement"
)

// Calibration kinds, as they appear in the second topic segment.
const (
	CalEQE      = "eqe"
	CalSpectrum = "spectrum"
	CalSSDiode  = "solarsim_diode"
	CalRTD      = "rtd"
	CalPSU      = "psu"
)

var eqeHeaderItems = []string{
	"timestamp (s)",
	"wavelength (nm)",
	"X (V)",
	"Y (V)",
	"Aux In 1 (V)",
	"Aux In 2 (V)",
	"Aux In 3 (V)",
	"Aux In 4 (V)",
	"R (V)",
	"Phase (deg)",
	"Freq (Hz)",
	"Ch1 display",
	"Ch2 display",
}

var (
	eqeHeader          = strings.Join(eqeHeaderItems, "\t") + "\n"
	eqeProcessedHeader = strings.TrimSuffix(eqeHeader, "\n") + "\tEQE\n"

	ivHeader          = "voltage (v)\tcurrent (A)\ttime (s)\tstatus\n"
	ivProcessedHeader = strings.TrimSuffix(ivHeader, "\n") + "\tcurrent_density (mA/cm^2)\tpower_density (mW/cm^2)\n"

	daqHeader = "timestamp (s)\tT (degC)\tIntensity (V)\n"

	spectrumCalHeader = "wls (nm)\traw (counts)\n"
	psuCalHeader      = strings.TrimSuffix(ivHeader, "\n") + "\tset_psu_current (A)\n"
)

// dataHeader is a pure lookup keyed by (kind, processed).
func dataHeader(kind string, processed bool) (string, error) {
	switch kind {
	case KindEQE:
		if processed {
			return eqeProcessedHeader, nil
		}
		return eqeHeader, nil
	case KindDAQ:
		return daqHeader, nil
	case KindVT, KindIV, KindMPPT, KindIT:
		if processed {
			return ivProcessedHeader, nil
		}
		return ivHeader, nil
	}
	return "", errors.Wrapf(ErrUnrecognizedKind, "data kind %q", kind)
}

// dataExtension builds the filename extension for a record kind. Sweep
// records get the first letter of their sweep label prefixed, so repeated
// light/dark (or forward/reverse) traces sort apart.
func dataExtension(kind, sweep string) (string, error) {
	base := strings.TrimSuffix(kind, "_measurement")
	if base == kind {
		return "", errors.Wrapf(ErrUnrecognizedKind, "data kind %q", kind)
	}
	if kind == KindIV && sweep != "" {
		return sweep[:1] + base, nil
	}
	return base, nil
}

// ResolveData returns the path a data record belongs in and the header to
// write if the file is new. Current-voltage sweeps may legitimately repeat
// within one device/run, so their extension is probed with an increasing
// integer suffix until a fresh filename is found; every physical sweep gets
// its own file.
func ResolveData(runDir, kind, sweep, deviceID, epoch string, processed bool) (string, string, error) {
	header, err := dataHeader(kind, processed)
	if err != nil {
		return "", "", err
	}
	ext, err := dataExtension(kind, sweep)
	if err != nil {
		return "", "", err
	}

	folder := runDir
	prefix := ""
	if processed {
		folder = filepath.Join(runDir, "processed")
		prefix = "processed_"
	}

	if kind == KindIV {
		for i := 1; ; i++ {
			candidate := filepath.Join(folder, fmt.Sprintf("%s%s_%s.%s%d.tsv", prefix, deviceID, epoch, ext, i))
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, header, nil
			}
		}
	}

	return filepath.Join(folder, fmt.Sprintf("%s%s_%s.%s.tsv", prefix, deviceID, epoch, ext)), header, nil
}

const calTimestampFormat = "2006-01-02_15-04-05_-0700"

// ResolveCalibration returns the identity-keyed path for a calibration
// record and its header. Identity is (kind, diode, extra, human-readable
// timestamp); an existing file of the same identity is never overwritten.
func ResolveCalibration(calDir, kind, diode, extra string, timestamp int64) (string, string, error) {
	ts := time.Unix(timestamp, 0).Format(calTimestampFormat)

	switch kind {
	case CalEQE:
		return filepath.Join(calDir, fmt.Sprintf("%s_%s.%s.cal.tsv", ts, diode, kind)), eqeHeader, nil
	case CalSpectrum:
		return filepath.Join(calDir, fmt.Sprintf("%s.%s.cal.tsv", ts, kind)), spectrumCalHeader, nil
	case CalSSDiode:
		return filepath.Join(calDir, fmt.Sprintf("%s_%s.ss.cal.tsv", ts, diode)), ivHeader, nil
	case CalRTD:
		return filepath.Join(calDir, fmt.Sprintf("%s_%s.%s.cal.tsv", ts, diode, kind)), ivHeader, nil
	case CalPSU:
		return filepath.Join(calDir, fmt.Sprintf("%s_%s_%s.%s.cal.tsv", ts, diode, extra, kind)), psuCalHeader, nil
	}
	return "", "", errors.Wrapf(ErrUnrecognizedKind, "calibration kind %q", kind)
}
