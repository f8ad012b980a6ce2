package wire

import (
	"fmt"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// PixelInfo identifies the device a data record belongs to.
type PixelInfo struct {
	Label string `msgpack:"label"`
	Pixel int    `msgpack:"pixel"`
}

// DataPayload is the envelope on data/raw/# and data/processed/# topics.
// Data stays raw until the record kind is known: scalar-sample kinds carry
// one numeric row, sweep kinds a row batch.
type DataPayload struct {
	Data  msgpack.RawMessage `msgpack:"data"`
	Pixel PixelInfo          `msgpack:"pixel"`
	Sweep string             `msgpack:"sweep"`
}

// DecodeData unmarshals a data envelope.
func DecodeData(b []byte) (*DataPayload, error) {
	p := &DataPayload{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, decodeErrf(err, "bad data payload")
	}
	if p.Data == nil {
		return nil, decodeErrf(nil, "data payload missing data field")
	}
	return p, nil
}

// Row decodes the data field as a single numeric row.
func (p *DataPayload) Row() ([]float64, error) {
	var row []float64
	if err := msgpack.Unmarshal(p.Data, &row); err != nil {
		return nil, decodeErrf(err, "data field is not a numeric row")
	}
	return row, nil
}

// RowBatch decodes the data field as a batch of numeric rows.
func (p *DataPayload) RowBatch() ([][]float64, error) {
	var rows [][]float64
	if err := msgpack.Unmarshal(p.Data, &rows); err != nil {
		return nil, decodeErrf(err, "data field is not a row batch")
	}
	return rows, nil
}

// DeviceID builds the filename identity for the record's device. Records
// without usable pixel info still get saved, under a placeholder identity.
func (p *DataPayload) DeviceID() string {
	if p.Pixel.Label == "" {
		return "unknown_deviceX"
	}
	return fmt.Sprintf("%s_device%d", p.Pixel.Label, p.Pixel.Pixel)
}

// CalibrationPayload is the envelope on calibration/# topics.
type CalibrationPayload struct {
	Timestamp int64       `msgpack:"timestamp"`
	Diode     string      `msgpack:"diode"`
	Data      [][]float64 `msgpack:"data"`
}

// DecodeCalibration unmarshals a calibration envelope.
func DecodeCalibration(b []byte) (*CalibrationPayload, error) {
	p := &CalibrationPayload{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, decodeErrf(err, "bad calibration payload")
	}
	if p.Timestamp <= 0 {
		return nil, decodeErrf(nil, "calibration payload missing timestamp")
	}
	return p, nil
}

// PixelRecord is one row of a device selection table. The csv tags are the
// column allow-list: anything the sender packs beyond these fields is
// dropped on decode and never reaches disk.
type PixelRecord struct {
	Substrate string  `msgpack:"substrate" csv:"substrate"`
	Pixel     int     `msgpack:"pixel" csv:"pixel"`
	Label     string  `msgpack:"label" csv:"label"`
	PosX      float64 `msgpack:"pos_x" csv:"pos_x"`
	PosY      float64 `msgpack:"pos_y" csv:"pos_y"`
	Area      float64 `msgpack:"area" csv:"area"`
	DarkArea  float64 `msgpack:"dark_area" csv:"dark_area"`
	MuxIndex  int     `msgpack:"mux_index" csv:"mux_index"`
}

// DeviceTable is one named device selection table bundled with a run.
type DeviceTable struct {
	Name   string        `msgpack:"name"`
	Pixels []PixelRecord `msgpack:"pixels"`
}

// RunPayload is the envelope on measurement/run. Args and Config stay
// generic maps because their contents are rig-defined and persisted
// verbatim as YAML; only the handful of fields the saver itself consumes
// are validated here.
type RunPayload struct {
	Args    map[string]interface{} `msgpack:"args"`
	Config  map[string]interface{} `msgpack:"config"`
	Devices []DeviceTable          `msgpack:"devices"`
	Digest  []byte                 `msgpack:"digest"`
}

// DecodeRun unmarshals and validates a run envelope. The digest is NOT
// checked here; integrity verification runs over the raw bytes, see
// VerifyRunDigest.
func DecodeRun(b []byte) (*RunPayload, error) {
	p := &RunPayload{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, decodeErrf(err, "bad run payload")
	}
	if p.Args == nil {
		return nil, decodeErrf(nil, "run payload missing args")
	}
	if _, err := p.RunName(); err != nil {
		return nil, err
	}
	if _, err := p.Epoch(); err != nil {
		return nil, err
	}
	return p, nil
}

// RunName returns args.run_name, the directory name for the run.
func (p *RunPayload) RunName() (string, error) {
	return p.argString("run_name")
}

// Epoch returns args.run_name_suffix, the token embedded in every filename
// belonging to the run.
func (p *RunPayload) Epoch() (string, error) {
	return p.argString("run_name_suffix")
}

// AreaOverride returns args.a_ovr_spin, the substitute for sentinel device
// areas, and whether it was supplied.
func (p *RunPayload) AreaOverride() (float64, bool) {
	v, ok := p.Args["a_ovr_spin"]
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	return f, ok
}

func (p *RunPayload) argString(key string) (string, error) {
	v, ok := p.Args[key]
	if !ok {
		return "", decodeErrf(nil, "run payload missing args.%s", key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	// The decoder hands integers back at their narrowest width.
	if i, ok := toInt64(v); ok {
		return strconv.FormatInt(i, 10), nil
	}
	return "", decodeErrf(nil, "run payload args.%s has unusable type %T", key, v)
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint:
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// LogPayload is the envelope on measurement/log, both inbound (run
// lifecycle signals ride on it) and outbound (relayed saver log lines).
type LogPayload struct {
	Level int    `msgpack:"level"`
	Msg   string `msgpack:"msg"`
}

// DecodeLog unmarshals a log envelope.
func DecodeLog(b []byte) (*LogPayload, error) {
	p := &LogPayload{}
	if err := msgpack.Unmarshal(b, p); err != nil {
		return nil, decodeErrf(err, "bad log payload")
	}
	return p, nil
}
