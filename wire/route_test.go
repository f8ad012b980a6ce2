package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  Route
	}{
		{"data/raw/vt_measurement", Route{Domain: DomainData, Sub: SubRaw, Kind: "vt_measurement"}},
		{"data/processed/iv_measurement/1", Route{Domain: DomainData, Sub: SubProcessed, Kind: "iv_measurement", Extra: "1"}},
		{"calibration/spectrum", Route{Domain: DomainCalibration, Kind: "spectrum"}},
		{"calibration/psu/ch1", Route{Domain: DomainCalibration, Kind: "psu", Extra: "ch1"}},
		{"measurement/run", Route{Domain: DomainMeasurement, Kind: KindRun}},
		{"measurement/log", Route{Domain: DomainMeasurement, Kind: KindLog}},
	}
	for _, c := range cases {
		r, err := ParseTopic(c.topic)
		require.NoError(t, err, c.topic)
		assert.Equal(t, c.want, r, c.topic)
	}
}

func TestParseTopicRejectsUnknownShapes(t *testing.T) {
	bad := []string{
		"",
		"data",
		"data/raw",
		"data/cooked/vt_measurement",
		"measurement/run/extra",
		"measurement/status",
		"plotter/live",
	}
	for _, topic := range bad {
		_, err := ParseTopic(topic)
		require.Error(t, err, topic)
		var de *DecodeError
		assert.ErrorAs(t, err, &de, topic)
	}
}
