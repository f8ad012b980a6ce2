package wire

import (
	"fmt"
	"strings"
)

// Topic domains understood by the saver. Anything else is ignored upstream
// by the subscription filters, so an unknown domain here is a decode error.
const (
	DomainData        = "data"
	DomainCalibration = "calibration"
	DomainMeasurement = "measurement"
)

// Data sub-routes.
const (
	SubRaw       = "raw"
	SubProcessed = "processed"
)

// Measurement lifecycle kinds.
const (
	KindRun = "run"
	KindLog = "log"
)

// Route is the typed form of a slash-delimited topic. Kind carries the
// measurement or calibration kind, Extra any trailing qualifier (e.g. the
// psu calibration channel, or the sweep index on iv topics).
type Route struct {
	Domain string
	Sub    string
	Kind   string
	Extra  string
}

// ParseTopic splits a bus topic into a Route. The topic shapes accepted are
// data/<raw|processed>/<kind>[/<extra>], calibration/<kind>[/<extra>] and
// measurement/<run|log>.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")

	switch parts[0] {
	case DomainData:
		if len(parts) < 3 {
			return Route{}, decodeErrf(nil, "data topic too short: %q", topic)
		}
		if parts[1] != SubRaw && parts[1] != SubProcessed {
			return Route{}, decodeErrf(nil, "unknown data sub-route %q in %q", parts[1], topic)
		}
		r := Route{Domain: DomainData, Sub: parts[1], Kind: parts[2]}
		if len(parts) > 3 {
			r.Extra = strings.Join(parts[3:], "/")
		}
		return r, nil
	case DomainCalibration:
		if len(parts) < 2 {
			return Route{}, decodeErrf(nil, "calibration topic too short: %q", topic)
		}
		r := Route{Domain: DomainCalibration, Kind: parts[1]}
		if len(parts) > 2 {
			r.Extra = strings.Join(parts[2:], "/")
		}
		return r, nil
	case DomainMeasurement:
		if len(parts) != 2 || (parts[1] != KindRun && parts[1] != KindLog) {
			return Route{}, decodeErrf(nil, "unknown measurement topic: %q", topic)
		}
		return Route{Domain: DomainMeasurement, Kind: parts[1]}, nil
	}
	return Route{}, decodeErrf(nil, "unroutable topic: %q", topic)
}

// DecodeError marks a malformed topic or payload. The dispatch loop logs
// it and drops the message; it never terminates the loop.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Cause)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Cause }

func decodeErrf(cause error, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...), Cause: cause}
}
