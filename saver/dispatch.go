package saver

import (
	"github.com/pkg/errors"

	"github.com/jmball/mqtt-saver/bus"
	"github.com/jmball/mqtt-saver/metrics"
	"github.com/jmball/mqtt-saver/utils/log"
	"github.com/jmball/mqtt-saver/wire"
)

// runCompleteMsg is the lifecycle signal the rig publishes on
// measurement/log when a run has finished.
const runCompleteMsg = "Run complete!"

// Dispatcher routes inbound messages to the writer, the ingestor or the
// run context, in strict arrival order. Handle is only ever called from
// the single dispatch goroutine; failures are confined to the message that
// caused them.
type Dispatcher struct {
	run      *RunContext
	writer   *Writer
	ingestor *Ingestor
	trigger  func()
}

// NewDispatcher wires the dispatch targets together. trigger, when
// non-nil, fires the backup worker on run completion.
func NewDispatcher(run *RunContext, writer *Writer, ingestor *Ingestor, trigger func()) *Dispatcher {
	return &Dispatcher{run: run, writer: writer, ingestor: ingestor, trigger: trigger}
}

// Handle processes one message. It never returns an error and never
// panics the loop: a bad message is logged and dropped.
func (d *Dispatcher) Handle(m bus.Message) {
	route, err := wire.ParseTopic(m.Topic)
	if err != nil {
		log.Debug("saver not acting on topic %q: %v", m.Topic, err)
		return
	}

	switch route.Domain {
	case wire.DomainData:
		err = d.handleData(route, m.Payload)
	case wire.DomainCalibration:
		err = d.handleCalibration(route, m.Payload)
	case wire.DomainMeasurement:
		switch route.Kind {
		case wire.KindRun:
			err = d.ingestor.Ingest(m.Payload)
		case wire.KindLog:
			err = d.handleLog(m.Payload)
		}
	}

	if err != nil {
		metrics.MessagesDropped.Inc()
		// Integrity failures are loud: they mean the run metadata was
		// tampered with or corrupted in transit.
		if errors.Is(err, wire.ErrIntegrityMismatch) {
			log.Error("rejecting run bundle on %q: %v", m.Topic, err)
			return
		}
		log.Warn("data save issue on %q: %v", m.Topic, err)
	}
}

func (d *Dispatcher) handleData(route wire.Route, payload []byte) error {
	p, err := wire.DecodeData(payload)
	if err != nil {
		return err
	}
	return d.writer.WriteData(route.Kind, p, route.Sub == wire.SubProcessed)
}

func (d *Dispatcher) handleCalibration(route wire.Route, payload []byte) error {
	p, err := wire.DecodeCalibration(payload)
	if err != nil {
		return err
	}
	return d.writer.WriteCalibration(route.Kind, route.Extra, p)
}

func (d *Dispatcher) handleLog(payload []byte) error {
	p, err := wire.DecodeLog(payload)
	if err != nil {
		return err
	}
	if p.Msg != runCompleteMsg {
		return nil
	}

	d.run.EndRun()
	if d.trigger != nil {
		d.trigger()
	}
	log.Debug("run complete; backup trigger set")
	return nil
}
