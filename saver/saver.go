// Package saver implements the persistence core: run lifecycle state,
// collision-safe path resolution, record/calibration/config writers and the
// single-consumer dispatch loop that feeds them.
package saver

import (
	"path/filepath"
	"time"

	"github.com/eapache/channels"
	"github.com/pkg/errors"

	"github.com/jmball/mqtt-saver/backup"
	"github.com/jmball/mqtt-saver/bus"
	"github.com/jmball/mqtt-saver/metrics"
	"github.com/jmball/mqtt-saver/utils/log"
	"github.com/jmball/mqtt-saver/wire"
)

// Config is the saver's runtime configuration. Everything beyond the
// broker address is optional.
type Config struct {
	// Broker is the MQTT broker host (host, host:port or tcp:// URL).
	Broker string
	// ArchiveURI enables remote backup when set, e.g. ftp://host/drop.
	ArchiveURI string
	// DigestSecret is the shared passphrase run bundles are signed with.
	DigestSecret string
	// Root is the directory runs are saved under; defaults to ".".
	Root string
}

const queueMonitorInterval = 10 * time.Second

// Saver owns the queues and goroutines: bus callback feeds the inbound
// queue, the dispatch loop drains it into files, newly created files feed
// the backup queue, and the backup worker mirrors them to the archive.
type Saver struct {
	cfg        Config
	client     *bus.Client
	inbound    *channels.InfiniteChannel
	dispatcher *Dispatcher
	queue      *backup.Queue
	worker     *backup.Worker
}

// New assembles a saver from cfg. It does not touch the network; call Run.
func New(cfg Config) (*Saver, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}

	s := &Saver{cfg: cfg, inbound: channels.NewInfiniteChannel()}
	s.client = bus.NewClient(cfg.Broker, func(m bus.Message) {
		s.inbound.In() <- m
	})

	var enqueue func(string)
	var trigger func()
	if cfg.ArchiveURI != "" {
		host, base, err := backup.ParseArchiveURI(cfg.ArchiveURI)
		if err != nil {
			return nil, errors.Wrap(err, "configure backup")
		}
		s.queue = backup.NewQueue()
		s.worker = backup.NewWorker(s.queue, backup.FTPUploader(host), base)
		enqueue = s.queue.Add
		trigger = s.queue.Trigger
	}

	run := NewRunContext(cfg.Root)
	writer := NewWriter(run, filepath.Join(cfg.Root, "calibration"), enqueue)
	ingestor := NewIngestor(run, wire.DeriveKey(cfg.DigestSecret), enqueue)
	s.dispatcher = NewDispatcher(run, writer, ingestor, trigger)
	return s, nil
}

// Run connects to the bus and blocks in the dispatch loop until the
// process is terminated.
func (s *Saver) Run() error {
	// The outbound relay must be live before the log sink starts feeding
	// it lines.
	go s.client.RelayLoop()
	log.SetSink(func(level log.Level, msg string) {
		s.client.SendLog(levelNo(level), msg)
	})

	s.client.Connect()

	if s.worker != nil {
		go s.worker.Run()
		log.Debug("backup active to %s", s.cfg.ArchiveURI)
	} else {
		log.Debug("backup not in use")
	}

	go s.monitorQueues()

	log.Info("saving to %s", s.cfg.Root)
	s.dispatchLoop()
	return nil
}

// dispatchLoop is the single consumer of the inbound queue. Routing and
// writing both happen here, so two messages for the same file apply in
// bus-delivery order.
func (s *Saver) dispatchLoop() {
	for v := range s.inbound.Out() {
		s.dispatcher.Handle(v.(bus.Message))
	}
}

func (s *Saver) monitorQueues() {
	tick := time.NewTicker(queueMonitorInterval)
	defer tick.Stop()
	for range tick.C {
		metrics.QueueDepth.WithLabelValues("inbound").Set(float64(s.inbound.Len()))
		metrics.QueueDepth.WithLabelValues("outbound").Set(float64(s.client.OutboundLen()))
		if s.queue != nil {
			metrics.QueueDepth.WithLabelValues("backup").Set(float64(s.queue.Len()))
		}
	}
}

// levelNo maps internal log levels onto the numeric levels the rig's UI
// expects on measurement/log (python logging constants).
func levelNo(level log.Level) int {
	switch level {
	case log.WARNING:
		return 30
	case log.ERROR:
		return 40
	case log.FATAL:
		return 50
	default:
		return 20
	}
}
