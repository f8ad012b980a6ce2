package saver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/jmball/mqtt-saver/metrics"
	"github.com/jmball/mqtt-saver/wire"
)

// areaSentinel marks a device area the operator left unset; the per-run
// override value is substituted before the table reaches disk.
const areaSentinel = -1

// Ingestor validates a run's configuration bundle and persists it beside
// the run's data. Like everything else touching the run context it runs on
// the dispatch goroutine only.
type Ingestor struct {
	run     *RunContext
	key     []byte
	enqueue func(path string)
}

// NewIngestor returns an ingestor verifying bundles against key. enqueue
// has the same contract as in NewWriter.
func NewIngestor(run *RunContext, key []byte, enqueue func(string)) *Ingestor {
	return &Ingestor{run: run, key: key, enqueue: enqueue}
}

// Ingest checks the bundle's integrity, starts the run, and persists the
// run arguments, measurement config and device selection tables. A digest
// mismatch rejects the whole bundle: no run starts and nothing is written.
func (ing *Ingestor) Ingest(raw []byte) error {
	if err := wire.VerifyRunDigest(raw, ing.key); err != nil {
		return err
	}

	p, err := wire.DecodeRun(raw)
	if err != nil {
		return err
	}
	name, err := p.RunName()
	if err != nil {
		return err
	}
	epoch, err := p.Epoch()
	if err != nil {
		return err
	}

	if err := ing.run.StartRun(name, epoch); err != nil {
		return err
	}

	for _, table := range p.Devices {
		path := filepath.Join(ing.run.Dir, fmt.Sprintf("%s_pixel_setup_%s.csv", table.Name, epoch))
		if err := ing.writeDeviceTable(path, table, p); err != nil {
			return err
		}
	}

	argsPath := filepath.Join(ing.run.Dir, fmt.Sprintf("run_args_%s.yaml", epoch))
	if err := ing.writeYAML(argsPath, p.Args); err != nil {
		return err
	}

	configPath := filepath.Join(ing.run.Dir, fmt.Sprintf("measurement_config_%s.yaml", epoch))
	return ing.writeYAML(configPath, p.Config)
}

func (ing *Ingestor) writeDeviceTable(path string, table wire.DeviceTable, p *wire.RunPayload) error {
	pixels := make([]wire.PixelRecord, len(table.Pixels))
	copy(pixels, table.Pixels)

	if override, ok := p.AreaOverride(); ok {
		for i := range pixels {
			if pixels[i].Area == areaSentinel {
				pixels[i].Area = override
			}
			if pixels[i].DarkArea == areaSentinel {
				pixels[i].DarkArea = override
			}
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create device table %q", path)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&pixels, f); err != nil {
		return errors.Wrapf(err, "write device table %q", path)
	}
	ing.created(path)
	return nil
}

func (ing *Ingestor) writeYAML(path string, v map[string]interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %q", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %q", path)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "write %q", path)
	}
	ing.created(path)
	return nil
}

// created records a freshly written config file. Config files are small and
// always worth mirroring, so each one is enqueued unconditionally.
func (ing *Ingestor) created(path string) {
	metrics.FilesCreated.Inc()
	if ing.enqueue != nil {
		ing.enqueue(path)
	}
}
