package start

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmball/mqtt-saver/saver"
	"github.com/jmball/mqtt-saver/utils/log"
)

const (
	usage   = "start"
	short   = "Start the saver service"
	long    = "This command starts the saver, which subscribes to the measurement bus and archives everything it hears"
	example = "mqtt-saver start --broker 127.0.0.1"

	ftpEnvVar    = "SAVER_FTP"
	digestEnvVar = "SAVER_DIGEST_KEY"

	// defaultDigestSecret is the rig-wide default passphrase for run
	// bundle digests; override with SAVER_DIGEST_KEY.
	defaultDigestSecret = "centralcontrol"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"run", "up"},
		Example:    example,
		RunE:       executeStart,
	}

	flagBroker      string
	flagFTPURI      string
	flagDataDir     string
	flagMonitorPort int
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&flagBroker, "broker", "b", "127.0.0.1", "IP address or hostname of the MQTT broker")
	Cmd.Flags().StringVar(&flagFTPURI, "ftp-uri", "", "full FTP server address and remote path for backup, e.g. ftp://host/drop; falls back to "+ftpEnvVar)
	Cmd.Flags().StringVar(&flagDataDir, "data-dir", ".", "directory run folders and calibration data are saved under")
	Cmd.Flags().IntVar(&flagMonitorPort, "monitor-port", 0, "serve prometheus metrics on this port (0 disables)")
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	ftpURI := flagFTPURI
	if ftpURI == "" {
		ftpURI = os.Getenv(ftpEnvVar)
	}

	secret := os.Getenv(digestEnvVar)
	if secret == "" {
		secret = defaultDigestSecret
	}

	s, err := saver.New(saver.Config{
		Broker:       flagBroker,
		ArchiveURI:   ftpURI,
		DigestSecret: secret,
		Root:         flagDataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble saver: %w", err)
	}

	if flagMonitorPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", flagMonitorPort)
			log.Info("launching prometheus metrics server on %s", addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server: %v", err)
			}
		}()
	}

	return s.Run()
}
