package backup

import (
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

const dialTimeout = 30 * time.Second

// ParseArchiveURI splits an archive URI of the form ftp://host[:port]/base
// into the dial address and the remote base path.
func ParseArchiveURI(uri string) (host, base string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Wrapf(err, "archive uri %q", uri)
	}
	if u.Scheme != "ftp" {
		return "", "", errors.Errorf("unsupported archive scheme %q in %q", u.Scheme, uri)
	}
	if u.Host == "" {
		return "", "", errors.Errorf("archive uri %q has no host", uri)
	}
	host = u.Host
	if !strings.Contains(host, ":") {
		host += ":21"
	}
	return host, u.Path, nil
}

// FTPUploader returns an Uploader mirroring files to an FTP drop. Each
// transfer dials a fresh connection so a dead control channel from a
// previous attempt can't wedge the queue.
func FTPUploader(host string) Uploader {
	return func(local, remote string) error {
		conn, err := ftp.Dial(host, ftp.DialWithTimeout(dialTimeout))
		if err != nil {
			return errors.Wrapf(err, "dial archive %q", host)
		}
		defer conn.Quit()

		if err := conn.Login("anonymous", "anonymous"); err != nil {
			return errors.Wrap(err, "archive login")
		}

		// Build the remote directory tree; MakeDir on an existing
		// directory fails, which is fine.
		dir := path.Dir(remote)
		segments := strings.Split(strings.Trim(dir, "/"), "/")
		full := ""
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			full = full + "/" + seg
			conn.MakeDir(full)
		}

		f, err := os.Open(local)
		if err != nil {
			return errors.Wrapf(err, "open %q", local)
		}
		defer f.Close()

		if err := conn.Stor(remote, f); err != nil {
			return errors.Wrapf(err, "store %q", remote)
		}
		return nil
	}
}
