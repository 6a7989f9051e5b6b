// Package download fetches the network layout over HTTPS and reads JSON
// documents from disk.
package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/zsiec/network-monitor/internal/logger"
)

var (
	ErrHTTPStatus   = errors.New("unexpected HTTP status")
	ErrInvalidCA    = errors.New("no certificates found in CA file")
	ErrTooManyHops  = errors.New("too many redirects")
	ErrTLSDowngrade = errors.New("redirect from https to plain http")
)

const maxRedirects = 10

// Downloader downloads files onto an afero filesystem.
type Downloader struct {
	fs      afero.Fs
	log     logger.Logger
	timeout time.Duration
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithTimeout bounds each download, including redirects.
func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) { dl.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(dl *Downloader) { dl.log = log }
}

// New returns a Downloader writing to fs.
func New(fs afero.Fs, opts ...Option) *Downloader {
	d := &Downloader{
		fs:      fs,
		log:     logger.NewNullLogger(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TLSConfig builds a client TLS configuration that trusts only the
// certificates in caFile. An empty caFile means the system roots.
func (d *Downloader) TLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := afero.ReadFile(d.fs, caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCA, caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// DownloadFile GETs url, following redirects, and writes the body to
// destination. The peer certificate chain and host name are verified
// against caFile. The body goes to a temporary file that is renamed into
// place only once complete, so a failed download never leaves a partial
// file and never clobbers an existing one. It returns the number of bytes
// written.
func (d *Downloader) DownloadFile(ctx context.Context, url, destination, caFile string) (int64, error) {
	tlsConfig, err := d.TLSConfig(caFile)
	if err != nil {
		return 0, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: checkRedirect,
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s from %s", ErrHTTPStatus, resp.Status, url)
	}

	written, err := d.writeAtomically(destination, resp.Body)
	if err != nil {
		return 0, err
	}

	d.log.WithFields(map[string]interface{}{
		"url":         url,
		"destination": destination,
		"size":        humanize.Bytes(uint64(written)),
		"duration":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("Downloaded file")
	return written, nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyHops, maxRedirects)
	}
	if via[len(via)-1].URL.Scheme == "https" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrTLSDowngrade, req.URL)
	}
	return nil
}

func (d *Downloader) writeAtomically(destination string, body io.Reader) (int64, error) {
	dir := filepath.Dir(destination)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(d.fs, dir, "."+filepath.Base(destination)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = d.fs.Rename(tmpName, destination)
	}
	if err != nil {
		_ = d.fs.Remove(tmpName)
		return 0, fmt.Errorf("failed to write %s: %w", destination, err)
	}
	return written, nil
}
