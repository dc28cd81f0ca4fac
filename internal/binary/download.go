package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the default number of download retries
	DefaultRetries = 3
	// DefaultBackoff is the delay before the first retry; it doubles per retry.
	DefaultBackoff = time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "pandock/1.0"
	// DefaultProgressInterval is the minimum time between progress reports.
	DefaultProgressInterval = 100 * time.Millisecond
	// DefaultProgressBytes reports progress early once this many bytes arrived
	// since the last report.
	DefaultProgressBytes = 256 * 1024
)

// DownloadOptions configures a Downloader. Zero fields take the defaults.
type DownloadOptions struct {
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	// Negative disables retries.
	Retries          int
	Backoff          time.Duration
	ProgressInterval time.Duration
	ProgressBytes    uint64
	UserAgent        string
	// Client overrides the HTTP client (Timeout is then ignored).
	Client *http.Client
}

// ProgressFunc receives cumulative bytes written and the expected total
// (0 when the server did not announce a length).
type ProgressFunc func(downloaded, total uint64)

// Downloader handles HTTP downloads with retry logic
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	backoff   time.Duration
	interval  time.Duration
	step      uint64
	now       func() time.Time
}

// NewDownloader creates a new downloader
func NewDownloader(opts DownloadOptions) *Downloader {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// GitHub release assets redirect to a CDN; allow up to 10 hops
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	d := &Downloader{
		client:    client,
		userAgent: opts.UserAgent,
		retries:   opts.Retries,
		backoff:   opts.Backoff,
		interval:  opts.ProgressInterval,
		step:      opts.ProgressBytes,
		now:       time.Now,
	}
	if d.userAgent == "" {
		d.userAgent = DefaultUserAgent
	}
	switch {
	case d.retries == 0:
		d.retries = DefaultRetries
	case d.retries < 0:
		d.retries = 0
	}
	if d.backoff <= 0 {
		d.backoff = DefaultBackoff
	}
	if d.interval <= 0 {
		d.interval = DefaultProgressInterval
	}
	if d.step == 0 {
		d.step = DefaultProgressBytes
	}
	return d
}

// DownloadToFile downloads a URL to a specific file path, reporting progress
// through fn (which may be nil).
//
// Every attempt starts from byte zero; nothing is resumed. Reports never go
// backwards: a retry stays silent until it passes the bytes already reported.
func (d *Downloader) DownloadToFile(ctx context.Context, url, destPath string, fn ProgressFunc) error {
	var lastErr error
	var reported uint64

	for attempt := 0; attempt <= d.retries; attempt++ {
		// Check context before each attempt
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := d.backoff << uint(attempt-1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		meter := &progressMeter{
			fn:       fn,
			interval: d.interval,
			step:     d.step,
			now:      d.now,
			reported: &reported,
		}
		err := d.downloadOnce(ctx, url, destPath, meter)
		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr *NetworkError
		if !errors.As(err, &netErr) || !netErr.Temporary() {
			return err
		}
	}

	return fmt.Errorf("download failed after %d retries: %w", d.retries, lastErr)
}

// downloadOnce performs a single download attempt
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string, meter *progressMeter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &NetworkError{URL: url, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > 0 {
		meter.total = uint64(resp.ContentLength)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return wrapFS("create directory", filepath.Dir(destPath), err)
	}

	// os.Create truncates whatever a previous attempt left behind
	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return wrapFS("create", tmpPath, err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, io.TeeReader(resp.Body, meter)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if meter.total > 0 && meter.downloaded != meter.total {
		return &NetworkError{URL: url, Err: fmt.Errorf("short body: got %d of %d bytes", meter.downloaded, meter.total)}
	}

	if err := tmpFile.Close(); err != nil {
		return wrapFS("close", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return wrapFS("rename", tmpPath, err)
	}

	cleanupNeeded = false
	meter.report(true)
	return nil
}

// progressMeter counts bytes of one attempt and rate-limits reports.
type progressMeter struct {
	fn       ProgressFunc
	interval time.Duration
	step     uint64
	now      func() time.Time

	total      uint64
	downloaded uint64
	started    bool
	lastAt     time.Time
	lastBytes  uint64
	// reported is the high-water mark shared by all attempts of one download.
	reported *uint64
}

func (m *progressMeter) Write(p []byte) (int, error) {
	m.downloaded += uint64(len(p))
	m.report(false)
	return len(p), nil
}

func (m *progressMeter) report(final bool) {
	if m.fn == nil {
		return
	}
	now := m.now()
	if !final && m.started &&
		now.Sub(m.lastAt) < m.interval &&
		m.downloaded-m.lastBytes < m.step {
		return
	}
	m.started = true
	m.lastAt = now
	m.lastBytes = m.downloaded

	if m.downloaded < *m.reported || (!final && m.downloaded == *m.reported && *m.reported > 0) {
		return
	}
	*m.reported = m.downloaded
	m.fn(m.downloaded, m.total)
}
