// Package fetch localizes remote pipeline, file-list and data files
// into the temp directory and guarantees their removal on every exit
// path.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Downloader fetches remote inputs into a temp directory and tracks
// them for cleanup.
type Downloader struct {
	tempDir string
	client  *http.Client
	log     *slog.Logger
	toClean []string
}

// New creates a downloader writing into tempDir.
func New(tempDir string, log *slog.Logger) *Downloader {
	return &Downloader{
		tempDir: tempDir,
		client:  http.DefaultClient,
		log:     log,
	}
}

// IsRemote reports whether the given path is an http(s) URL.
func IsRemote(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Localize returns a local path for pathOrURL: remote inputs are
// downloaded into the temp directory with the given suffix and recorded
// for cleanup, local paths pass through unchanged.
func (d *Downloader) Localize(ctx context.Context, pathOrURL, suffix string) (string, error) {
	if !IsRemote(pathOrURL) {
		return pathOrURL, nil
	}
	return d.fetch(ctx, pathOrURL, suffix)
}

func (d *Downloader) fetch(ctx context.Context, rawURL, suffix string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: status %s", rawURL, resp.Status)
	}

	path := filepath.Join(d.tempDir, uuid.NewString()+suffix)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", rawURL, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file for %s: %w", rawURL, err)
	}

	d.toClean = append(d.toClean, path)
	d.log.Debug("downloaded remote input", "url", rawURL, "path", path)
	return path, nil
}

// Cleanup removes every downloaded temp file. Called on every exit
// path, success or failure; removal errors are logged, not returned.
func (d *Downloader) Cleanup() {
	for _, path := range d.toClean {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.log.Warn("failed to remove temp file", "path", path, "error", err)
		}
	}
	d.toClean = nil
}
