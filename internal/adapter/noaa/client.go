// Package noaa downloads source tables published by NOAA.
package noaa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
	"github.com/couchcryptid/climate-prep-etl/internal/observability"
)

const maxErrorBody = 4 << 10

// Client fetches files over plain unauthenticated HTTP.
type Client struct {
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a download client whose requests time out after timeout.
func NewClient(timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Download stores the body of url at dest and returns its size. The body is
// written to a temporary file next to dest and renamed into place, so dest
// is never left truncated.
func (c *Client) Download(ctx context.Context, url, dest string) (int64, error) {
	start := domain.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("download %s: status %d: %s", url, resp.StatusCode, body)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("rename %s: %w", dest, err)
	}

	elapsed := domain.Since(start)
	c.metrics.DownloadDuration.Observe(elapsed.Seconds())
	c.metrics.DownloadBytes.Add(float64(n))
	c.logger.Info("downloaded", "url", url, "dest", dest, "bytes", n, "duration", elapsed)
	return n, nil
}
