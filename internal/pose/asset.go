package pose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ayusman/gymbuddy/internal/log"
)

// Download timeouts for model assets.
const (
	DefaultDownloadTimeout = 2 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second
)

// AssetCache fetches model assets on demand and remembers assets that could
// not be fetched, so a failed download is attempted at most once per cache.
// Share one AssetCache across all sessions of a process.
type AssetCache struct {
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	failed map[string]error
}

// NewAssetCache creates a cache. A nil client gets a client with download
// timeouts.
func NewAssetCache(client *http.Client) *AssetCache {
	if client == nil {
		client = &http.Client{
			Timeout: DefaultDownloadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   DefaultConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &AssetCache{
		client: client,
		logger: log.With("component", "pose.assets"),
		failed: make(map[string]error),
	}
}

// Ensure makes sure path exists, downloading it from the first working
// mirror if needed. Once every mirror has failed for a path, later calls
// return the cached failure without touching the network.
func (c *AssetCache) Ensure(ctx context.Context, path string, mirrors []string) error {
	if c == nil {
		return fmt.Errorf("%w: no asset cache", ErrAssetUnavailable)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failed[path]; ok {
		return err
	}
	// Another caller may have finished the download while we waited.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := c.download(ctx, path, mirrors); err != nil {
		if ctx.Err() == nil {
			c.failed[path] = err
		}
		return err
	}
	return nil
}

// Failed reports whether path is recorded as unavailable.
func (c *AssetCache) Failed(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.failed[path]
	return ok
}

func (c *AssetCache) download(ctx context.Context, path string, mirrors []string) error {
	if len(mirrors) == 0 {
		return fmt.Errorf("%w: %s: no mirrors configured", ErrAssetUnavailable, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create model dir: %v", ErrAssetUnavailable, err)
	}

	var errs []error
	for _, url := range mirrors {
		c.logger.Info("downloading model asset", "path", path, "url", url)
		n, err := c.fetch(ctx, url, path)
		if err == nil {
			c.logger.Info("model asset saved", "path", path, "bytes", n)
			return nil
		}
		c.logger.Warn("mirror failed", "url", url, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrAssetUnavailable, path, errors.Join(errs...))
}

// fetch writes url to path through a temporary file so a partial download
// never looks like a valid asset.
func (c *AssetCache) fetch(ctx context.Context, url, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write asset: %w", err)
	}
	if n == 0 {
		return 0, errors.New("empty response body")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("move asset into place: %w", err)
	}
	return n, nil
}
