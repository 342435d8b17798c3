// Package fetch provides the filename-keyed download cache and the resilient
// HTTP fetcher used by every component that pulls content from a repository.
//
// The cache is a directory-backed mapping from a location's basename to its
// content. A file already present in the cache directory is trusted as-is and
// never re-fetched: the cache exists to avoid redundant network calls within
// and across runs, not for staleness control.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultUserAgent identifies fetches against remote repositories.
	DefaultUserAgent = "wheelsync/1.0"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 60 * time.Second

	// maxRetryDelay is the backoff cap: once the next delay would exceed
	// this many units, a rate-limited fetch fails permanently.
	maxRetryDelay = 20
)

// ErrUnsupportedScheme reports a location that is neither a local path nor
// an https URL.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// RemoteNotFetchedError reports a remote fetch that failed permanently,
// either on a non-retriable HTTP status or after exhausting the rate-limit
// retry budget.
type RemoteNotFetchedError struct {
	URL        string
	StatusCode int
}

func (e RemoteNotFetchedError) Error() string {
	return fmt.Sprintf("failed to fetch %s: HTTP status %d", e.URL, e.StatusCode)
}

// HTTPClient is the interface the fetcher needs from an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for a fetch Client.
type Config struct {
	// CacheDir is the cache directory. Created on first use.
	CacheDir string

	UserAgent  string
	Timeout    time.Duration
	HTTPClient HTTPClient

	// RetryUnit is the duration of one backoff time unit. Defaults to one
	// second; tests shrink it.
	RetryUnit time.Duration

	Logger *slog.Logger
}

// Client fetches file content from local paths and https URLs through the
// cache. At most one fetch per cache filename is in flight at any time;
// concurrent callers for the same filename share the first caller's result.
type Client struct {
	cacheDir  string
	userAgent string
	client    HTTPClient
	retryUnit time.Duration
	logger    *slog.Logger
	group     singleflight.Group
}

// NewClient creates a fetch client, filling config defaults.
func NewClient(config Config) *Client {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.RetryUnit == 0 {
		config.RetryUnit = time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		cacheDir:  config.CacheDir,
		userAgent: config.UserAgent,
		client:    config.HTTPClient,
		retryUnit: config.RetryUnit,
		logger:    config.Logger,
	}
}

// IsRemote reports whether a location is fetched over the network.
func IsRemote(pathOrURL string) bool {
	return strings.Contains(pathOrURL, "://")
}

// Get returns the content behind a location. Local paths are read directly.
// For URLs the cache is consulted first: a cache file named after the URL's
// basename is returned verbatim; otherwise the URL is fetched with the
// rate-limit backoff policy, persisted under that basename and returned.
func (c *Client) Get(pathOrURL string) ([]byte, error) {
	if !IsRemote(pathOrURL) {
		return os.ReadFile(pathOrURL)
	}
	if !strings.HasPrefix(pathOrURL, "https://") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, pathOrURL)
	}

	filename := basename(pathOrURL)
	content, err, _ := c.group.Do(filename, func() (any, error) {
		return c.getCached(pathOrURL, filename)
	})
	if err != nil {
		return nil, err
	}
	return content.([]byte), nil
}

func (c *Client) getCached(url, filename string) ([]byte, error) {
	cached := filepath.Join(c.cacheDir, filename)
	if content, err := os.ReadFile(cached); err == nil {
		return content, nil
	}

	content, err := c.getRemote(url)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(cached, content, 0o644); err != nil {
		return nil, fmt.Errorf("caching %s: %w", filename, err)
	}
	return content, nil
}

// getRemote fetches a URL, retrying rate-limited responses at delays of
// 0, 1, 2, 4, 8 and 16 time units. Once the next delay would exceed 20
// units the fetch fails permanently. Any other non-OK status fails
// immediately without a retry.
func (c *Client) getRemote(url string) ([]byte, error) {
	delay := 0
	for {
		time.Sleep(time.Duration(delay) * c.retryUnit)

		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", url, err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, err)
		}

		if resp.StatusCode == http.StatusOK {
			content, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", url, err)
			}
			return content, nil
		}
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusTooManyRequests {
			return nil, RemoteNotFetchedError{URL: url, StatusCode: resp.StatusCode}
		}

		next := delay * 2
		if next == 0 {
			next = 1
		}
		if next > maxRetryDelay {
			return nil, RemoteNotFetchedError{URL: url, StatusCode: resp.StatusCode}
		}
		c.logger.Warn("rate limited, retrying",
			"url", url,
			"delay_units", next,
		)
		delay = next
	}
}

// FetchAndSave fetches a location through the cache and writes its content
// to destDir/filename, returning the written path. Used uniformly for
// artifacts, provenance records, notices and license texts.
func (c *Client) FetchAndSave(pathOrURL, filename, destDir string) (string, error) {
	content, err := c.Get(pathOrURL)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filename)
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return "", fmt.Errorf("saving %s: %w", dest, err)
	}
	return dest, nil
}

func basename(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
