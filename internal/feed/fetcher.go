package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned by a Fetcher when the remote resource does not exist.
// Transport failures are reported as other errors.
var ErrNotFound = errors.New("resource not found")

// maxStateBytes bounds state document reads; real ones are a few hundred bytes.
const maxStateBytes = 64 << 10

// Fetcher retrieves remote replication resources.
type Fetcher interface {
	// FetchText returns the body of a small text resource.
	FetchText(ctx context.Context, rawURL string) (string, error)

	// FetchFile stores the resource at dest. On error dest is left untouched.
	FetchFile(ctx context.Context, rawURL, dest string) error
}

// HTTPFetcher fetches http(s) and file URLs.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

// WithRateLimit caps the request rate. A zero or negative rps disables limiting.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(f *HTTPFetcher) {
		if rps <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// NewHTTPFetcher creates a fetcher with a 60 second timeout and no rate limit.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchText implements Fetcher.
func (f *HTTPFetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	body, err := f.open(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxStateBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	return string(data), nil
}

// FetchFile implements Fetcher. The body is written to dest + ".part" and
// renamed into place once complete.
func (f *HTTPFetcher) FetchFile(ctx context.Context, rawURL, dest string) error {
	body, err := f.open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(part)
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("write %s: %w", part, err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

func (f *HTTPFetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	if u.Scheme == "file" {
		file, err := os.Open(u.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rawURL, err)
		}
		return file, nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}
