package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const fetchLogPrefix = "cache:fetch"

// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid download url")

// ErrTooLarge is returned when a download exceeds FetcherOpts.MaxBytes.
var ErrTooLarge = errors.New("download exceeds size limit")

// FetcherOpts configures a Fetcher. Zero values use defaults.
type FetcherOpts struct {
	Timeout    time.Duration
	MaxRetries int
	// MaxBytes caps a single download; 0 means unlimited.
	MaxBytes int64
	// Transport replaces the network transport under the retry layer.
	Transport http.RoundTripper
}

// Fetcher downloads resources over HTTP with retries.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOpts) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &RetryTransport{
				Base:       opts.Transport,
				MaxRetries: opts.MaxRetries,
				OnRetry: func(attempt int, wait time.Duration, status int) {
					slog.Warn(fmt.Sprintf("%s - retrying download (attempt %d, status %d) in %s", fetchLogPrefix, attempt, status, wait))
				},
			},
		},
		maxBytes: opts.MaxBytes,
	}
}

// ValidateURL checks rawURL is an absolute http or https URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// Fetch downloads rawURL into w and returns the number of bytes written.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	if err := ValidateURL(rawURL); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%s - build request: %w", fetchLogPrefix, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s - GET %s: %w", fetchLogPrefix, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%s - GET %s: unexpected status %d", fetchLogPrefix, rawURL, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("%s - read body of %s: %w", fetchLogPrefix, rawURL, err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return n, fmt.Errorf("%s - %s: %w (%d bytes)", fetchLogPrefix, rawURL, ErrTooLarge, f.maxBytes)
	}
	return n, nil
}
