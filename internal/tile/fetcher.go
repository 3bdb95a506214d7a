// internal/tile/fetcher.go - Tile fetching implementation
package tile

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/config"
)

// HTTPFetcher implements the Fetcher interface using HTTP requests
type HTTPFetcher struct {
	client    *http.Client
	config    *config.ServerConfig
	userAgent string
}

// NewHTTPFetcher creates a new HTTP-based tile fetcher.
// Request deadlines come from the caller's context, not from the client.
func NewHTTPFetcher(cfg *config.Config) *HTTPFetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Network.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Batch.FetchConcurrency,
		IdleConnTimeout:     cfg.Network.IdleConnTimeout,
		DisableKeepAlives:   cfg.Network.DisableKeepAlive,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     cfg.Batch.FetchConcurrency,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: cfg.Network.KeepAlive,
		}).DialContext,
	}

	// Configure proxy if specified
	if cfg.Network.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.Network.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &HTTPFetcher{
		client:    &http.Client{Transport: transport},
		config:    &cfg.Server,
		userAgent: cfg.Network.UserAgent,
	}
}

// Fetch retrieves the bytes at rawURL, retrying up to max_retries times
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDelay := time.Duration(attempt*attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, classifyContextError(ctx, lastErr)
			case <-time.After(backoffDelay):
			}
		}

		data, status, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err

		// Determine if we should retry based on the error type
		if !f.shouldRetry(ctx, status) {
			break
		}
	}

	if f.config.MaxRetries > 0 {
		return nil, fmt.Errorf("failed after %d attempts: %w", f.config.MaxRetries+1, lastErr)
	}
	return nil, lastErr
}

// fetchOnce performs a single GET and returns the status code alongside any error
func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := f.buildHTTPRequest(ctx, rawURL)
	if err != nil {
		return nil, 0, internal.NewError(internal.ErrorCodeValidation, "failed to build HTTP request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, classifyContextError(ctx, err)
		}
		return nil, 0, internal.NewError(internal.ErrorCodeNetwork, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeHTTPStatus,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil)
	}

	// Handle compressed responses the transport did not inflate itself
	var reader io.Reader = resp.Body
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeNetwork, "failed to create gzip reader", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, resp.StatusCode, classifyContextError(ctx, err)
		}
		return nil, resp.StatusCode, internal.NewError(internal.ErrorCodeNetwork, "failed to read response body", err)
	}

	return data, resp.StatusCode, nil
}

// buildHTTPRequest constructs the GET request for a tile address
func (f *HTTPFetcher) buildHTTPRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "image/*, application/x-protobuf;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", f.userAgent)

	// Add server-level headers from configuration
	for key, value := range f.config.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// shouldRetry determines whether a failed request should be retried
func (f *HTTPFetcher) shouldRetry(ctx context.Context, status int) bool {
	if ctx.Err() != nil {
		return false
	}

	// Don't retry on client errors (4xx)
	if status >= 400 && status < 500 {
		return false
	}

	// Retry on server errors (5xx) and transport errors
	return status >= 500 || status == 0
}

// classifyContextError maps a finished context onto the timeout or network code
func classifyContextError(ctx context.Context, cause error) error {
	if cause == nil {
		cause = ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return internal.NewError(internal.ErrorCodeTimeout, "tile fetch timed out", cause)
	}
	return internal.NewError(internal.ErrorCodeNetwork, "tile fetch canceled", cause)
}
