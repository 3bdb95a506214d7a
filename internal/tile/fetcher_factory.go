// internal/tile/fetcher_factory.go - Fetcher factory implementation
package tile

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/config"
)

// FetcherFactory creates appropriate fetchers based on configuration
type FetcherFactory struct {
	config *config.Config
}

// NewFetcherFactory creates a new fetcher factory
func NewFetcherFactory(cfg *config.Config) *FetcherFactory {
	return &FetcherFactory{
		config: cfg,
	}
}

// CreateFetcher returns a fetcher that dispatches each address on its scheme
func (f *FetcherFactory) CreateFetcher() Fetcher {
	var fetcher Fetcher = &SchemeFetcher{
		http:  NewHTTPFetcher(f.config),
		local: NewLocalFetcher(f.config.Source.BasePath),
	}

	if f.config.Server.ValidateImages {
		fetcher = NewValidatingFetcher(fetcher)
	}

	return fetcher
}

// CreateFetcherFor returns the single fetcher able to serve rawURL
func (f *FetcherFactory) CreateFetcherFor(rawURL string) (Fetcher, error) {
	switch scheme := SchemeOf(rawURL); scheme {
	case "http", "https":
		return NewHTTPFetcher(f.config), nil
	case "file", "":
		return NewLocalFetcher(f.config.Source.BasePath), nil
	default:
		return nil, internal.NewError(internal.ErrorCodeConfig, fmt.Sprintf("unsupported URL scheme: %s", scheme), nil)
	}
}

// SchemeFetcher routes http(s) addresses to HTTP and file:// or bare paths to the file system
type SchemeFetcher struct {
	http  Fetcher
	local Fetcher
}

// Fetch implements Fetcher
func (s *SchemeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch scheme := SchemeOf(rawURL); scheme {
	case "http", "https":
		return s.http.Fetch(ctx, rawURL)
	case "file", "":
		return s.local.Fetch(ctx, rawURL)
	default:
		return nil, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("unsupported URL scheme: %s", scheme), nil)
	}
}

// SchemeOf returns the lowercase scheme of rawURL, or "" for plain paths
func SchemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	// Windows drive letters parse as one-letter schemes
	if len(u.Scheme) == 1 {
		return ""
	}
	return strings.ToLower(u.Scheme)
}
