// internal/tile/local_fetcher.go - Local file fetching implementation
package tile

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/valpere/tilecutter/internal"
)

// LocalFetcher implements the Fetcher interface for file:// addresses and plain paths
type LocalFetcher struct {
	basePath string
}

// NewLocalFetcher creates a new local file fetcher; relative paths are joined to basePath
func NewLocalFetcher(basePath string) *LocalFetcher {
	return &LocalFetcher{basePath: basePath}
}

// Fetch reads a tile from the local file system, inflating .gz files
func (f *LocalFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyContextError(ctx, err)
	}

	filePath, err := f.buildFilePath(location)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeValidation, "failed to build file path", err)
	}

	// Check if file exists
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile file not found: %s", filePath), err)
		}
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot access tile file: %s", filePath), err)
	}

	// Check if it's a regular file
	if !fileInfo.Mode().IsRegular() {
		return nil, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("path is not a regular file: %s", filePath), nil)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to open tile file: %s", filePath), err)
	}
	defer file.Close()

	// Handle compressed files
	var reader io.Reader = file
	if isCompressedFile(filePath) {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to create gzip reader for: %s", filePath), err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to read tile file: %s", filePath), err)
	}

	return data, nil
}

// buildFilePath turns a file:// URL or a path into a file system path
func (f *LocalFetcher) buildFilePath(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("empty tile location")
	}

	if strings.HasPrefix(location, "file:") {
		u, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("invalid file URL %q: %w", location, err)
		}
		location = u.Path
		if location == "" {
			location = u.Opaque
		}
	}

	if filepath.IsAbs(location) || f.basePath == "" {
		return filepath.Clean(location), nil
	}

	// Relative path - combine with base path
	return filepath.Join(f.basePath, location), nil
}

// isCompressedFile determines if a file is compressed based on its extension
func isCompressedFile(filePath string) bool {
	return strings.HasSuffix(strings.ToLower(filePath), ".gz")
}
