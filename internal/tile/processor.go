// internal/tile/processor.go - Tile payload inspection
package tile

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/valpere/tilecutter/internal"
)

// Tile payload formats as written to MBTiles metadata
const (
	FormatPNG  = "png"
	FormatJPG  = "jpg"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatPBF  = "pbf"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DetectFormat returns the MBTiles format name for a payload, or "" if unrecognized
func DetectFormat(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	switch http.DetectContentType(data) {
	case "image/png":
		return FormatPNG
	case "image/jpeg":
		return FormatJPG
	case "image/gif":
		return FormatGIF
	case "image/webp":
		return FormatWebP
	}

	// Vector tiles are usually served gzipped
	if bytes.HasPrefix(data, gzipMagic) {
		return FormatPBF
	}
	return ""
}

// IsImage reports whether the payload is a raster image
func IsImage(data []byte) bool {
	switch DetectFormat(data) {
	case FormatPNG, FormatJPG, FormatGIF, FormatWebP:
		return true
	}
	return false
}

// ValidatingFetcher rejects payloads that are not raster images.
// Services often answer an out-of-range request with 200 and an XML or HTML error body.
type ValidatingFetcher struct {
	next Fetcher
}

// NewValidatingFetcher wraps next with payload validation
func NewValidatingFetcher(next Fetcher) *ValidatingFetcher {
	return &ValidatingFetcher{next: next}
}

// Fetch implements Fetcher
func (v *ValidatingFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := v.next.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, internal.NewError(internal.ErrorCodeValidation, "empty tile payload", nil)
	}

	if !IsImage(data) {
		return nil, internal.NewError(internal.ErrorCodeValidation,
			fmt.Sprintf("payload is not an image (%s)", http.DetectContentType(data)), nil)
	}

	return data, nil
}
