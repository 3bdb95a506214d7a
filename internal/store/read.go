// internal/store/read.go - Metadata, tile reads and cache inspection
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/tile"
)

// Stats summarizes the cache contents
type Stats struct {
	Tiles      int64         `json:"tiles"`
	Images     int64         `json:"images"`
	ImageBytes int64         `json:"image_bytes"`
	Zooms      map[int]int64 `json:"zooms"`
}

// DedupRatio returns tiles per stored image, or 0 for an empty cache
func (st Stats) DedupRatio() float64 {
	if st.Images == 0 {
		return 0
	}
	return float64(st.Tiles) / float64(st.Images)
}

// Integrity reports structural problems in the cache
type Integrity struct {
	OrphanTiles        int64 `json:"orphan_tiles"`
	DuplicateAddresses int64 `json:"duplicate_addresses"`
	UnusedImages       int64 `json:"unused_images"`
}

// OK reports whether every tile resolves to content exactly once.
// Unused images are tolerated.
func (i Integrity) OK() bool {
	return i.OrphanTiles == 0 && i.DuplicateAddresses == 0
}

// WriteMetadata stores MBTiles metadata rows, replacing existing names
func (s *Store) WriteMetadata(ctx context.Context, metadata map[string]string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return internal.NewError(internal.ErrorCodeStore, "failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
		}
	}()

	for name, value := range metadata {
		if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", name, value); err != nil {
			return internal.NewError(internal.ErrorCodeStore, fmt.Sprintf("failed to write metadata %s", name), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return internal.NewError(internal.ErrorCodeStore, "failed to commit metadata", err)
	}
	return nil
}

// ReadMetadata returns all metadata rows
func (s *Store) ReadMetadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, "failed to read metadata", err)
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, internal.NewError(internal.ErrorCodeStore, "failed to scan metadata", err)
		}
		metadata[name.String] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, "failed to read metadata", err)
	}

	return metadata, nil
}

// ReadTile returns the content stored at a TMS address
func (s *Store) ReadTile(ctx context.Context, c tile.Coordinate) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT images.data FROM map
		JOIN images ON images.id = map.image_id
		WHERE map.zoom_level = ? AND map.tile_column = ? AND map.tile_row = ?
		ORDER BY map.id DESC LIMIT 1`,
		c.Level, c.Column, c.Row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile %s not in cache", c), err)
	}
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, fmt.Sprintf("failed to read tile %s", c), err)
	}
	return data, nil
}

// FirstImage returns the content with the lowest id, used to sniff the tile format
func (s *Store) FirstImage(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM images ORDER BY id LIMIT 1").Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internal.NewError(internal.ErrorCodeNotFound, "cache holds no images", err)
	}
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, "failed to read image", err)
	}
	return data, nil
}

// Stats counts tiles and content in the cache
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Zooms: make(map[int]int64)}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM images").
		Scan(&st.Images, &st.ImageBytes)
	if err != nil {
		return Stats{}, internal.NewError(internal.ErrorCodeStore, "failed to count images", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT zoom_level, COUNT(*) FROM map GROUP BY zoom_level ORDER BY zoom_level")
	if err != nil {
		return Stats{}, internal.NewError(internal.ErrorCodeStore, "failed to count tiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var zoom int
		var n int64
		if err := rows.Scan(&zoom, &n); err != nil {
			return Stats{}, internal.NewError(internal.ErrorCodeStore, "failed to scan tile counts", err)
		}
		st.Zooms[zoom] = n
		st.Tiles += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, internal.NewError(internal.ErrorCodeStore, "failed to count tiles", err)
	}

	return st, nil
}

// CheckIntegrity looks for tiles without content and addresses mapped twice
func (s *Store) CheckIntegrity(ctx context.Context) (Integrity, error) {
	var i Integrity

	checks := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM map LEFT JOIN images ON images.id = map.image_id WHERE images.id IS NULL", &i.OrphanTiles},
		{`SELECT COUNT(*) FROM (
			SELECT 1 FROM map GROUP BY zoom_level, tile_column, tile_row HAVING COUNT(*) > 1
		)`, &i.DuplicateAddresses},
		{"SELECT COUNT(*) FROM images WHERE id NOT IN (SELECT image_id FROM map)", &i.UnusedImages},
	}

	for _, check := range checks {
		if err := s.db.QueryRowContext(ctx, check.query).Scan(check.dest); err != nil {
			return Integrity{}, internal.NewError(internal.ErrorCodeStore, "integrity check failed", err)
		}
	}

	return i, nil
}
