// internal/store/batch.go - Batched content-addressed commits
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/tile"
)

// TileRef places stored content at a tile address
type TileRef struct {
	Coordinate tile.Coordinate
	Hash       string
}

// Batch is one unit of commit: distinct content by hash plus the tiles that use it
type Batch struct {
	Images map[string][]byte
	Tiles  []TileRef
}

// NewBatch creates an empty batch sized for n tiles
func NewBatch(n int) *Batch {
	return &Batch{
		Images: make(map[string][]byte, n),
		Tiles:  make([]TileRef, 0, n),
	}
}

// Add records a tile; content already in the batch is kept once.
// It reports whether the hash was new to the batch.
func (b *Batch) Add(c tile.Coordinate, hash string, data []byte) bool {
	b.Tiles = append(b.Tiles, TileRef{Coordinate: c, Hash: hash})
	if _, ok := b.Images[hash]; ok {
		return false
	}
	b.Images[hash] = data
	return true
}

// Len returns the number of tiles in the batch
func (b *Batch) Len() int {
	return len(b.Tiles)
}

// BatchResult summarizes a committed batch
type BatchResult struct {
	Tiles        int
	NewImages    int
	ReusedImages int
}

// ErrUnknownHash is returned when a tile references content missing from its batch
var ErrUnknownHash = errors.New("tile references content not present in batch")

// CommitBatch stores the batch in one transaction. Existing content is reused by hash,
// new content gets the next id, and each tile's previous mapping is replaced.
// On any error the whole batch is rolled back.
func (s *Store) CommitBatch(ctx context.Context, b *Batch) (result BatchResult, err error) {
	if b == nil || len(b.Tiles) == 0 {
		return BatchResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BatchResult{}, internal.NewError(internal.ErrorCodeStore, "failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tx.Rollback())
			result = BatchResult{}
		}
	}()

	ids, result, err := s.resolveImages(ctx, tx, b.Images)
	if err != nil {
		return result, internal.NewError(internal.ErrorCodeStore, "failed to store images", err)
	}

	if err = placeTiles(ctx, tx, b.Tiles, ids); err != nil {
		return result, internal.NewError(internal.ErrorCodeStore, "failed to store tile mappings", err)
	}

	if err = tx.Commit(); err != nil {
		return result, internal.NewError(internal.ErrorCodeStore, "failed to commit batch", err)
	}

	result.Tiles = len(b.Tiles)
	s.logger.Debug("committed batch",
		zap.Int("tiles", result.Tiles),
		zap.Int("new_images", result.NewImages),
		zap.Int("reused_images", result.ReusedImages))

	return result, nil
}

// resolveImages maps every hash to an id, inserting content the store has not seen
func (s *Store) resolveImages(ctx context.Context, tx *sql.Tx, images map[string][]byte) (map[string]int64, BatchResult, error) {
	var result BatchResult

	lookup, err := tx.PrepareContext(ctx, "SELECT id FROM images WHERE hash = ?")
	if err != nil {
		return nil, result, err
	}
	defer lookup.Close()

	insert, err := tx.PrepareContext(ctx, "INSERT INTO images (id, hash, data) VALUES (?, ?, ?)")
	if err != nil {
		return nil, result, err
	}
	defer insert.Close()

	var nextID int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM images").Scan(&nextID); err != nil {
		return nil, result, err
	}

	hashes := make([]string, 0, len(images))
	for h := range images {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	ids := make(map[string]int64, len(images))
	for _, h := range hashes {
		var id int64
		err := lookup.QueryRowContext(ctx, h).Scan(&id)
		switch {
		case err == nil:
			result.ReusedImages++
		case errors.Is(err, sql.ErrNoRows):
			id = nextID
			nextID++
			if _, err := insert.ExecContext(ctx, id, h, images[h]); err != nil {
				return nil, result, fmt.Errorf("insert image %s: %w", h, err)
			}
			result.NewImages++
		default:
			return nil, result, fmt.Errorf("lookup image %s: %w", h, err)
		}
		ids[h] = id
	}

	return ids, result, nil
}

// placeTiles replaces the mapping at each tile address
func placeTiles(ctx context.Context, tx *sql.Tx, tiles []TileRef, ids map[string]int64) error {
	del, err := tx.PrepareContext(ctx, "DELETE FROM map WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		return err
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, "INSERT INTO map (image_id, zoom_level, tile_column, tile_row) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, t := range tiles {
		id, ok := ids[t.Hash]
		if !ok {
			return fmt.Errorf("tile %s: %w", t.Coordinate, ErrUnknownHash)
		}

		c := t.Coordinate
		if _, err := del.ExecContext(ctx, c.Level, c.Column, c.Row); err != nil {
			return fmt.Errorf("delete tile %s: %w", c, err)
		}
		if _, err := ins.ExecContext(ctx, id, c.Level, c.Column, c.Row); err != nil {
			return fmt.Errorf("insert tile %s: %w", c, err)
		}
	}

	return nil
}
