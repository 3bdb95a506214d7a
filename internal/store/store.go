// internal/store/store.go - Content-addressed MBTiles store backed by SQLite
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal"
)

// dataSourceName builds the SQLite URI for path. The path is escaped so
// '?', '#' and '%' in file names are not read as URI syntax.
func dataSourceName(path string) string {
	u := url.URL{Scheme: "file", Path: path, OmitHost: true, RawQuery: "_busy_timeout=5000"}
	return u.String()
}

// schema is created on open. The map uniqueness index is left to Finalize
// so concurrent batches do not pay for it during the crawl.
const schema = `
	CREATE TABLE IF NOT EXISTS images (
		id INTEGER NOT NULL UNIQUE,
		hash TEXT NOT NULL UNIQUE,
		data BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS map (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id INTEGER NOT NULL,
		zoom_level INTEGER NOT NULL,
		tile_column INTEGER NOT NULL,
		tile_row INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT);
	CREATE UNIQUE INDEX IF NOT EXISTS metadata_index ON metadata (name);
	CREATE INDEX IF NOT EXISTS map_address ON map (zoom_level, tile_column, tile_row);
`

const finalizeSQL = `
	CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row);
	CREATE VIEW IF NOT EXISTS tiles AS
		SELECT
			map.zoom_level AS zoom_level,
			map.tile_column AS tile_column,
			map.tile_row AS tile_row,
			images.data AS tile_data
		FROM map
		JOIN images ON images.id = map.image_id;
`

// Store owns the SQLite database of one tile cache
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// mu serializes whole batch transactions, which makes hash lookup and id allocation atomic
	mu sync.Mutex
}

type storeConfig struct {
	Logger  *zap.Logger
	Replace bool
}

// Option configures Open
type Option func(*storeConfig)

// WithLogger sets the logger used for store events
func WithLogger(logger *zap.Logger) Option {
	return func(c *storeConfig) { c.Logger = logger }
}

// WithReplace deletes an existing cache file before opening
func WithReplace(replace bool) Option {
	return func(c *storeConfig) { c.Replace = replace }
}

// Open opens or creates the cache at path and ensures the schema exists
func Open(path string, opts ...Option) (s *Store, err error) {
	config := storeConfig{
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.Replace {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to remove existing cache %s", path), err)
		}
		config.Logger.Debug("removed existing cache", zap.String("path", path))
	}

	db, err := sql.Open("sqlite3", dataSourceName(path))
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, "failed to open database", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, db.Close())
		}
	}()

	// One connection: writes are serialized anyway and SQLite file locks stay simple
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		return nil, internal.NewError(internal.ErrorCodeStore, "failed to create schema", err)
	}

	config.Logger.Info("opened tile cache", zap.String("path", path))
	return &Store{db: db, path: path, logger: config.Logger}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Finalize builds the address uniqueness index and the MBTiles tiles view
func (s *Store) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("creating map index and tiles view")
	if _, err := s.db.ExecContext(ctx, finalizeSQL); err != nil {
		return internal.NewError(internal.ErrorCodeStore, "failed to finalize cache", err)
	}
	return nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}
