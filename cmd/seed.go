// cmd/seed.go - Crawl a region into an MBTiles cache
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/batch"
	"github.com/valpere/tilecutter/internal/config"
	"github.com/valpere/tilecutter/internal/metrics"
	"github.com/valpere/tilecutter/internal/output"
	"github.com/valpere/tilecutter/internal/source"
	"github.com/valpere/tilecutter/internal/store"
	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Crawl a region into an MBTiles cache",
	Long: `Crawl every tile covering a bounding box across a zoom range and store the
result in one MBTiles file. Fetching runs with bounded concurrency; fetched
tiles are committed in batches and identical images are stored once.

Failed tiles are logged and do not stop the crawl. They can also be written as
JSON lines to a file (--failures) or pushed onto a Redis list
(failures.redis_addr). Interrupting the command stops new requests, commits
what was already fetched and leaves a readable cache.

Examples:
  # Default region and zooms from an ArcGIS MapServer
  tilecutter seed --url "http://example.com/ArcGIS/rest/services/Roads/MapServer"

  # OpenStreetMap tiles into ./cache/nyc.mbtiles
  tilecutter seed --source-type osm --url "http://tile.openstreetmap.org" \
    --bbox "-74.1,40.6,-73.8,40.9" --min-zoom 10 --max-zoom 12 \
    --output-dir ./cache --filename nyc.mbtiles

  # WMS with a failure report and Prometheus metrics
  tilecutter seed --source-type wms111 --url "http://example.com/wms" --params "LAYERS=roads" \
    --failures failures.jsonl.gz --metrics-addr :9090`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	// Region flags
	seedCmd.Flags().String("bbox", config.DefaultBounds, "bounding box: 'min_lon,min_lat,max_lon,max_lat'")
	seedCmd.Flags().Int("min-zoom", 7, "minimum zoom level")
	seedCmd.Flags().Int("max-zoom", 10, "maximum zoom level")

	// Pipeline flags
	seedCmd.Flags().IntP("concurrency", "c", 10, "number of concurrent tile requests")
	seedCmd.Flags().Int("writers", 4, "number of batch writers")
	seedCmd.Flags().Int("batch-size", 50, "tiles per store transaction")
	seedCmd.Flags().Int("queue-size", 0, "fetched tiles buffered between stages (default 4x batch size)")

	// Output flags
	seedCmd.Flags().String("output-dir", ".", "directory of the cache file")
	seedCmd.Flags().StringP("filename", "o", "tilecache.mbtiles", "cache file name")
	seedCmd.Flags().Bool("replace", true, "delete an existing cache file first")
	seedCmd.Flags().String("name", "tilecache", "metadata name")
	seedCmd.Flags().String("description", "Tile cache built by tilecutter", "metadata description")
	seedCmd.Flags().String("format", "", "metadata format (default: detected from the first tile)")

	// Reporting flags
	seedCmd.Flags().String("failures", "", "write failed tiles as JSON lines to this file ('-' for stdout, .gz compresses)")
	seedCmd.Flags().String("failures-format", "", "failure report format: json or text (default: from the file name)")
	seedCmd.Flags().String("redis-addr", "", "push failed tiles onto a Redis list at this address")
	seedCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	seedCmd.Flags().Bool("progress", true, "show a progress bar")

	bindFlags(seedCmd, map[string]string{
		"region.bounds":           "bbox",
		"region.min_zoom":         "min-zoom",
		"region.max_zoom":         "max-zoom",
		"batch.fetch_concurrency": "concurrency",
		"batch.write_concurrency": "writers",
		"batch.batch_size":        "batch-size",
		"batch.queue_size":        "queue-size",
		"output.directory":        "output-dir",
		"output.filename":         "filename",
		"output.replace":          "replace",
		"output.name":             "name",
		"output.description":      "description",
		"output.format":           "format",
		"failures.file":           "failures",
		"failures.format":         "failures-format",
		"failures.redis_addr":     "redis-addr",
		"metrics.addr":            "metrics-addr",
		"logging.progress":        "progress",
	})
}

func runSeed(cmd *cobra.Command, args []string) (err error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	extent, err := cfg.Extent()
	if err != nil {
		return internal.NewError(internal.ErrorCodeConfig, "invalid region bounds", err)
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failures, err := newFailureWriter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, failures.Close())
	}()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics, m, log)
		defer shutdown()
	}

	cache, err := store.Open(cfg.OutputPath(), store.WithLogger(log), store.WithReplace(cfg.Output.Replace))
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		err = multierr.Append(err, cache.Close())
	}()

	job := batch.NewJob(batch.GenerateJobID(), tile.ZoomRange{Min: cfg.Region.MinZoom, Max: cfg.Region.MaxZoom}, extent,
		&batch.JobConfig{
			FetchConcurrency: cfg.Batch.FetchConcurrency,
			WriteConcurrency: cfg.Batch.WriteConcurrency,
			BatchSize:        cfg.Batch.BatchSize,
			QueueSize:        cfg.QueueCapacity(),
			FetchTimeout:     cfg.Server.Timeout,
		})

	var reporter batch.ProgressReporter
	if cfg.Logging.Progress {
		reporter = NewConsoleProgressReporter(os.Stderr)
	}

	fetcher := tile.NewFetcherFactory(cfg).CreateFetcher()
	pipeline := batch.NewPipeline(resolver, fetcher, cache,
		batch.WithGrid(geogrid.New(cfg.Source.TileSize)),
		batch.WithFailureWriter(failures),
		batch.WithReporter(reporter),
		batch.WithMetrics(m),
		batch.WithLogger(log))

	processErr := pipeline.Process(ctx, job)
	if processErr != nil && !errors.Is(processErr, context.Canceled) {
		return fmt.Errorf("crawl failed: %w", processErr)
	}

	// Metadata is written even for an interrupted crawl so the partial cache stays usable
	if err := writeMetadata(context.WithoutCancel(ctx), cache, cfg, job); err != nil {
		return err
	}

	if job.IsComplete() {
		printSummary(job, cache.Path())
	}
	if processErr != nil {
		return fmt.Errorf("crawl interrupted: %w", processErr)
	}
	return nil
}

// newResolver builds the tile address resolver described by the configuration
func newResolver(cfg *config.Config) (source.Resolver, error) {
	opts, err := source.OptionsFromConfig(cfg)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "invalid source options", err)
	}
	return source.New(opts)
}

// newFailureWriter combines the log, file and Redis failure sinks that are configured
func newFailureWriter(ctx context.Context, cfg *config.Config, log *zap.Logger) (output.Writer, error) {
	writers := []output.Writer{output.NewLogWriter(log)}

	if cfg.Failures.File != "" {
		w, err := output.NewWriter(cfg.Failures.File, cfg.Failures.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to create failure report: %w", err)
		}
		writers = append(writers, w)
	}

	if cfg.Failures.RedisAddr != "" {
		w, err := output.NewRedisWriter(ctx, cfg.Failures)
		if err != nil {
			return nil, multierr.Append(err, output.NewMultiWriter(writers...).Close())
		}
		writers = append(writers, w)
	}

	return output.NewMultiWriter(writers...), nil
}

// serveMetrics exposes m over HTTP until the returned func is called
func serveMetrics(cfg config.MetricsConfig, m *metrics.Metrics, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
}

// writeMetadata stores the MBTiles metadata rows, sniffing the format from the cache when unset
func writeMetadata(ctx context.Context, cache *store.Store, cfg *config.Config, job *batch.Job) error {
	format := cfg.Output.Format
	if format == "" {
		data, err := cache.FirstImage(ctx)
		switch {
		case err == nil:
			format = tile.DetectFormat(data)
		case internal.CodeOf(err) != internal.ErrorCodeNotFound:
			return err
		}
	}

	md := batch.BuildMetadata(job, batch.MetadataOptions{
		Name:        cfg.Output.Name,
		Description: cfg.Output.Description,
		Format:      format,
	})
	if err := cache.WriteMetadata(ctx, md); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// printSummary prints the final crawl counters
func printSummary(job *batch.Job, path string) {
	snap := job.Progress.Snapshot()
	fmt.Fprintf(os.Stderr, "\nCrawl %s: %s\n", job.Status, path)
	fmt.Fprintf(os.Stderr, "Tiles: %d planned, %d fetched, %d failed\n", snap.TotalTiles, snap.Fetched, snap.Failed)
	fmt.Fprintf(os.Stderr, "Stored: %d tiles, %d new images, %d deduplicated\n", snap.Stored, snap.NewImages, snap.Deduplicated)
	fmt.Fprintf(os.Stderr, "Batches: %d committed, %d failed\n", snap.BatchesCommitted, snap.BatchesFailed)
	fmt.Fprintf(os.Stderr, "Duration: %v (%.2f tiles/second)\n", job.Duration().Round(time.Millisecond), snap.Throughput())
}
