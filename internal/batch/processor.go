// internal/batch/processor.go - Crawl pipeline: enumerate, fetch, deduplicate, persist
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/metrics"
	"github.com/valpere/tilecutter/internal/output"
	"github.com/valpere/tilecutter/internal/source"
	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// Pipeline implements the Processor interface for tile crawls
type Pipeline struct {
	grid     geogrid.Grid
	resolver source.Resolver
	fetcher  tile.Fetcher
	store    Store
	failures output.Writer
	reporter ProgressReporter
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mutex sync.Mutex
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithFailureWriter sends every failed tile to w
func WithFailureWriter(w output.Writer) PipelineOption {
	return func(p *Pipeline) { p.failures = w }
}

// WithReporter sets the progress reporter
func WithReporter(r ProgressReporter) PipelineOption {
	return func(p *Pipeline) { p.reporter = r }
}

// WithMetrics records pipeline activity on m
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger
func WithLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithGrid sets the tiling grid used for enumeration
func WithGrid(grid geogrid.Grid) PipelineOption {
	return func(p *Pipeline) { p.grid = grid }
}

// NewPipeline creates a pipeline writing tiles from resolver and fetcher into store
func NewPipeline(resolver source.Resolver, fetcher tile.Fetcher, store Store, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		grid:     geogrid.Default,
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the job to completion. Fetch and batch failures are recorded
// and do not stop the crawl. When ctx is cancelled no new fetches start, the
// tiles already fetched are committed and the cache is still finalized; the
// returned error is then the context error.
func (p *Pipeline) Process(ctx context.Context, job *Job) error {
	if err := ValidateJob(job); err != nil {
		return err
	}
	cfg := job.Config.normalized()

	enum, err := tile.NewEnumerator(p.grid, job.Zooms, job.Extent)
	if err != nil {
		p.completeJobWithError(job, err)
		return err
	}

	p.startJob(job, enum)
	zooms := enum.Zooms()
	p.logger.Info("crawl started",
		zap.String("job", job.ID),
		zap.String("source", p.resolver.Name()),
		zap.Int("min_zoom", zooms.Min),
		zap.Int("max_zoom", zooms.Max),
		zap.Int64("tiles", enum.Count()),
		zap.Int("fetch_concurrency", cfg.FetchConcurrency),
		zap.Int("write_concurrency", cfg.WriteConcurrency),
		zap.Int("batch_size", cfg.BatchSize))

	queue := make(chan tile.Image, cfg.QueueSize)
	failures := make(chan tile.Failure, cfg.FetchConcurrency)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		p.drainFailures(ctx, failures)
	}()

	downloader := NewDownloader(p.resolver, p.fetcher, cfg.FetchConcurrency, cfg.FetchTimeout,
		p.logger, p.metrics, job.Progress)
	go func() {
		downloader.Run(ctx, enum.All(), queue, failures)
		close(failures)
	}()

	stopReports := p.reportPeriodically(job, cfg.ProgressInterval)

	writer := NewBatchWriter(p.store, cfg.WriteConcurrency, cfg.BatchSize, p.logger, p.metrics, job, p.reporter)
	summary := writer.Run(ctx, queue)
	<-drained
	stopReports()

	if err := p.store.Finalize(context.WithoutCancel(ctx)); err != nil {
		p.completeJobWithError(job, err)
		return err
	}

	snap := job.Progress.Snapshot()
	p.logger.Info("crawl finished",
		zap.String("job", job.ID),
		zap.Int64("fetched", snap.Fetched),
		zap.Int64("failed", snap.Failed),
		zap.Int("stored", summary.Tiles),
		zap.Int("new_images", summary.NewImages),
		zap.Int("batches", summary.Batches),
		zap.Int("failed_batches", summary.FailedBatches),
		zap.Duration("elapsed", snap.Elapsed))

	if err := ctx.Err(); err != nil {
		p.cancelJob(job, err)
		return err
	}

	p.completeJobSuccessfully(job)
	return nil
}

// drainFailures forwards every failure record to the configured writer
func (p *Pipeline) drainFailures(ctx context.Context, failures <-chan tile.Failure) {
	writeCtx := context.WithoutCancel(ctx)
	for f := range failures {
		if p.failures == nil {
			continue
		}
		if err := p.failures.Write(writeCtx, f); err != nil {
			p.logger.Warn("failed to record tile failure", zap.Stringer("tile", f.Coordinate), zap.Error(err))
		}
	}
}

// reportPeriodically calls the reporter on a ticker until the returned func is called
func (p *Pipeline) reportPeriodically(job *Job, interval time.Duration) func() {
	if p.reporter == nil {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.report(job)
			case <-done:
				p.report(job)
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (p *Pipeline) report(job *Job) {
	if err := p.reporter.ReportProgress(job); err != nil {
		p.logger.Debug("progress report failed", zap.Error(err))
	}
}

// startJob marks the job as running over the grid-clamped extent
func (p *Pipeline) startJob(job *Job, enum *tile.Enumerator) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	job.Extent = enum.Extent()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	job.Progress.TotalTiles = enum.Count()
	job.Progress.StartTime = now
}

// completeJobSuccessfully marks the job as completed
func (p *Pipeline) completeJobSuccessfully(job *Job) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job.Status = JobStatusCompleted
	now := time.Now()
	job.CompletedAt = &now

	if p.reporter != nil {
		if err := p.reporter.ReportJobComplete(job); err != nil {
			p.logger.Debug("progress report failed", zap.Error(err))
		}
	}
}

// cancelJob marks the job as canceled after an interrupted crawl
func (p *Pipeline) cancelJob(job *Job, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job.Status = JobStatusCanceled
	job.Error = err
	now := time.Now()
	job.CompletedAt = &now

	if p.reporter != nil {
		if rerr := p.reporter.ReportJobFailed(job, err); rerr != nil {
			p.logger.Debug("progress report failed", zap.Error(rerr))
		}
	}
}

// completeJobWithError marks the job as failed
func (p *Pipeline) completeJobWithError(job *Job, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job.Status = JobStatusFailed
	job.Error = err
	now := time.Now()
	job.CompletedAt = &now

	p.logger.Error("crawl failed", zap.String("job", job.ID), zap.Error(err))
	if p.reporter != nil {
		if rerr := p.reporter.ReportJobFailed(job, err); rerr != nil {
			p.logger.Debug("progress report failed", zap.Error(rerr))
		}
	}
}

// GenerateJobID returns an identifier for a crawl started now
func GenerateJobID() string {
	return fmt.Sprintf("seed-%d", time.Now().UnixNano())
}

// ValidateJob checks a job before it is processed
func ValidateJob(job *Job) error {
	if job == nil {
		return internal.NewError(internal.ErrorCodeValidation, "job is required", nil)
	}
	if job.ID == "" {
		return internal.NewError(internal.ErrorCodeValidation, "job ID is required", nil)
	}
	if job.Config == nil {
		return internal.NewError(internal.ErrorCodeValidation, "job configuration is required", nil)
	}
	if job.Progress == nil {
		job.Progress = NewJobProgress()
	}
	return nil
}
