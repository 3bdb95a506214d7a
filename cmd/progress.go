// cmd/progress.go - Console progress reporting
package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/valpere/tilecutter/internal/batch"
	"github.com/valpere/tilecutter/internal/store"
)

// ConsoleProgressReporter implements progress reporting with a terminal progress bar
type ConsoleProgressReporter struct {
	out   io.Writer
	bar   *progressbar.ProgressBar
	mutex sync.Mutex
}

// NewConsoleProgressReporter creates a reporter drawing on out
func NewConsoleProgressReporter(out io.Writer) *ConsoleProgressReporter {
	return &ConsoleProgressReporter{out: out}
}

// ReportProgress moves the bar to the number of finished fetches
func (r *ConsoleProgressReporter) ReportProgress(job *batch.Job) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !job.IsRunning() {
		return nil
	}
	snap := job.Progress.Snapshot()
	if r.bar == nil {
		r.bar = progressbar.NewOptions64(snap.TotalTiles,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetDescription(fmt.Sprintf("zoom %d-%d", job.Zooms.Min, job.Zooms.Max)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tiles"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetWidth(30))
	}

	return r.bar.Set64(snap.Attempted())
}

// ReportBatchComplete updates the bar description with store counters and the ETA
func (r *ConsoleProgressReporter) ReportBatchComplete(job *batch.Job, _ store.BatchResult, err error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err != nil {
		if _, werr := fmt.Fprintf(r.out, "\nbatch not committed: %v\n", err); werr != nil {
			return werr
		}
	}
	if r.bar == nil {
		return nil
	}
	snap := job.Progress.Snapshot()
	r.bar.Describe(fmt.Sprintf("stored %d (%d dedup, %d failed) eta %s",
		snap.Stored, snap.Deduplicated, snap.Failed, snap.EstimateCompletion().Round(time.Second)))
	return nil
}

// ReportJobComplete finishes the bar
func (r *ConsoleProgressReporter) ReportJobComplete(job *batch.Job) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.bar == nil {
		return nil
	}
	return r.bar.Finish()
}

// ReportJobFailed closes the bar and prints the error
func (r *ConsoleProgressReporter) ReportJobFailed(job *batch.Job, err error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.bar != nil {
		if cerr := r.bar.Exit(); cerr != nil {
			return cerr
		}
	}
	_, werr := fmt.Fprintf(r.out, "\nJob %s %s: %v\n", job.ID, job.Status, err)
	return werr
}
