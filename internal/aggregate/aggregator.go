// internal/aggregate/aggregator.go
package aggregate

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-batch/internal/backend"
	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/pkg/schema"
)

// Progress is the derived view of a batch. It is recomputed on every call
// and never stored, so the manifest stays the single source of truth.
type Progress struct {
	BatchID         string                   `json:"batch_id"`
	Name            string                   `json:"name"`
	TotalJobs       int                      `json:"total_jobs"`
	StatusCounts    map[schema.JobStatus]int `json:"status_counts"`
	ProgressPercent float64                  `json:"progress_percent"`
	Empty           bool                     `json:"empty"`
}

// Aggregator computes batch progress from the manifest. Terminal rows are
// the cache of record; only non-terminal rows incur a backend query, which
// closes gaps left by missed or delayed feed events.
type Aggregator struct {
	store   manifest.Store
	backend backend.Backend
	logger  *slog.Logger
}

func NewAggregator(store manifest.Store, b backend.Backend, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, backend: b, logger: logger}
}

// BatchProgress returns a point-in-time snapshot. Two consecutive calls may
// disagree; that is expected.
func (a *Aggregator) BatchProgress(ctx context.Context, batchID string) (Progress, error) {
	batch, err := a.store.GetBatch(ctx, batchID)
	if err != nil {
		return Progress{}, err
	}
	jobs, err := a.store.ListJobs(ctx, batchID)
	if err != nil {
		return Progress{}, err
	}

	progress := Progress{
		BatchID:      batch.ID,
		Name:         batch.Name,
		TotalJobs:    len(jobs),
		StatusCounts: make(map[schema.JobStatus]int),
	}
	if len(jobs) == 0 {
		progress.Empty = true
		return progress, nil
	}

	terminal := 0
	for _, job := range jobs {
		status := job.Status
		if !status.Terminal() {
			status = a.reconcile(ctx, job)
		}
		progress.StatusCounts[status]++
		if status.Terminal() {
			terminal++
		}
	}
	progress.ProgressPercent = 100 * float64(terminal) / float64(len(jobs))
	return progress, nil
}

// reconcile refreshes one non-terminal row from the backend. A failed
// refresh degrades to the stored status; stale is acceptable, an aggregation
// failure is not.
func (a *Aggregator) reconcile(ctx context.Context, job manifest.Job) schema.JobStatus {
	detail, err := a.backend.Describe(ctx, job.ID)
	if err != nil {
		a.logger.Warn("reconcile describe failed", "job_id", job.ID, "err", err)
		return job.Status
	}
	if !detail.Status.Valid() || detail.Status.Rank() <= job.Status.Rank() {
		return job.Status
	}
	if _, err := a.store.UpdateStatus(ctx, job.ID, detail.Status, detail.ExitCode, detail.StatusReason); err != nil {
		a.logger.Warn("reconcile update failed", "job_id", job.ID, "err", err)
		return job.Status
	}
	return detail.Status
}
