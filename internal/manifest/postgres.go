// internal/manifest/postgres.go
package manifest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-batch/pkg/schema"
)

// PGStore is the durable Store implementation. Same-row races are settled
// by the transition guard in the UPDATE predicate, so a redelivered event
// applied concurrently simply matches zero rows.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(ctx context.Context, conn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connect manifest database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() { s.pool.Close() }

// statusRank mirrors schema.JobStatus.Rank in SQL so the forward-only
// check happens inside the row update.
const statusRank = `(CASE %s WHEN 'SUBMITTED' THEN 0 WHEN 'RUNNING' THEN 1 ELSE 2 END)`

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    batch_id      TEXT,
    command       TEXT NOT NULL,
    source_ref    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    exit_code     INT,
    status_reason TEXT NOT NULL DEFAULT '',
    submitted_at  TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_jobs (
    batch_id TEXT NOT NULL REFERENCES batches(id),
    job_id   TEXT NOT NULL REFERENCES jobs(id),
    ordinal  INT  NOT NULL,
    PRIMARY KEY (batch_id, job_id)
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs(status);
`)
	return err
}

func (s *PGStore) RecordJob(ctx context.Context, job Job) error {
	var batchID any
	if job.BatchID != "" {
		batchID = job.BatchID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, batch_id, command, source_ref, status, exit_code, status_reason, submitted_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Name, batchID, job.Command, job.SourceRef, job.Status, job.ExitCode, job.StatusReason, job.SubmittedAt, job.UpdatedAt,
	)
	return err
}

func (s *PGStore) CreateBatch(ctx context.Context, batch Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO batches (id, name, created_at) VALUES ($1, $2, $3)`,
		batch.ID, batch.Name, batch.CreatedAt,
	); err != nil {
		return err
	}
	for i, jobID := range batch.JobIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO batch_jobs (batch_id, job_id, ordinal) VALUES ($1, $2, $3)`,
			batch.ID, jobID, i,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) UpdateStatus(ctx context.Context, jobID string, status schema.JobStatus, exitCode *int, reason string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("manifest: invalid status %q", status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, exit_code = $3, status_reason = $4, updated_at = $5
         WHERE id = $1 AND `+fmt.Sprintf(statusRank, "status")+` < $6`,
		jobID, status, exitCode, reason, time.Now().UTC(), status.Rank(),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Zero rows is either a no-op transition or an unknown job.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

const jobColumns = `id, name, COALESCE(batch_id, ''), command, source_ref, status, exit_code, status_reason, submitted_at, updated_at`

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.Name, &job.BatchID, &job.Command, &job.SourceRef,
		&job.Status, &job.ExitCode, &job.StatusReason, &job.SubmittedAt, &job.UpdatedAt)
	return job, err
}

func (s *PGStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

func (s *PGStore) ListJobs(ctx context.Context, batchID string) ([]Job, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
         JOIN batch_jobs bj ON bj.job_id = jobs.id
         WHERE bj.batch_id = $1
         ORDER BY bj.ordinal`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PGStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	var batch Batch
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM batches WHERE id = $1`, batchID,
	).Scan(&batch.ID, &batch.Name, &batch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	if err != nil {
		return Batch{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT job_id FROM batch_jobs WHERE batch_id = $1 ORDER BY ordinal`, batchID)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Batch{}, err
		}
		batch.JobIDs = append(batch.JobIDs, id)
	}
	return batch, rows.Err()
}

// ListNonTerminal is used by the reconcile sweep; it is not part of the
// Store interface because only the durable driver needs it.
func (s *PGStore) ListNonTerminal(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN ('SUBMITTED', 'RUNNING') ORDER BY submitted_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
