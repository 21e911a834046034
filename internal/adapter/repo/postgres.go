package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id            UUID PRIMARY KEY,
    input         TEXT NOT NULL,
    operation     TEXT NOT NULL,
    params_json   JSONB NOT NULL DEFAULT '{}'::jsonb,
    status        TEXT NOT NULL,
    error_code    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    output_ref    TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at    TIMESTAMPTZ,
    finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS artifacts (
    job_id     UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    mime       TEXT NOT NULL,
    bytes      BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (job_id, name)
);
`

// PostgresStore implements domain.JobStore on a shared Postgres database, for
// deployments that split the API and the workers into separate processes.
// Claiming relies on FOR UPDATE SKIP LOCKED so concurrent workers never grab
// the same job.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool and ensures the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(orEmptyParams(job.Params))
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, input, operation, params_json, status)
         VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Input, job.Operation, params, domain.JobStatusPending,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobPG+` WHERE id = $1`, id)
	return scanJobPG(row)
}

func (s *PostgresStore) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectJobPG
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, filter.Status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE jobs SET status = $1, started_at = NOW(), attempts = attempts + 1
WHERE id = (
    SELECT id FROM jobs
    WHERE status = $2
    ORDER BY created_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, input, operation, params_json, status, error_code, error_message,
          output_ref, attempts, created_at, started_at, finished_at`,
		domain.JobStatusRunning, domain.JobStatusPending,
	)
	job, err := scanJobPG(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id, outputRef string, artifacts []domain.Artifact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin success: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, output_ref = $2, finished_at = NOW()
         WHERE id = $3 AND status = $4`,
		domain.JobStatusSucceeded, outputRef, id, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, domain.JobStatusSucceeded)
	}

	for _, artifact := range artifacts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO artifacts (job_id, name, mime, bytes)
             VALUES ($1, $2, $3, $4)
             ON CONFLICT (job_id, name) DO UPDATE SET mime = $3, bytes = $4`,
			id, artifact.Name, artifact.MIME, artifact.Bytes,
		); err != nil {
			return fmt.Errorf("insert artifact %s: %w", artifact.Name, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, code domain.ErrorCode, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_code = $2, error_message = $3, finished_at = NOW()
         WHERE id = $4 AND status = $5`,
		domain.JobStatusFailed, code, message, id, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, domain.JobStatusFailed)
	}
	return nil
}

func (s *PostgresStore) CancelPending(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_code = $2, error_message = $3, finished_at = NOW()
         WHERE id = $4 AND status = $5`,
		domain.JobStatusFailed, domain.ErrorCodeCancelled, "cancelled before execution",
		id, domain.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel pending: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if _, err := s.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, name, mime, bytes, created_at FROM artifacts WHERE job_id = $1 ORDER BY name`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var artifact domain.Artifact
		if err := rows.Scan(&artifact.JobID, &artifact.Name, &artifact.MIME, &artifact.Bytes, &artifact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = $1`, domain.JobStatusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
         WHERE status IN ($1, $2) AND finished_at IS NOT NULL
           AND finished_at < NOW() - make_interval(secs => $3)`,
		domain.JobStatusSucceeded, domain.JobStatusFailed, olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal: %w", err)
	}
	return tag.RowsAffected(), nil
}

const selectJobPG = `
SELECT id, input, operation, params_json, status, error_code, error_message,
       output_ref, attempts, created_at, started_at, finished_at
FROM jobs`

func scanJobPG(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var params []byte
	var errorCode string
	err := row.Scan(
		&job.ID, &job.Input, &job.Operation, &params, &job.Status,
		&errorCode, &job.ErrorMessage, &job.OutputRef, &job.Attempts,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ErrorCode = domain.ErrorCode(errorCode)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return &job, nil
}

func (s *PostgresStore) transitionError(ctx context.Context, id string, to domain.JobStatus) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("invalid transition: %s -> %s", job.Status, to)
}

var _ domain.JobStore = (*PostgresStore)(nil)
