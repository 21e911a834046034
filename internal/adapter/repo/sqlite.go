package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mediaforge/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id            TEXT PRIMARY KEY,
    input         TEXT NOT NULL,
    operation     TEXT NOT NULL,
    params_json   TEXT NOT NULL DEFAULT '{}',
    status        TEXT NOT NULL,
    error_code    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    output_ref    TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL,
    started_at    TEXT,
    finished_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

CREATE TABLE IF NOT EXISTS artifacts (
    job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    mime       TEXT NOT NULL,
    bytes      INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (job_id, name)
);
`

// SQLiteStore is the default durable JobStore, backed by a single database
// file inside the work directory.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the job database and applies the
// schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(orEmptyParams(job.Params))
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, input, operation, params_json, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Input, job.Operation, string(params),
		domain.JobStatusPending, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobSQLite+` WHERE id = ?`, id)
	return scanJobSQLite(row)
}

func (s *SQLiteStore) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectJobSQLite
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJobSQLite(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1`,
		domain.JobStatusPending,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, attempts = attempts + 1
         WHERE id = ? AND status = ?`,
		domain.JobStatusRunning, now, id, domain.JobStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	row := tx.QueryRowContext(ctx, selectJobSQLite+` WHERE id = ?`, id)
	job, err := scanJobSQLite(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) MarkSucceeded(ctx context.Context, id, outputRef string, artifacts []domain.Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin success: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, output_ref = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		domain.JobStatusSucceeded, outputRef, now, id, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if err := requireTransition(ctx, tx, res, id, domain.JobStatusSucceeded); err != nil {
		return err
	}

	for _, artifact := range artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO artifacts (job_id, name, mime, bytes, created_at)
             VALUES (?, ?, ?, ?, ?)`,
			id, artifact.Name, artifact.MIME, artifact.Bytes,
			artifact.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert artifact %s: %w", artifact.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, code domain.ErrorCode, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_code = ?, error_message = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		domain.JobStatusFailed, code, message, now, id, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(ctx, id, domain.JobStatusFailed)
	}
	return nil
}

func (s *SQLiteStore) CancelPending(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_code = ?, error_message = ?, finished_at = ?
         WHERE id = ? AND status = ?`,
		domain.JobStatusFailed, domain.ErrorCodeCancelled, "cancelled before execution", now,
		id, domain.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if _, err := s.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, name, mime, bytes, created_at FROM artifacts WHERE job_id = ? ORDER BY name`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		var artifact domain.Artifact
		var createdAt string
		if err := rows.Scan(&artifact.JobID, &artifact.Name, &artifact.MIME, &artifact.Bytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifact.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ?`, domain.JobStatusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
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

func (s *SQLiteStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		domain.JobStatusSucceeded, domain.JobStatusFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge terminal: %w", err)
	}
	return res.RowsAffected()
}

const selectJobSQLite = `
SELECT id, input, operation, params_json, status, error_code, error_message,
       output_ref, attempts, created_at, started_at, finished_at
FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobSQLite(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var paramsJSON, createdAt, errorCode string
	var startedAt, finishedAt sql.NullString
	err := row.Scan(
		&job.ID, &job.Input, &job.Operation, &paramsJSON, &job.Status,
		&errorCode, &job.ErrorMessage, &job.OutputRef, &job.Attempts,
		&createdAt, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ErrorCode = domain.ErrorCode(errorCode)
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAt.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStore) transitionError(ctx context.Context, id string, to domain.JobStatus) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("invalid transition: %s -> %s", job.Status, to)
}

func requireTransition(ctx context.Context, tx *sql.Tx, res sql.Result, id string, to domain.JobStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	return fmt.Errorf("invalid transition: %s -> %s", status, to)
}

func orEmptyParams(params map[string]string) map[string]string {
	if params == nil {
		return map[string]string{}
	}
	return params
}

var _ domain.JobStore = (*SQLiteStore)(nil)
