package domain

import (
	"context"
	"time"
)

// JobFilter narrows List results.
type JobFilter struct {
	Status JobStatus // empty means all
	Limit  int       // <= 0 means store default
}

// JobStore defines persistence for jobs and their artifacts. Implementations
// must enforce ValidTransition on every status update and apply field groups
// atomically so readers never observe a half-updated job.
type JobStore interface {
	// Create inserts a new pending job.
	Create(ctx context.Context, job *Job) error

	// GetByID fetches a job, returning ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*Job, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter JobFilter) ([]Job, error)

	// ClaimNextPending atomically moves the oldest pending job to running
	// and returns it, or ErrNotFound when nothing is pending.
	ClaimNextPending(ctx context.Context) (*Job, error)

	// MarkSucceeded finishes a running job, recording the output reference
	// and artifact rows in one atomic group.
	MarkSucceeded(ctx context.Context, id, outputRef string, artifacts []Artifact) error

	// MarkFailed finishes a running job with a failure category.
	MarkFailed(ctx context.Context, id string, code ErrorCode, message string) error

	// CancelPending moves a still-pending job to failed/cancelled so it is
	// never claimed. Returns false when the job already left pending.
	CancelPending(ctx context.Context, id string) (bool, error)

	// ListArtifacts returns the artifacts recorded for a job.
	ListArtifacts(ctx context.Context, jobID string) ([]Artifact, error)

	// CountPending reports the current queue backlog.
	CountPending(ctx context.Context) (int, error)

	// CountByStatus reports job totals per status.
	CountByStatus(ctx context.Context) (map[JobStatus]int64, error)

	// PurgeTerminal deletes terminal jobs finished before the cutoff and
	// returns how many were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}
