// Package repo provides the JobStore implementations: in-memory for tests
// and single-process development, SQLite as the self-contained default, and
// Postgres for deployments where the API and workers are separate processes.
package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediaforge/internal/domain"
)

// MemoryStore keeps jobs in process memory. Single-writer discipline per job
// is enforced with one store-wide mutex; the dataset is small enough that
// finer locking buys nothing.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	artifacts map[string][]domain.Artifact
	seq       map[string]int64 // creation order tiebreaker
	nextSeq   int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*domain.Job),
		artifacts: make(map[string][]domain.Artifact),
		seq:       make(map[string]int64),
	}
}

func (s *MemoryStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := cloneJob(job)
	stored.Status = domain.JobStatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = stored
	s.nextSeq++
	s.seq[job.ID] = s.nextSeq
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, *cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return s.seq[jobs[i].ID] > s.seq[jobs[j].ID]
	})
	limit := filter.Limit
	if limit <= 0 || limit > len(jobs) {
		limit = len(jobs)
	}
	return jobs[:limit], nil
}

func (s *MemoryStore) ClaimNextPending(ctx context.Context) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *domain.Job
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}
		if oldest == nil || s.seq[job.ID] < s.seq[oldest.ID] {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = domain.JobStatusRunning
	oldest.StartedAt = &now
	oldest.Attempts++
	return cloneJob(oldest), nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, id, outputRef string, artifacts []domain.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.ValidTransition(job.Status, domain.JobStatusSucceeded) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, domain.JobStatusSucceeded)
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusSucceeded
	job.OutputRef = outputRef
	job.FinishedAt = &now
	s.artifacts[id] = append([]domain.Artifact(nil), artifacts...)
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, code domain.ErrorCode, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.ValidTransition(job.Status, domain.JobStatusFailed) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, domain.JobStatusFailed)
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorCode = code
	job.ErrorMessage = message
	job.FinishedAt = &now
	return nil
}

func (s *MemoryStore) CancelPending(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusPending {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = domain.JobStatusFailed
	job.ErrorCode = domain.ErrorCodeCancelled
	job.ErrorMessage = "cancelled before execution"
	job.FinishedAt = &now
	return true, nil
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.Artifact(nil), s.artifacts[jobID]...), nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[domain.JobStatus]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for id, job := range s.jobs {
		if !job.Status.IsTerminal() || job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		delete(s.artifacts, id)
		delete(s.seq, id)
		removed++
	}
	return removed, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	if job.Params != nil {
		clone.Params = make(map[string]string, len(job.Params))
		for k, v := range job.Params {
			clone.Params[k] = v
		}
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	return &clone
}

var _ domain.JobStore = (*MemoryStore)(nil)
