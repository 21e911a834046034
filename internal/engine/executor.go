package engine

import (
	"context"
	"fmt"
	"time"

	"mediaforge/internal/domain"
	"mediaforge/internal/probecache"
	"mediaforge/internal/storage"
)

// JobExecutor binds the engine to artifact storage and the probe cache. It
// is what the queue's workers actually call.
type JobExecutor struct {
	engine *Engine
	store  *storage.FileStore
	cache  *probecache.Cache
}

// NewJobExecutor constructs the executor. The cache may be nil, which
// disables probe caching.
func NewJobExecutor(engine *Engine, store *storage.FileStore, cache *probecache.Cache) *JobExecutor {
	return &JobExecutor{engine: engine, store: store, cache: cache}
}

// Execute runs one job. Probe jobs are answered from the cache when a fresh
// document exists for the same input; everything else goes through the
// engine.
func (x *JobExecutor) Execute(ctx context.Context, job *domain.Job) (string, []domain.Artifact, error) {
	if job.Operation == domain.OpProbe && x.cache != nil {
		if data, ok := x.cache.Get(job.Input); ok {
			key, err := x.store.Write(ctx, job.ID+"/probe.json", data)
			if err != nil {
				return "", nil, fmt.Errorf("write cached probe: %w", err)
			}
			artifact := domain.Artifact{
				JobID:     job.ID,
				Name:      "probe.json",
				MIME:      "application/json",
				Bytes:     int64(len(data)),
				CreatedAt: time.Now().UTC(),
			}
			return key, []domain.Artifact{artifact}, nil
		}
	}

	result, err := x.engine.Run(ctx, job, x.store)
	if err != nil {
		return "", nil, err
	}
	if len(result.ProbeJSON) > 0 && x.cache != nil {
		x.cache.Set(job.Input, result.ProbeJSON)
	}
	return result.OutputRef, result.Artifacts, nil
}
