// The worker binary runs the job pool without the HTTP surface, sharing a
// Postgres job store with one or more api processes. It lets processing
// capacity scale independently of request handling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/engine"
	"mediaforge/internal/infra"
	"mediaforge/internal/probecache"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required, the embedded sqlite store is single-process")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare work directory")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store, err := repo.NewPostgresStore(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare job tables")
	}

	files, err := storage.NewFileStore(cfg.ArtifactDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	eng := engine.New(engine.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TmpDir:      cfg.TmpDir(),
		Timeout:     cfg.EngineTimeout,
	}, logger)
	executor := engine.NewJobExecutor(eng, files, probecache.New(cfg.ProbeCacheTTL))

	q := queue.New(store, executor, cfg.WorkerCount, cfg.QueueCapacity, logger)
	q.Start(ctx)
	logger.Info().Int("workers", cfg.WorkerCount).Msg("worker: started")

	<-ctx.Done()
	q.Wait()
	logger.Info().Msg("worker: stopped")
}
