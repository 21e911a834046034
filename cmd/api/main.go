package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/domain"
	"mediaforge/internal/engine"
	"mediaforge/internal/http/handlers"
	httpapi "mediaforge/internal/http/httpapi"
	"mediaforge/internal/infra"
	"mediaforge/internal/infra/geoip"
	"mediaforge/internal/middleware"
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

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare work directory")
	}
	lock, err := infra.AcquireWorkDirLock(cfg.LockPath())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LockPath()).Msg("work directory is already in use")
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job store: Postgres when DATABASE_URL is set, embedded SQLite otherwise.
	var store domain.JobStore
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		pgStore, err := repo.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare job tables")
		}
		store = pgStore
		logger.Info().Msg("using postgres job store")
	} else {
		sqlStore, err := repo.OpenSQLite(cfg.QueueDBPath())
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.QueueDBPath()).Msg("failed to open job database")
		}
		defer sqlStore.Close()
		store = sqlStore
		logger.Info().Str("path", cfg.QueueDBPath()).Msg("using sqlite job store")
	}

	files, err := storage.NewFileStore(cfg.ArtifactDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure artifact storage")
	}

	eng := engine.New(engine.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		TmpDir:      cfg.TmpDir(),
		Timeout:     cfg.EngineTimeout,
	}, logger)
	if deps := eng.Dependencies(); !deps.FFmpegFound || !deps.FFprobeFound {
		logger.Warn().Interface("deps", deps).Msg("media tools missing from PATH, jobs will fail")
	}

	cache := probecache.New(cfg.ProbeCacheTTL)
	executor := engine.NewJobExecutor(eng, files, cache)

	q := queue.New(store, executor, cfg.WorkerCount, cfg.QueueCapacity, logger)
	q.Start(ctx)

	var country middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country annotation disabled")
	} else if resolver != nil {
		defer resolver.Close()
		country = resolver.CountryCode
	}

	app := handlers.NewApp(store, q, files, cache, eng, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		Country:            country,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	// workers observe ctx cancellation; wait for in-flight jobs to record
	q.Wait()
	logger.Info().Msg("server stopped")
}
