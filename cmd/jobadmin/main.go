// jobadmin is an operator CLI for the job store: inspect queue depth and
// purge old terminal jobs together with their artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"mediaforge/internal/adapter/repo"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer closeStore()

	switch os.Args[1] {
	case "stats":
		err = runStats(ctx, store)
	case "purge":
		err = runPurge(ctx, cfg, store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jobadmin <stats|purge> [flags]")
	fmt.Fprintln(os.Stderr, "  stats                 print job counts by status")
	fmt.Fprintln(os.Stderr, "  purge -older-than 72h remove terminal jobs and their artifacts")
}

func openStore(ctx context.Context, cfg *infra.Config) (domain.JobStore, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		store, err := repo.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	}
	store, err := repo.OpenSQLite(cfg.QueueDBPath())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func runStats(ctx context.Context, store domain.JobStore) error {
	counts, err := store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusSucceeded,
		domain.JobStatusFailed,
	} {
		fmt.Printf("%-10s %d\n", status, counts[status])
	}
	return nil
}

func runPurge(ctx context.Context, cfg *infra.Config, store domain.JobStore, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	olderThan := fs.Duration("older-than", 72*time.Hour, "minimum age of terminal jobs to remove")
	keepFiles := fs.Bool("keep-files", false, "leave artifact files on disk")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Collect artifact prefixes before the rows disappear.
	var doomed []string
	if !*keepFiles {
		for _, status := range []domain.JobStatus{domain.JobStatusSucceeded, domain.JobStatusFailed} {
			jobs, err := store.List(ctx, domain.JobFilter{Status: status, Limit: 100000})
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-*olderThan)
			for _, job := range jobs {
				if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
					doomed = append(doomed, job.ID)
				}
			}
		}
	}

	removed, err := store.PurgeTerminal(ctx, *olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d jobs\n", removed)

	if len(doomed) > 0 {
		files, err := storage.NewFileStore(cfg.ArtifactDir())
		if err != nil {
			return err
		}
		for _, id := range doomed {
			if err := files.RemovePrefix(id); err != nil {
				fmt.Fprintf(os.Stderr, "remove artifacts %s: %v\n", id, err)
			}
		}
		fmt.Printf("removed artifacts for %d jobs\n", len(doomed))
	}
	return nil
}
