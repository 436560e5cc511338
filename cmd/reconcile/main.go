// cmd/reconcile/main.go
//
// One-shot sweep that refreshes every non-terminal manifest row from the
// compute backend. Run it to close gaps left by missed feed events, e.g.
// after a notifier outage.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-batch/internal/backend"
	"github.com/tendant/simple-batch/internal/manifest"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		batchID = flag.String("batch", "", "limit the sweep to one batch id")
		dryRun  = flag.Bool("dry-run", false, "describe jobs but do not write status updates")
		timeout = flag.Duration("timeout", 5*time.Minute, "overall sweep deadline")
	)
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fatal(logger, "config", errors.New("DATABASE_URL is required"))
	}
	backendURL := getenv("BACKEND_URL", "http://127.0.0.1:9090")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := manifest.NewPGStore(ctx, databaseURL)
	if err != nil {
		fatal(logger, "open manifest store", err)
	}
	defer store.Close()

	be := backend.NewClient(backendURL, backend.WithToken(os.Getenv("BACKEND_TOKEN")))

	jobs, err := listTargets(ctx, store, *batchID)
	if err != nil {
		fatal(logger, "list jobs", err)
	}
	logger.Info("sweep starting", "jobs", len(jobs), "batch", *batchID, "dry_run", *dryRun)

	var refreshed, unchanged, failed int
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		detail, err := be.Describe(ctx, job.ID)
		if err != nil {
			logger.Warn("describe failed", "job_id", job.ID, "err", err)
			failed++
			continue
		}
		if !detail.Status.Valid() || detail.Status.Rank() <= job.Status.Rank() {
			unchanged++
			continue
		}
		if *dryRun {
			logger.Info("would refresh", "job_id", job.ID, "from", job.Status, "to", detail.Status)
			refreshed++
			continue
		}
		applied, err := store.UpdateStatus(ctx, job.ID, detail.Status, detail.ExitCode, detail.StatusReason)
		if err != nil {
			logger.Warn("update failed", "job_id", job.ID, "err", err)
			failed++
			continue
		}
		if applied {
			logger.Info("refreshed", "job_id", job.ID, "from", job.Status, "to", detail.Status)
			refreshed++
		} else {
			unchanged++
		}
	}

	logger.Info("sweep finished", "refreshed", refreshed, "unchanged", unchanged, "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func listTargets(ctx context.Context, store *manifest.PGStore, batchID string) ([]manifest.Job, error) {
	if batchID != "" {
		return store.ListJobs(ctx, batchID)
	}
	return store.ListNonTerminal(ctx)
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
