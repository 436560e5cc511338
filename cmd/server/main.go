// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-batch/internal/aggregate"
	"github.com/tendant/simple-batch/internal/api"
	"github.com/tendant/simple-batch/internal/backend"
	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/internal/submit"
)

type config struct {
	HTTPAddr        string
	BackendURL      string
	BackendToken    string
	BackendTimeout  time.Duration
	ManifestDriver  string
	DatabaseURL     string
	ShutdownTimeout time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		BackendURL:     getenv("BACKEND_URL", "http://127.0.0.1:9090"),
		BackendToken:   getenv("BACKEND_TOKEN", ""),
		ManifestDriver: getenv("MANIFEST_DRIVER", "postgres"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
	}

	timeoutMs, err := parsePositiveInt(getenv("BACKEND_TIMEOUT_MS", "5000"), "BACKEND_TIMEOUT_MS")
	if err != nil {
		return config{}, err
	}
	cfg.BackendTimeout = time.Duration(timeoutMs) * time.Millisecond

	shutdownSec, err := parsePositiveInt(getenv("SHUTDOWN_TIMEOUT_SECONDS", "10"), "SHUTDOWN_TIMEOUT_SECONDS")
	if err != nil {
		return config{}, err
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSec) * time.Second

	switch cfg.ManifestDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return config{}, errors.New("DATABASE_URL is required with MANIFEST_DRIVER=postgres")
		}
	case "memory":
	default:
		return config{}, fmt.Errorf("unknown MANIFEST_DRIVER %q", cfg.ManifestDriver)
	}
	return cfg, nil
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("server starting", "http_addr", cfg.HTTPAddr, "backend_url", cfg.BackendURL, "manifest_driver", cfg.ManifestDriver, "backend_timeout", cfg.BackendTimeout)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fatal(logger, "open manifest store", err, "driver", cfg.ManifestDriver)
	}
	defer closeStore()

	be := backend.NewClient(cfg.BackendURL,
		backend.WithToken(cfg.BackendToken),
		backend.WithTimeout(cfg.BackendTimeout),
	)

	coordinator := submit.NewCoordinator(be, store, logger.With("component", "submit"))
	aggregator := aggregate.NewAggregator(store, be, logger.With("component", "aggregate"))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(coordinator, aggregator, store, logger.With("component", "api")).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "http server", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg config) (manifest.Store, func(), error) {
	if cfg.ManifestDriver == "memory" {
		return manifest.NewMemoryStore(), func() {}, nil
	}
	pg, err := manifest.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, pg.Close, nil
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
