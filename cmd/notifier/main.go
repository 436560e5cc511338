// cmd/notifier/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-batch/internal/bus"
	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/internal/notify"
)

type config struct {
	NATSURL           string
	EventSubject      string
	WorkerQueue       string
	SuccessSubject    string
	FailureSubject    string
	DeadLetterSubject string
	AllowedQueues     []string

	DedupDriver string
	RedisAddr   string
	DedupTTL    time.Duration
	DedupMax    int

	ManifestDriver string
	DatabaseURL    string

	LogURLTemplate       string
	CheckCommandTemplate string
	TroubleshootingURL   string

	PublishAttempts int
	RetryBase       time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		NATSURL:           getenv("NATS_URL", "nats://127.0.0.1:4222"),
		EventSubject:      getenv("EVENT_SUBJECT", "jobs.state.changed"),
		WorkerQueue:       getenv("EVENT_QUEUE", "notifier-workers"),
		SuccessSubject:    getenv("SUCCESS_SUBJECT", "notifications.success"),
		FailureSubject:    getenv("FAILURE_SUBJECT", "notifications.failure"),
		DeadLetterSubject: getenv("DEAD_LETTER_SUBJECT", "notifications.deadletter"),
		DedupDriver:       getenv("DEDUP_DRIVER", "memory"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		ManifestDriver:    getenv("MANIFEST_DRIVER", "postgres"),
		DatabaseURL:       getenv("DATABASE_URL", ""),

		LogURLTemplate:       getenv("LOG_URL_TEMPLATE", "https://console.aws.amazon.com/cloudwatch/home?region={region}#logsV2:log-groups/log-group/$252Faws$252Fbatch$252Ftransform"),
		CheckCommandTemplate: getenv("CHECK_COMMAND_TEMPLATE", "batchctl status {job_id}"),
		TroubleshootingURL:   getenv("TROUBLESHOOTING_URL", "https://docs.example.com/transform/troubleshooting"),
	}

	for _, q := range strings.Split(getenv("ALLOWED_QUEUES", "transform-queue"), ",") {
		if q = strings.TrimSpace(q); q != "" {
			cfg.AllowedQueues = append(cfg.AllowedQueues, q)
		}
	}
	if len(cfg.AllowedQueues) == 0 {
		return config{}, errors.New("ALLOWED_QUEUES must list at least one queue")
	}

	ttlMin, err := parsePositiveInt(getenv("DEDUP_TTL_MINUTES", "15"), "DEDUP_TTL_MINUTES")
	if err != nil {
		return config{}, err
	}
	cfg.DedupTTL = time.Duration(ttlMin) * time.Minute

	cfg.DedupMax, err = parsePositiveInt(getenv("DEDUP_MAX_ENTRIES", "4096"), "DEDUP_MAX_ENTRIES")
	if err != nil {
		return config{}, err
	}

	cfg.PublishAttempts, err = parsePositiveInt(getenv("PUBLISH_ATTEMPTS", "3"), "PUBLISH_ATTEMPTS")
	if err != nil {
		return config{}, err
	}

	retryMs, err := parsePositiveInt(getenv("PUBLISH_RETRY_BASE_MS", "200"), "PUBLISH_RETRY_BASE_MS")
	if err != nil {
		return config{}, err
	}
	cfg.RetryBase = time.Duration(retryMs) * time.Millisecond

	switch cfg.DedupDriver {
	case "memory", "redis":
	default:
		return config{}, fmt.Errorf("unknown DEDUP_DRIVER %q", cfg.DedupDriver)
	}
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
	logger.Info("notifier starting", "nats_url", cfg.NATSURL, "event_subject", cfg.EventSubject, "queue", cfg.WorkerQueue, "allowed_queues", cfg.AllowedQueues, "dedup_driver", cfg.DedupDriver, "dedup_ttl", cfg.DedupTTL)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fatal(logger, "open manifest store", err, "driver", cfg.ManifestDriver)
	}
	defer closeStore()

	window, closeWindow := openWindow(cfg)
	defer closeWindow()

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	router := notify.NewRouter(store, window, nc, &notify.Formatter{
		LogURLTemplate:       cfg.LogURLTemplate,
		CheckCommandTemplate: cfg.CheckCommandTemplate,
		TroubleshootingURL:   cfg.TroubleshootingURL,
	}, notify.Config{
		AllowedQueues:      cfg.AllowedQueues,
		SuccessSubject:     cfg.SuccessSubject,
		FailureSubject:     cfg.FailureSubject,
		DeadLetterSubject:  cfg.DeadLetterSubject,
		MaxPublishAttempts: cfg.PublishAttempts,
		RetryBase:          cfg.RetryBase,
	}, logger.With("component", "router"))

	sub, err := nc.QueueSubscribeJSON(cfg.EventSubject, cfg.WorkerQueue, func(ctx context.Context, data []byte) {
		router.OnEvent(ctx, data)
	})
	if err != nil {
		fatal(logger, "subscribe", err, "subject", cfg.EventSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for state-change events", "subject", cfg.EventSubject, "queue", cfg.WorkerQueue)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	// Stop taking new events, then let Drain flush in-flight handlers.
	if err := sub.Unsubscribe(); err != nil {
		logger.Warn("unsubscribe", "err", err)
	}
	logger.Info("notifier stopped")
}

func openStore(ctx context.Context, cfg config) (manifest.Store, func(), error) {
	if cfg.ManifestDriver == "memory" {
		return manifest.NewMemoryStore(), func() {}, nil
	}
	pg, err := manifest.NewPGStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func openWindow(cfg config) (notify.Window, func()) {
	if cfg.DedupDriver == "redis" {
		w := notify.NewRedisWindow(cfg.RedisAddr, "simple-batch:dedup:", cfg.DedupTTL)
		return w, func() { _ = w.Close() }
	}
	return notify.NewMemoryWindow(cfg.DedupTTL, cfg.DedupMax), func() {}
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
