// internal/notify/router.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/pkg/schema"
)

// Outcome describes how the router disposed of one inbound event.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"   // malformed, untracked queue, or non-terminal
	OutcomeDuplicate Outcome = "duplicate" // already notified within the dedup window
	OutcomePublished Outcome = "published"
	OutcomeFailed    Outcome = "failed" // publish retries exhausted, dead-lettered
)

// Publisher hands formatted messages to the delivery fabric.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type Config struct {
	AllowedQueues      []string
	SuccessSubject     string
	FailureSubject     string
	DeadLetterSubject  string
	MaxPublishAttempts int
	RetryBase          time.Duration
}

// Router converts the at-least-once state-change feed into effectively-once
// notifications: filter, dedup, apply to the manifest, format, publish.
type Router struct {
	store     manifest.Store
	window    Window
	publisher Publisher
	formatter *Formatter
	cfg       Config
	allowed   map[string]struct{}
	logger    *slog.Logger
	sleep     func(time.Duration)
}

func NewRouter(store manifest.Store, window Window, publisher Publisher, formatter *Formatter, cfg Config, logger *slog.Logger) *Router {
	if cfg.MaxPublishAttempts <= 0 {
		cfg.MaxPublishAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedQueues))
	for _, q := range cfg.AllowedQueues {
		allowed[q] = struct{}{}
	}
	return &Router{
		store:     store,
		window:    window,
		publisher: publisher,
		formatter: formatter,
		cfg:       cfg,
		allowed:   allowed,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// OnEvent validates a raw feed payload at the boundary and routes it.
func (r *Router) OnEvent(ctx context.Context, raw []byte) Outcome {
	var evt schema.JobStateChangeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		r.logger.Warn("discarding malformed event", "err", err)
		return OutcomeIgnored
	}
	return r.Handle(ctx, evt)
}

func (r *Router) Handle(ctx context.Context, evt schema.JobStateChangeEvent) Outcome {
	logger := r.logger.With("event_id", evt.EventID, "job_id", evt.JobID)

	if evt.EventID == "" || evt.JobID == "" {
		logger.Warn("discarding event with missing identifiers")
		return OutcomeIgnored
	}
	if _, ok := r.allowed[evt.JobQueue]; !ok {
		logger.Debug("event for untracked queue", "queue", evt.JobQueue)
		return OutcomeIgnored
	}
	if !evt.Status.Terminal() {
		logger.Debug("non-terminal event", "status", evt.Status)
		return OutcomeIgnored
	}

	seen, err := r.window.Seen(ctx, evt.EventID)
	if err != nil {
		// Fail open: a broken dedup store may duplicate a notification,
		// dropping one silently would be worse.
		logger.Warn("dedup window check failed", "err", err)
	} else if seen {
		logger.Info("duplicate event suppressed")
		return OutcomeDuplicate
	}

	r.applyToManifest(ctx, evt, logger)

	notification := r.formatter.Format(evt)
	subject := r.cfg.SuccessSubject
	if notification.Category == schema.CategoryFailure {
		subject = r.cfg.FailureSubject
	}

	if err := r.publishWithRetry(subject, notification); err != nil {
		logger.Error("publish failed after retries", "subject", subject, "attempts", r.cfg.MaxPublishAttempts, "err", err)
		r.deadLetter(notification, err)
		return OutcomeFailed
	}
	logger.Info("notification published", "subject", subject, "category", notification.Category)
	return OutcomePublished
}

// applyToManifest records the terminal status. A regressive or repeated
// transition is a no-op inside the store; an unknown job is fine too — the
// allow-list, not manifest membership, decides what gets notified.
func (r *Router) applyToManifest(ctx context.Context, evt schema.JobStateChangeEvent, logger *slog.Logger) {
	applied, err := r.store.UpdateStatus(ctx, evt.JobID, evt.Status, evt.ExitCode, evt.StatusReason)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		logger.Debug("event for job outside the manifest")
	case err != nil:
		logger.Warn("manifest update failed", "err", err)
	case !applied:
		logger.Debug("manifest already at or past status", "status", evt.Status)
	}
}

func (r *Router) publishWithRetry(subject string, n schema.Notification) error {
	delay := r.cfg.RetryBase
	var err error
	for attempt := 1; attempt <= r.cfg.MaxPublishAttempts; attempt++ {
		if err = r.publisher.PublishJSON(subject, n); err == nil {
			return nil
		}
		if attempt < r.cfg.MaxPublishAttempts {
			r.logger.Warn("publish attempt failed", "subject", subject, "attempt", attempt, "err", err)
			r.sleep(delay)
			delay *= 2
		}
	}
	return err
}

func (r *Router) deadLetter(n schema.Notification, cause error) {
	dl := schema.DeadLetter{
		Notification: n,
		Error:        cause.Error(),
		Attempts:     r.cfg.MaxPublishAttempts,
		HappenedAt:   time.Now().Unix(),
	}
	if err := r.publisher.PublishJSON(r.cfg.DeadLetterSubject, dl); err != nil {
		r.logger.Error("dead-letter publish failed", "subject", r.cfg.DeadLetterSubject, "event_id", n.EventID, "err", err)
	}
}
