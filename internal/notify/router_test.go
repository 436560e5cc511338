package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/pkg/schema"
)

type published struct {
	subject string
	payload any
}

type fakePublisher struct {
	failures int
	calls    []published
}

func (p *fakePublisher) PublishJSON(subject string, v any) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("fabric unavailable")
	}
	p.calls = append(p.calls, published{subject: subject, payload: v})
	return nil
}

type errorWindow struct{}

func (errorWindow) Seen(ctx context.Context, eventID string) (bool, error) {
	return false, errors.New("window unavailable")
}

func testRouter(t *testing.T, store manifest.Store, pub Publisher) *Router {
	t.Helper()
	if store == nil {
		store = manifest.NewMemoryStore()
	}
	router := NewRouter(store, NewMemoryWindow(time.Minute, 128), pub, &Formatter{
		LogURLTemplate:       "https://logs.example.com/{region}",
		CheckCommandTemplate: "batchctl status {job_id}",
		TroubleshootingURL:   "https://docs.example.com/troubleshooting",
	}, Config{
		AllowedQueues:      []string{"transform-queue"},
		SuccessSubject:     "notifications.success",
		FailureSubject:     "notifications.failure",
		DeadLetterSubject:  "notifications.deadletter",
		MaxPublishAttempts: 3,
		RetryBase:          time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	router.sleep = func(time.Duration) {}
	return router
}

func succeededEvent(eventID, jobID string) schema.JobStateChangeEvent {
	exitZero := 0
	return schema.JobStateChangeEvent{
		EventID:    eventID,
		JobID:      jobID,
		JobName:    jobID + "-name",
		JobQueue:   "transform-queue",
		Status:     schema.StatusSucceeded,
		ExitCode:   &exitZero,
		OccurredAt: "2026-08-31T12:00:00Z",
		Region:     "us-east-1",
	}
}

func TestHandlePublishesSuccessNotification(t *testing.T) {
	store := manifest.NewMemoryStore()
	store.RecordJob(context.Background(), manifest.Job{ID: "j1", Name: "j1-name", Command: "transform", Status: schema.StatusRunning})
	pub := &fakePublisher{}
	router := testRouter(t, store, pub)

	outcome := router.Handle(context.Background(), succeededEvent("e1", "j1"))
	if outcome != OutcomePublished {
		t.Fatalf("outcome = %s, want published", outcome)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(pub.calls))
	}
	if pub.calls[0].subject != "notifications.success" {
		t.Fatalf("published to %s", pub.calls[0].subject)
	}
	n := pub.calls[0].payload.(schema.Notification)
	if !strings.Contains(n.Body, "j1-name") || !strings.Contains(n.Body, "Exit Code: 0") {
		t.Fatalf("body missing job name or exit code:\n%s", n.Body)
	}

	job, err := store.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != schema.StatusSucceeded {
		t.Fatalf("manifest status = %s, want SUCCEEDED", job.Status)
	}
}

func TestHandleRedeliveredEventSuppressed(t *testing.T) {
	store := manifest.NewMemoryStore()
	store.RecordJob(context.Background(), manifest.Job{ID: "j1", Name: "j1-name", Command: "transform", Status: schema.StatusRunning})
	pub := &fakePublisher{}
	router := testRouter(t, store, pub)

	if outcome := router.Handle(context.Background(), succeededEvent("e1", "j1")); outcome != OutcomePublished {
		t.Fatalf("first delivery: %s", outcome)
	}
	if outcome := router.Handle(context.Background(), succeededEvent("e1", "j1")); outcome != OutcomeDuplicate {
		t.Fatalf("redelivery: %s", outcome)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected exactly one publish across redelivery, got %d", len(pub.calls))
	}

	job, _ := store.GetJob(context.Background(), "j1")
	if job.Status != schema.StatusSucceeded {
		t.Fatalf("manifest regressed to %s", job.Status)
	}
}

func TestHandleFailureWithoutReason(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(t, nil, pub)

	exitCode := 137
	outcome := router.Handle(context.Background(), schema.JobStateChangeEvent{
		EventID:  "e2",
		JobID:    "j2",
		JobName:  "j2-name",
		JobQueue: "transform-queue",
		Status:   schema.StatusFailed,
		ExitCode: &exitCode,
		Region:   "us-east-1",
	})
	if outcome != OutcomePublished {
		t.Fatalf("outcome = %s, want published", outcome)
	}
	if pub.calls[0].subject != "notifications.failure" {
		t.Fatalf("published to %s", pub.calls[0].subject)
	}
	n := pub.calls[0].payload.(schema.Notification)
	if !strings.Contains(n.Body, "Reason: unspecified failure") {
		t.Fatalf("missing reason fallback:\n%s", n.Body)
	}
	if !strings.Contains(n.Body, "Troubleshooting:") {
		t.Fatalf("failure body missing troubleshooting section:\n%s", n.Body)
	}
}

func TestHandleFiltersUntrackedQueueAndNonTerminal(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(t, nil, pub)

	evt := succeededEvent("e1", "j1")
	evt.JobQueue = "someone-elses-queue"
	if outcome := router.Handle(context.Background(), evt); outcome != OutcomeIgnored {
		t.Fatalf("untracked queue: %s", outcome)
	}

	running := succeededEvent("e2", "j1")
	running.Status = schema.StatusRunning
	if outcome := router.Handle(context.Background(), running); outcome != OutcomeIgnored {
		t.Fatalf("non-terminal: %s", outcome)
	}

	if len(pub.calls) != 0 {
		t.Fatalf("filtered events should not publish, got %d", len(pub.calls))
	}
}

func TestOnEventMalformedPayload(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(t, nil, pub)

	if outcome := router.OnEvent(context.Background(), []byte("{not json")); outcome != OutcomeIgnored {
		t.Fatalf("malformed payload: %s", outcome)
	}
	if outcome := router.OnEvent(context.Background(), []byte(`{"status":"SUCCEEDED"}`)); outcome != OutcomeIgnored {
		t.Fatalf("missing identifiers: %s", outcome)
	}
}

func TestOnEventDecodesFeedPayload(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(t, nil, pub)

	raw, _ := json.Marshal(succeededEvent("e1", "j1"))
	if outcome := router.OnEvent(context.Background(), raw); outcome != OutcomePublished {
		t.Fatalf("outcome = %s, want published", outcome)
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	router := testRouter(t, nil, pub)

	if outcome := router.Handle(context.Background(), succeededEvent("e1", "j1")); outcome != OutcomePublished {
		t.Fatalf("outcome = %s, want published after retries", outcome)
	}
	if len(pub.calls) != 1 {
		t.Fatalf("expected one successful publish, got %d", len(pub.calls))
	}
}

func TestPublishExhaustionDeadLetters(t *testing.T) {
	// 3 attempts fail; the 4th call is the dead-letter publish.
	pub := &fakePublisher{failures: 3}
	router := testRouter(t, nil, pub)

	if outcome := router.Handle(context.Background(), succeededEvent("e1", "j1")); outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
	if len(pub.calls) != 1 || pub.calls[0].subject != "notifications.deadletter" {
		t.Fatalf("expected dead-letter publish, got %+v", pub.calls)
	}
	dl := pub.calls[0].payload.(schema.DeadLetter)
	if dl.Attempts != 3 || dl.Notification.EventID != "e1" {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}
}

func TestDedupErrorFailsOpen(t *testing.T) {
	pub := &fakePublisher{}
	router := testRouter(t, nil, pub)
	router.window = errorWindow{}

	if outcome := router.Handle(context.Background(), succeededEvent("e1", "j1")); outcome != OutcomePublished {
		t.Fatalf("outcome = %s, want published despite window error", outcome)
	}
}
