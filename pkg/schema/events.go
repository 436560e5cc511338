// pkg/schema/events.go
package schema

// JobStatus is the lifecycle state reported by the compute backend.
type JobStatus string

const (
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusRunning   JobStatus = "RUNNING"
	StatusSucceeded JobStatus = "SUCCEEDED"
	StatusFailed    JobStatus = "FAILED"
)

// Rank orders statuses along the lifecycle. Transitions are only ever
// applied in increasing rank, so a redelivered or late event can never
// move a job backward.
func (s JobStatus) Rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	}
	return -1
}

func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	return s.Rank() >= 0
}

// JobStateChangeEvent is one record from the backend's state-change feed.
// The feed is at-least-once; EventID is the deduplication key. Optional
// fields stay nil/empty when the producer omits them.
type JobStateChangeEvent struct {
	EventID      string    `json:"event_id"`
	JobID        string    `json:"job_id"`
	JobName      string    `json:"job_name"`
	JobQueue     string    `json:"job_queue"`
	Status       JobStatus `json:"status"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	StatusReason string    `json:"status_reason,omitempty"`
	OccurredAt   string    `json:"occurred_at"`
	Region       string    `json:"region"`
}

type NotificationCategory string

const (
	CategorySuccess NotificationCategory = "success"
	CategoryFailure NotificationCategory = "failure"
)

// Notification is the formatted message handed to the delivery fabric.
type Notification struct {
	Category   NotificationCategory `json:"category"`
	Subject    string               `json:"subject"`
	Body       string               `json:"body"`
	JobID      string               `json:"job_id"`
	EventID    string               `json:"event_id"`
	HappenedAt int64                `json:"happened_at"`
}

// DeadLetter wraps a notification that exhausted its publish retries.
type DeadLetter struct {
	Notification Notification `json:"notification"`
	Error        string       `json:"error"`
	Attempts     int          `json:"attempts"`
	HappenedAt   int64        `json:"happened_at"`
}
