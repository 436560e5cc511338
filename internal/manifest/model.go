// internal/manifest/model.go
package manifest

import (
	"time"

	"github.com/tendant/simple-batch/pkg/schema"
)

// Job is one manifest row: a unit of work accepted by the compute backend
// and its last-known status.
type Job struct {
	ID           string           `json:"job_id"`
	Name         string           `json:"job_name"`
	BatchID      string           `json:"batch_id,omitempty"` // empty for standalone jobs
	Command      string           `json:"command"`
	SourceRef    string           `json:"source_ref,omitempty"`
	Status       schema.JobStatus `json:"status"`
	ExitCode     *int             `json:"exit_code,omitempty"`
	StatusReason string           `json:"status_reason,omitempty"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Batch is a named group of jobs submitted together. Membership is fixed
// at creation; aggregate state is always derived from the member rows.
type Batch struct {
	ID        string    `json:"batch_id"`
	Name      string    `json:"name"`
	JobIDs    []string  `json:"job_ids"`
	CreatedAt time.Time `json:"created_at"`
}
