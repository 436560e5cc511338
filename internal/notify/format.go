// internal/notify/format.go
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-batch/pkg/schema"
)

const missingField = "N/A"

const defaultFailureReason = "unspecified failure"

// Formatter renders terminal events into subscriber-facing messages.
// Formatting never fails: every optional field degrades to an explicit
// placeholder so a sparse event still produces a notification.
type Formatter struct {
	// LogURLTemplate and CheckCommandTemplate may contain {region} and
	// {job_id} placeholders.
	LogURLTemplate       string
	CheckCommandTemplate string
	TroubleshootingURL   string
}

func (f *Formatter) Format(evt schema.JobStateChangeEvent) schema.Notification {
	name := orMissing(evt.JobName)
	jobID := orMissing(evt.JobID)
	region := orMissing(evt.Region)
	occurredAt := orMissing(evt.OccurredAt)
	exitCode := missingField
	if evt.ExitCode != nil {
		exitCode = strconv.Itoa(*evt.ExitCode)
	}
	logURL := f.expand(f.LogURLTemplate, evt)
	checkCmd := f.expand(f.CheckCommandTemplate, evt)

	var b strings.Builder
	var subject string
	category := schema.CategorySuccess

	if evt.Status == schema.StatusSucceeded {
		subject = fmt.Sprintf("✅ Transform Job Completed: %s", name)
		fmt.Fprintf(&b, "✅ Transform Job Completed Successfully\n\n")
		fmt.Fprintf(&b, "Job Name: %s\n", name)
		fmt.Fprintf(&b, "Job ID: %s\n", jobID)
		fmt.Fprintf(&b, "Status: %s\n", evt.Status)
		fmt.Fprintf(&b, "Exit Code: %s\n", exitCode)
		fmt.Fprintf(&b, "Region: %s\n", region)
		fmt.Fprintf(&b, "Completed At: %s\n", occurredAt)
	} else {
		category = schema.CategoryFailure
		reason := evt.StatusReason
		if reason == "" {
			reason = defaultFailureReason
		}
		subject = fmt.Sprintf("❌ Transform Job Failed: %s", name)
		fmt.Fprintf(&b, "❌ Transform Job Failed\n\n")
		fmt.Fprintf(&b, "Job Name: %s\n", name)
		fmt.Fprintf(&b, "Job ID: %s\n", jobID)
		fmt.Fprintf(&b, "Status: %s\n", evt.Status)
		fmt.Fprintf(&b, "Exit Code: %s\n", exitCode)
		fmt.Fprintf(&b, "Reason: %s\n", reason)
		fmt.Fprintf(&b, "Region: %s\n", region)
		fmt.Fprintf(&b, "Failed At: %s\n", occurredAt)
	}

	fmt.Fprintf(&b, "\nView logs:\n%s\n", logURL)
	fmt.Fprintf(&b, "\nCheck job status:\n%s\n", checkCmd)
	if category == schema.CategoryFailure && f.TroubleshootingURL != "" {
		fmt.Fprintf(&b, "\nTroubleshooting:\n%s\n", f.TroubleshootingURL)
	}

	return schema.Notification{
		Category:   category,
		Subject:    subject,
		Body:       b.String(),
		JobID:      evt.JobID,
		EventID:    evt.EventID,
		HappenedAt: time.Now().Unix(),
	}
}

func (f *Formatter) expand(template string, evt schema.JobStateChangeEvent) string {
	if template == "" {
		return missingField
	}
	out := strings.ReplaceAll(template, "{region}", orMissing(evt.Region))
	return strings.ReplaceAll(out, "{job_id}", orMissing(evt.JobID))
}

func orMissing(s string) string {
	if s == "" {
		return missingField
	}
	return s
}
