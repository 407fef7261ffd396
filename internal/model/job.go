package model

import (
	"errors"
	"fmt"
)

// ErrInvalidJob is returned when a job message misses required fields.
var ErrInvalidJob = errors.New("invalid job")

// Item statuses reported to the callback receiver.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobSpec is a batch editing job as delivered by the queue or the HTTP intake.
type JobSpec struct {
	JobID            string   `json:"job_id"`
	UserID           string   `json:"user_id"`
	Preset           string   `json:"preset,omitempty"`
	Concepts         Concepts `json:"concepts"`
	Protect          []string `json:"protect"`
	Items            []Item   `json:"items"`
	CallbackURL      string   `json:"callback_url"`
	BatchConcurrency int      `json:"batch_concurrency,omitempty"`
}

// Item is one image of the batch.
type Item struct {
	Idx        int    `json:"idx"` // caller-assigned, not deduplicated
	InputKey   string `json:"input_key"`
	OutputKey  string `json:"output_key"`
	PreviewKey string `json:"preview_key,omitempty"`
}

// Validate checks the fields every job needs before any work starts.
func (j JobSpec) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidJob)
	}

	for _, it := range j.Items {
		if it.InputKey == "" {
			return fmt.Errorf("%w: item %d: input_key is required", ErrInvalidJob, it.Idx)
		}
		if it.OutputKey == "" {
			return fmt.Errorf("%w: item %d: output_key is required", ErrInvalidJob, it.Idx)
		}
	}

	return nil
}

// Summary aggregates the outcome of every item of a job.
type Summary struct {
	TotalItems      int      `json:"total_items"`
	SuccessfulItems int      `json:"successful_items"`
	FailedItems     int      `json:"failed_items"`
	Errors          []string `json:"errors"`
}

// NewSummary returns an empty summary for a job with total items.
func NewSummary(total int) Summary {
	return Summary{TotalItems: total, Errors: []string{}}
}
