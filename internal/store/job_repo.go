package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a durable job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// DefaultJobMaxAttempts is the number of attempts before a job is marked failed.
const DefaultJobMaxAttempts = 3

// Job is a durable unit of deferred work, such as a question reminder.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DecodePayload unmarshals the job payload into dst.
func (j Job) DecodePayload(dst any) error {
	if j.PayloadJSON == "" {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	if err := json.Unmarshal([]byte(j.PayloadJSON), dst); err != nil {
		return fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return nil
}

// EncodePayload marshals v for use as a job payload.
func EncodePayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	return string(b), nil
}

// JobRepo persists durable jobs.
type JobRepo interface {
	// EnqueueJob inserts a new job. If dedupeKey is non-empty and a queued or
	// running job with that key exists, the existing job ID is returned.
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// ClaimDueJobs marks up to limit queued jobs with run_at <= now as running
	// and returns them.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)

	CompleteJob(ctx context.Context, id string) error

	// FailJob records errMsg and requeues the job at nextRunAt, or marks it
	// failed once max_attempts is reached.
	FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error

	CancelJob(ctx context.Context, id string) error

	// RequeueStaleRunningJobs resets jobs locked before staleBefore to queued.
	RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error)

	// GetJob returns nil, nil when the job does not exist.
	GetJob(ctx context.Context, id string) (*Job, error)
}
