package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// JobState is the internal lifecycle state of a queued execution job.
type JobState string

const (
	StateCreated   JobState = "created"
	StateRetry     JobState = "retry"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// IsTerminal returns true if the state is final.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// PublicStatus is the reduced status vocabulary exposed to queue callers.
type PublicStatus string

const (
	StatusQueued     PublicStatus = "queued"
	StatusProcessing PublicStatus = "processing"
	StatusCompleted  PublicStatus = "completed"
	StatusFailed     PublicStatus = "failed"
	StatusCancelled  PublicStatus = "cancelled"
	StatusNotFound   PublicStatus = "not_found"
)

// IsTerminal returns true if no further transitions will be observed.
func (s PublicStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotFound:
		return true
	}
	return false
}

// Public maps an internal state onto the public vocabulary.
func (s JobState) Public() PublicStatus {
	switch s {
	case StateCreated, StateRetry:
		return StatusQueued
	case StateActive:
		return StatusProcessing
	case StateCompleted:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	case StateCancelled:
		return StatusCancelled
	}
	return StatusNotFound
}

// JobSpec is the payload of an execution job.
type JobSpec struct {
	Code         string    `json:"code"`
	Language     string    `json:"language"`
	Input        string    `json:"input"`
	UserID       string    `json:"userId,omitempty"`
	SubmissionID string    `json:"submissionId,omitempty"`
	MatchID      string    `json:"matchId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RetryPolicy controls how a failed job is rescheduled.
type RetryPolicy struct {
	Limit   int           `json:"retryLimit"`
	Delay   time.Duration `json:"retryDelay"`
	Backoff bool          `json:"retryBackoff"`
}

// EnqueueOptions are per-job overrides supplied by the caller.
// Zero values fall back to the queue defaults.
type EnqueueOptions struct {
	// ID is a caller-supplied stable id. It is only honoured when UUID-shaped.
	ID       string
	Priority int
	Retry    *RetryPolicy
	// Timeout overrides the sandbox wall-clock limit for this job.
	Timeout time.Duration
}

// JobResult is the single result recorded for a job.
type JobResult struct {
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExitCode        int    `json:"exitCode"`
	Success         bool   `json:"success"`
	TimedOut        bool   `json:"timedOut,omitempty"`
	ExecutionTimeMs int64  `json:"executionTime"`
	Error           string `json:"error,omitempty"`
}

// Job is a queued unit of work: one code execution against one input.
type Job struct {
	ID          uuid.UUID     `json:"id"`
	Spec        JobSpec       `json:"payload"`
	Priority    int           `json:"priority"`
	Retry       RetryPolicy   `json:"retry"`
	RetryCount  int           `json:"retryCount"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	State       JobState      `json:"state"`
	Result      *JobResult    `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartAfter  time.Time     `json:"startAfter"`
	CreatedOn   time.Time     `json:"createdOn"`
	StartedOn   *time.Time    `json:"startedOn,omitempty"`
	CompletedOn *time.Time    `json:"completedOn,omitempty"`
	KeepUntil   *time.Time    `json:"keepUntil,omitempty"`
}

// NextRetryAt reports when the job should run again, or false when retries are exhausted.
func (j *Job) NextRetryAt(now time.Time) (time.Time, bool) {
	if j.RetryCount >= j.Retry.Limit {
		return time.Time{}, false
	}
	delay := j.Retry.Delay
	if j.Retry.Backoff {
		delay = delay << j.RetryCount
	}
	return now.Add(delay), true
}

// JobStatus is the public view of a job returned by the queue.
type JobStatus struct {
	ID          uuid.UUID    `json:"id"`
	Status      PublicStatus `json:"status"`
	Result      *JobResult   `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedOn   *time.Time   `json:"createdOn,omitempty"`
	StartedOn   *time.Time   `json:"startedOn,omitempty"`
	CompletedOn *time.Time   `json:"completedOn,omitempty"`
}

// StatusOf builds the public status view of a job.
func StatusOf(j *Job) *JobStatus {
	created := j.CreatedOn
	return &JobStatus{
		ID:          j.ID,
		Status:      j.State.Public(),
		Result:      j.Result,
		Error:       j.Error,
		CreatedOn:   &created,
		StartedOn:   j.StartedOn,
		CompletedOn: j.CompletedOn,
	}
}

var uuidShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ParseStableID accepts only the canonical 8-4-4-4-12 form. uuid.Parse alone
// would also take urn: and braced forms.
func ParseStableID(s string) (uuid.UUID, bool) {
	if !uuidShape.MatchString(s) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
