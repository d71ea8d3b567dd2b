package entity

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type JobState string

const (
	StatePending    JobState = "PENDING"
	StateSubmitted  JobState = "SUBMITTED"
	StateInProgress JobState = "IN_PROGRESS"
	StateSucceeded  JobState = "SUCCEEDED"
	StateFailed     JobState = "FAILED"
	StateTimedOut   JobState = "TIMED_OUT"
	StateCancelled  JobState = "CANCELLED"
)

var ErrJobNotFound = errors.New("job not found")

// transitions holds the allowed edges of the job lifecycle. Failed and
// TimedOut can move back to Pending only through the retry policy.
var transitions = map[JobState][]JobState{
	StatePending:    {StateSubmitted, StateFailed, StateTimedOut, StateCancelled},
	StateSubmitted:  {StateInProgress, StateFailed, StateTimedOut, StateCancelled},
	StateInProgress: {StateInProgress, StateSucceeded, StateFailed, StateTimedOut, StateCancelled},
	StateFailed:     {StatePending},
	StateTimedOut:   {StatePending},
}

func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateCancelled:
		return true
	case StateFailed, StateTimedOut:
		// terminal unless the retry policy moves the job back to Pending
		return true
	}
	return false
}

func (s JobState) Active() bool {
	return !s.Terminal()
}

type TranslationJob struct {
	JobID             string   `gorm:"primaryKey;type:uuid" json:"job_id"`
	UserID            string   `gorm:"not null;type:uuid" json:"user_id"`
	SessionID         string   `gorm:"not null;index" json:"session_id"`
	SourceFileID      string   `gorm:"not null;type:uuid" json:"source_file_id"`
	SourceFileKey     string   `gorm:"not null" json:"source_file_key"`
	RequestedFormats  string   `gorm:"not null" json:"requested_formats"`
	ExternalReference string   `gorm:"index" json:"external_reference"`
	State             JobState `gorm:"not null;type:text;index" json:"state"`
	Progress          int      `gorm:"not null;default:0" json:"progress"`
	RetryCount        int      `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries        int      `gorm:"not null" json:"max_retries"`
	LastError         string   `json:"last_error"`

	// Durable scheduling fields: retries and polls survive process restarts
	// because due times live on the row, not in timers.
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at"`
	NextPollAt    *time.Time `gorm:"index" json:"next_poll_at"`

	SubmittedAt   *time.Time     `json:"submitted_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	LastCheckedAt *time.Time     `json:"last_checked_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Formats returns the requested output formats in their original order.
func (j *TranslationJob) Formats() []string {
	if j.RequestedFormats == "" {
		return nil
	}
	return strings.Split(j.RequestedFormats, ",")
}

func JoinFormats(formats []string) string {
	return strings.Join(formats, ",")
}

// StallReference is the timestamp the timeout sweeper measures against:
// the last observed signal, falling back to submission and creation time.
func (j *TranslationJob) StallReference() time.Time {
	if j.LastCheckedAt != nil {
		return *j.LastCheckedAt
	}
	if j.SubmittedAt != nil {
		return *j.SubmittedAt
	}
	return j.CreatedAt
}

// Snapshot is the user-visible view of a job: retry bookkeeping stays
// internal, only the eventual outcome and progress surface.
type Snapshot struct {
	JobID     string   `json:"job_id"`
	State     JobState `json:"state"`
	Progress  int      `json:"progress"`
	LastError string   `json:"last_error,omitempty"`
}

func (j *TranslationJob) Snapshot() Snapshot {
	return Snapshot{
		JobID:     j.JobID,
		State:     j.State,
		Progress:  j.Progress,
		LastError: j.LastError,
	}
}

// JobEvent is published to the owning session on every committed state
// change. Delivery is best-effort and at-most-once per subscriber.
type JobEvent struct {
	JobID     string   `json:"job_id"`
	SessionID string   `json:"session_id"`
	State     JobState `json:"state"`
	Progress  int      `json:"progress"`
	LastError string   `json:"last_error,omitempty"`
}

func (j *TranslationJob) Event() JobEvent {
	return JobEvent{
		JobID:     j.JobID,
		SessionID: j.SessionID,
		State:     j.State,
		Progress:  j.Progress,
		LastError: j.LastError,
	}
}
