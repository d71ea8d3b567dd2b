package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadbridge/internal/domain/entity"

	"github.com/sirupsen/logrus"
)

var ErrJobTerminal = errors.New("job already in a terminal state")

type JobRepo interface {
	Create(ctx context.Context, job *entity.TranslationJob) error
	Get(ctx context.Context, jobID string) (*entity.TranslationJob, error)
	GetByExternalReference(ctx context.Context, ref string) (*entity.TranslationJob, error)

	// CompareAndSwapState applies fields only if the row is still in the
	// expected state, and reports whether the swap happened. This is the
	// primitive that serializes concurrent webhook/poll writes per row.
	CompareAndSwapState(ctx context.Context, jobID string, expected entity.JobState, fields map[string]interface{}) (bool, error)

	// AdvanceProgress moves progress forward monotonically while the job is
	// in progress; stale or duplicate values are rejected as a no-op.
	AdvanceProgress(ctx context.Context, jobID string, progress int, checkedAt time.Time) (bool, error)

	TouchLastChecked(ctx context.Context, jobID string, checkedAt time.Time) error
	UpdateNextPoll(ctx context.Context, jobID string, next time.Time) error

	ListPollDue(ctx context.Context, now time.Time, limit int) ([]entity.TranslationJob, error)
	ListRetryDue(ctx context.Context, now time.Time, limit int) ([]entity.TranslationJob, error)
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranslationJob, error)
}

type EventPublisher interface {
	PublishJobEvent(ctx context.Context, ev entity.JobEvent) error
}

type StatusCache interface {
	SetSnapshot(ctx context.Context, jobID string, snap entity.Snapshot) error
	GetSnapshot(ctx context.Context, jobID string) (*entity.Snapshot, error)
}

const sweepBatchSize = 100

// Reconciler merges asynchronous signals (webhook push or poll response)
// into the job record. All writes go through the repo's compare-and-swap
// primitive, so a webhook and a poll racing on the same row cannot
// interleave: one wins, the other is absorbed as a stale no-op.
type Reconciler struct {
	jobs         JobRepo
	events       EventPublisher
	cache        StatusCache
	retry        RetryPolicy
	stallCeiling time.Duration
	log          *logrus.Entry
}

func NewReconciler(jobs JobRepo, events EventPublisher, cache StatusCache, retry RetryPolicy, stallCeiling time.Duration, lg *logrus.Logger) *Reconciler {
	return &Reconciler{
		jobs:         jobs,
		events:       events,
		cache:        cache,
		retry:        retry,
		stallCeiling: stallCeiling,
		log:          lg.WithField("component", "reconciler"),
	}
}

// Apply merges one signal into the authoritative job record. Signals for an
// unknown external reference are logged and dropped: the webhook endpoint
// still acknowledges them. Replayed or out-of-order signals never regress
// state or progress.
func (r *Reconciler) Apply(ctx context.Context, sig entity.TranslationSignal) error {
	job, err := r.jobs.GetByExternalReference(ctx, sig.ExternalReference)
	if err != nil {
		if errors.Is(err, entity.ErrJobNotFound) {
			r.log.WithFields(logrus.Fields{
				"external_reference": sig.ExternalReference,
				"signal":             sig.Type,
				"source":             sig.Source,
			}).Warn("signal for unknown external reference dropped")
			return nil
		}
		return err
	}

	switch job.State {
	case entity.StateSubmitted, entity.StateInProgress:
	default:
		// Cancelled, already terminal, or reset for retry: the signal is
		// stale and its result is discarded.
		r.log.WithFields(logrus.Fields{"job_id": job.JobID, "state": job.State, "signal": sig.Type}).
			Debug("stale signal absorbed")
		return nil
	}

	switch sig.Type {
	case entity.SignalStarted:
		return r.applyStarted(ctx, job)
	case entity.SignalProgress:
		return r.applyProgress(ctx, job, sig.Progress)
	case entity.SignalSucceeded:
		return r.applySuccess(ctx, job)
	case entity.SignalFailed:
		return r.applyFailure(ctx, job, sig.ErrorCode)
	default:
		r.log.WithFields(logrus.Fields{"job_id": job.JobID, "signal": sig.Type}).Warn("unknown signal type dropped")
		return nil
	}
}

func (r *Reconciler) applyStarted(ctx context.Context, job *entity.TranslationJob) error {
	if job.State == entity.StateInProgress {
		return r.jobs.TouchLastChecked(ctx, job.JobID, time.Now())
	}
	swapped, err := r.jobs.CompareAndSwapState(ctx, job.JobID, entity.StateSubmitted, map[string]interface{}{
		"state":           entity.StateInProgress,
		"last_checked_at": time.Now(),
	})
	if err != nil {
		return err
	}
	if swapped {
		r.committed(ctx, job.JobID)
	}
	return nil
}

func (r *Reconciler) applyProgress(ctx context.Context, job *entity.TranslationJob, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	now := time.Now()

	if job.State == entity.StateSubmitted {
		if progress == 0 {
			// not started yet; record that the service answered
			return r.jobs.TouchLastChecked(ctx, job.JobID, now)
		}
		swapped, err := r.jobs.CompareAndSwapState(ctx, job.JobID, entity.StateSubmitted, map[string]interface{}{
			"state":           entity.StateInProgress,
			"progress":        progress,
			"last_checked_at": now,
		})
		if err != nil {
			return err
		}
		if swapped {
			r.committed(ctx, job.JobID)
			return nil
		}
		// lost the race to another signal; fall through to the monotone path
	}

	swapped, err := r.jobs.AdvanceProgress(ctx, job.JobID, progress, now)
	if err != nil {
		return err
	}
	if swapped {
		r.committed(ctx, job.JobID)
		return nil
	}
	// duplicate or stale progress: the row is untouched, but the service
	// answered, so the job must not look silent to the timeout sweep
	return r.jobs.TouchLastChecked(ctx, job.JobID, now)
}

func (r *Reconciler) applySuccess(ctx context.Context, job *entity.TranslationJob) error {
	now := time.Now()
	if job.State == entity.StateSubmitted {
		// success may arrive before any progress signal; promote through
		// InProgress so no transition edge is skipped
		if _, err := r.jobs.CompareAndSwapState(ctx, job.JobID, entity.StateSubmitted, map[string]interface{}{
			"state":           entity.StateInProgress,
			"last_checked_at": now,
		}); err != nil {
			return err
		}
	}
	swapped, err := r.jobs.CompareAndSwapState(ctx, job.JobID, entity.StateInProgress, map[string]interface{}{
		"state":           entity.StateSucceeded,
		"progress":        100,
		"completed_at":    now,
		"last_checked_at": now,
		"next_poll_at":    nil,
	})
	if err != nil {
		return err
	}
	if swapped {
		r.committed(ctx, job.JobID)
	}
	return nil
}

func (r *Reconciler) applyFailure(ctx context.Context, job *entity.TranslationJob, errorCode string) error {
	swapped, err := r.jobs.CompareAndSwapState(ctx, job.JobID, job.State, map[string]interface{}{
		"state":           entity.StateFailed,
		"last_error":      errorCode,
		"last_checked_at": time.Now(),
		"next_poll_at":    nil,
	})
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}
	r.committed(ctx, job.JobID)
	r.evaluateRetry(ctx, job.JobID, entity.StateFailed, retryableErrorCode(errorCode))
	return nil
}

// MarkSubmitted records the Pending -> Submitted transition after a
// successful call-out. A false result means the job left Pending in the
// meantime (cancelled) and the call-out result must be discarded.
func (r *Reconciler) MarkSubmitted(ctx context.Context, jobID, externalRef string, pollInterval time.Duration) (bool, error) {
	now := time.Now()
	swapped, err := r.jobs.CompareAndSwapState(ctx, jobID, entity.StatePending, map[string]interface{}{
		"state":              entity.StateSubmitted,
		"external_reference": externalRef,
		"submitted_at":       now,
		"last_error":         "",
		"next_attempt_at":    nil,
		"next_poll_at":       now.Add(pollInterval),
	})
	if err != nil || !swapped {
		return swapped, err
	}
	r.committed(ctx, jobID)
	return true, nil
}

// MarkSubmissionFailed records a failed call-out and hands the job to the
// retry policy. A no-op if the job was cancelled while the call was in
// flight.
func (r *Reconciler) MarkSubmissionFailed(ctx context.Context, jobID string, serr *entity.SubmissionError) error {
	swapped, err := r.jobs.CompareAndSwapState(ctx, jobID, entity.StatePending, map[string]interface{}{
		"state":           entity.StateFailed,
		"last_error":      serr.Error(),
		"next_attempt_at": nil,
	})
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}
	r.committed(ctx, jobID)
	r.evaluateRetry(ctx, jobID, entity.StateFailed, serr.Retryable())
	return nil
}

// Cancel is user-initiated and idempotent: cancelling a cancelled job is a
// no-op, cancelling a job that already reached another terminal outcome is
// an error. The CAS retries a few times because a signal may land between
// the read and the swap.
func (r *Reconciler) Cancel(ctx context.Context, jobID string) error {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := r.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		switch job.State {
		case entity.StateCancelled:
			return nil
		case entity.StateSucceeded, entity.StateFailed, entity.StateTimedOut:
			return ErrJobTerminal
		}
		swapped, err := r.jobs.CompareAndSwapState(ctx, jobID, job.State, map[string]interface{}{
			"state":           entity.StateCancelled,
			"next_attempt_at": nil,
			"next_poll_at":    nil,
		})
		if err != nil {
			return err
		}
		if swapped {
			r.committed(ctx, jobID)
			return nil
		}
	}
	return fmt.Errorf("cancel job %s: state kept changing", jobID)
}

// SweepTimeouts moves jobs with no signal since the stall ceiling to
// TimedOut, then lets the retry policy decide whether they get another
// attempt. Pending jobs waiting on a scheduled retry are not stalled.
func (r *Reconciler) SweepTimeouts(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-r.stallCeiling)
	jobs, err := r.jobs.ListStalled(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := &jobs[i]
		swapped, err := r.jobs.CompareAndSwapState(ctx, job.JobID, job.State, map[string]interface{}{
			"state":           entity.StateTimedOut,
			"last_error":      "no signal from translation service within ceiling",
			"last_checked_at": now,
			"next_poll_at":    nil,
		})
		if err != nil {
			r.log.WithError(err).WithField("job_id", job.JobID).Error("timeout sweep failed")
			continue
		}
		if !swapped {
			continue
		}
		r.committed(ctx, job.JobID)
		r.evaluateRetry(ctx, job.JobID, entity.StateTimedOut, true)
	}
	return nil
}

// evaluateRetry runs after a job landed in Failed or TimedOut. Retries
// remain: back to Pending with the new attempt scheduled after exponential
// backoff and a fresh external reference on resubmission. Exhausted or
// non-retryable: the terminal state stands, with the failure count recorded.
func (r *Reconciler) evaluateRetry(ctx context.Context, jobID string, from entity.JobState, retryable bool) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("retry evaluation: load failed")
		return
	}
	if job.State != from {
		return
	}

	newCount := job.RetryCount + 1
	if !retryable || newCount >= job.MaxRetries {
		if newCount > job.MaxRetries {
			newCount = job.MaxRetries
		}
		swapped, err := r.jobs.CompareAndSwapState(ctx, jobID, from, map[string]interface{}{
			"retry_count": newCount,
		})
		if err != nil {
			r.log.WithError(err).WithField("job_id", jobID).Error("retry exhaustion record failed")
			return
		}
		if swapped {
			r.log.WithFields(logrus.Fields{"job_id": jobID, "retry_count": newCount, "retryable": retryable}).
				Info("job terminal, no retry")
			r.committed(ctx, jobID)
		}
		return
	}

	due := time.Now().Add(r.retry.Delay(job.RetryCount))
	swapped, err := r.jobs.CompareAndSwapState(ctx, jobID, from, map[string]interface{}{
		"state":              entity.StatePending,
		"retry_count":        newCount,
		"next_attempt_at":    due,
		"external_reference": "",
		"next_poll_at":       nil,
	})
	if err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("retry schedule failed")
		return
	}
	if swapped {
		r.log.WithFields(logrus.Fields{"job_id": jobID, "retry_count": newCount, "due": due}).
			Info("retry scheduled")
		r.committed(ctx, jobID)
	}
}

// committed refreshes caches and fans the state change out to the owning
// session. Delivery is best-effort and never blocks reconciliation.
func (r *Reconciler) committed(ctx context.Context, jobID string) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		r.log.WithError(err).WithField("job_id", jobID).Error("post-commit reload failed")
		return
	}
	if r.cache != nil {
		if err := r.cache.SetSnapshot(ctx, job.JobID, job.Snapshot()); err != nil {
			r.log.WithError(err).WithField("job_id", job.JobID).Warn("status cache update failed")
		}
	}
	if err := r.events.PublishJobEvent(ctx, job.Event()); err != nil {
		r.log.WithError(err).WithField("job_id", job.JobID).Warn("job event publish failed")
	}
}

func retryableErrorCode(code string) bool {
	switch entity.SubmissionCause(code) {
	case entity.CauseInvalidInput, entity.CauseUnauthorized:
		return false
	}
	return true
}
