package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cadbridge/internal/domain/entity"
)

// fakeJobRepo reproduces the compare-and-swap contract of the Postgres repo
// in memory so the state machine can be exercised without a database.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*entity.TranslationJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*entity.TranslationJob)}
}

func (f *fakeJobRepo) put(job *entity.TranslationJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.JobID] = &cp
}

func (f *fakeJobRepo) Create(_ context.Context, job *entity.TranslationJob) error {
	f.put(job)
	return nil
}

func (f *fakeJobRepo) Get(_ context.Context, jobID string) (*entity.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, entity.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) GetByExternalReference(_ context.Context, ref string) (*entity.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, job := range f.jobs {
		if job.ExternalReference != "" && job.ExternalReference == ref {
			cp := *job
			return &cp, nil
		}
	}
	return nil, entity.ErrJobNotFound
}

func (f *fakeJobRepo) CompareAndSwapState(_ context.Context, jobID string, expected entity.JobState, fields map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.State != expected {
		return false, nil
	}
	if err := applyFields(job, fields); err != nil {
		return false, err
	}
	job.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakeJobRepo) AdvanceProgress(_ context.Context, jobID string, progress int, checkedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.State != entity.StateInProgress || job.Progress >= progress {
		return false, nil
	}
	job.Progress = progress
	job.LastCheckedAt = &checkedAt
	return true, nil
}

func (f *fakeJobRepo) TouchLastChecked(_ context.Context, jobID string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.LastCheckedAt = &checkedAt
	}
	return nil
}

func (f *fakeJobRepo) UpdateNextPoll(_ context.Context, jobID string, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[jobID]; ok {
		job.NextPollAt = &next
	}
	return nil
}

func (f *fakeJobRepo) ListPollDue(_ context.Context, now time.Time, limit int) ([]entity.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.TranslationJob
	for _, job := range f.jobs {
		if len(out) >= limit {
			break
		}
		if (job.State == entity.StateSubmitted || job.State == entity.StateInProgress) &&
			job.NextPollAt != nil && !job.NextPollAt.After(now) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ListRetryDue(_ context.Context, now time.Time, limit int) ([]entity.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.TranslationJob
	for _, job := range f.jobs {
		if len(out) >= limit {
			break
		}
		if job.State == entity.StatePending && job.NextAttemptAt != nil && !job.NextAttemptAt.After(now) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) ListStalled(_ context.Context, cutoff time.Time, limit int) ([]entity.TranslationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.TranslationJob
	for _, job := range f.jobs {
		if len(out) >= limit {
			break
		}
		if !job.State.Active() {
			continue
		}
		if job.State == entity.StatePending && job.NextAttemptAt != nil {
			continue
		}
		if job.StallReference().Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func applyFields(job *entity.TranslationJob, fields map[string]interface{}) error {
	for key, val := range fields {
		switch key {
		case "state":
			job.State = val.(entity.JobState)
		case "progress":
			job.Progress = val.(int)
		case "retry_count":
			job.RetryCount = val.(int)
		case "last_error":
			job.LastError = val.(string)
		case "external_reference":
			job.ExternalReference = val.(string)
		case "submitted_at":
			job.SubmittedAt = timeField(val)
		case "completed_at":
			job.CompletedAt = timeField(val)
		case "last_checked_at":
			job.LastCheckedAt = timeField(val)
		case "next_attempt_at":
			job.NextAttemptAt = timeField(val)
		case "next_poll_at":
			job.NextPollAt = timeField(val)
		default:
			return fmt.Errorf("unexpected field %q", key)
		}
	}
	return nil
}

func timeField(val interface{}) *time.Time {
	if val == nil {
		return nil
	}
	t := val.(time.Time)
	return &t
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []entity.JobEvent
}

func (f *fakeNotifier) PublishJobEvent(_ context.Context, ev entity.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) all() []entity.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.JobEvent(nil), f.events...)
}

type fakeCache struct {
	mu    sync.Mutex
	snaps map[string]entity.Snapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{snaps: make(map[string]entity.Snapshot)}
}

func (f *fakeCache) SetSnapshot(_ context.Context, jobID string, snap entity.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[jobID] = snap
	return nil
}

func (f *fakeCache) GetSnapshot(_ context.Context, jobID string) (*entity.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap, ok := f.snaps[jobID]; ok {
		return &snap, nil
	}
	return nil, nil
}

type fakeSubmissionClient struct {
	mu       sync.Mutex
	submit   func(ctx context.Context, req entity.SubmissionRequest) (string, error)
	status   func(ctx context.Context, ref string) (entity.TranslationSignal, error)
	attempts int
}

func (f *fakeSubmissionClient) Submit(ctx context.Context, req entity.SubmissionRequest) (string, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()
	return f.submit(ctx, req)
}

func (f *fakeSubmissionClient) Status(ctx context.Context, ref string) (entity.TranslationSignal, error) {
	if f.status == nil {
		return entity.TranslationSignal{}, fmt.Errorf("status not configured")
	}
	return f.status(ctx, ref)
}

type fakePresigner struct{}

func (fakePresigner) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://models.test/" + key, nil
}
