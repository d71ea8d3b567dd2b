package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cadbridge/internal/domain/entity"
	"cadbridge/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ObjectStorage interface {
	Upload(ctx context.Context, key string, file []byte) error
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, body json.RawMessage) error
}

type CreateJobInput struct {
	FileName  string
	FileBytes []byte
	Formats   []string
	UserID    string
	SessionID string
}

// JobStatusView is what the API returns for a job. Once the translation
// succeeded it carries the derivative reference — the external service's
// handle under which the converted outputs are retrieved — and a presigned
// URL for the stored source artifact. Derivative bytes stay at the external
// service.
type JobStatusView struct {
	entity.Snapshot
	SourceURL           string `json:"source_url,omitempty"`
	DerivativeReference string `json:"derivative_reference,omitempty"`
}

type JobUseCase struct {
	jobs       JobRepo
	storage    ObjectStorage
	publisher  Publisher
	cache      StatusCache
	rec        *Reconciler
	maxRetries int
	log        *logrus.Entry
}

func NewJobUseCase(jobs JobRepo, storage ObjectStorage, publisher Publisher, cache StatusCache, rec *Reconciler, maxRetries int, lg *logrus.Logger) *JobUseCase {
	return &JobUseCase{
		jobs:       jobs,
		storage:    storage,
		publisher:  publisher,
		cache:      cache,
		rec:        rec,
		maxRetries: maxRetries,
		log:        lg.WithField("component", "jobs"),
	}
}

// CreateJob stores the uploaded CAD artifact, creates the job row in
// Pending and hands the submission request to the broker. The external
// call-out happens out of process in the reconciler service.
func (u *JobUseCase) CreateJob(ctx context.Context, in CreateJobInput) (*entity.TranslationJob, error) {
	jobID := uuid.New().String()
	sourceKey := "models/" + jobID + "/" + in.FileName

	if err := u.storage.Upload(ctx, sourceKey, in.FileBytes); err != nil {
		return nil, err
	}

	job := &entity.TranslationJob{
		JobID:            jobID,
		UserID:           in.UserID,
		SessionID:        in.SessionID,
		SourceFileID:     uuid.New().String(),
		SourceFileKey:    sourceKey,
		RequestedFormats: entity.JoinFormats(in.Formats),
		State:            entity.StatePending,
		MaxRetries:       u.maxRetries,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := u.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := u.cache.SetSnapshot(ctx, job.JobID, job.Snapshot()); err != nil {
		u.log.WithError(err).WithField("job_id", job.JobID).Warn("status cache seed failed")
	}

	msg, err := utils.ToRawMessage(entity.TranslationRequestedMessage{JobID: job.JobID})
	if err != nil {
		return nil, err
	}
	if err := u.publishWithRetry(ctx, msg); err != nil {
		return nil, err
	}

	u.log.WithFields(logrus.Fields{"job_id": job.JobID, "formats": job.RequestedFormats}).Info("translation job created")
	return job, nil
}

// GetJob serves reads from the status cache while the job is active and
// falls back to the row for cache misses and terminal outcomes.
func (u *JobUseCase) GetJob(ctx context.Context, jobID string) (*JobStatusView, error) {
	if snap, err := u.cache.GetSnapshot(ctx, jobID); err == nil && snap != nil && snap.State != entity.StateSucceeded {
		return &JobStatusView{Snapshot: *snap}, nil
	}

	job, err := u.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := u.cache.SetSnapshot(ctx, job.JobID, job.Snapshot()); err != nil {
		u.log.WithError(err).WithField("job_id", job.JobID).Warn("status cache backfill failed")
	}

	view := &JobStatusView{Snapshot: job.Snapshot()}
	if job.State == entity.StateSucceeded {
		view.DerivativeReference = job.ExternalReference
		url, err := u.storage.GetPresignedURL(ctx, job.SourceFileKey, 24*time.Hour)
		if err != nil {
			u.log.WithError(err).WithField("job_id", job.JobID).Warn("source presign failed")
		} else {
			view.SourceURL = url
		}
	}
	return view, nil
}

func (u *JobUseCase) Cancel(ctx context.Context, jobID string) error {
	return u.rec.Cancel(ctx, jobID)
}

func (u *JobUseCase) publishWithRetry(ctx context.Context, msg json.RawMessage) error {
	var (
		baseDelay   = 500 * time.Millisecond
		maxDelay    = 10 * time.Second
		maxAttempts = 5
	)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := u.publisher.Publish(ctx, msg); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}

		backoff := baseDelay << (attempt - 1)
		if backoff > maxDelay {
			backoff = maxDelay
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errors.New("publish canceled by context")
		}
	}

	return lastErr
}
