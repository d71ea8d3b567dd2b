package usecase

import (
	"context"
	"errors"
	"time"

	"cadbridge/internal/domain/entity"

	"github.com/sirupsen/logrus"
)

type SubmissionClient interface {
	// Submit starts a translation and returns the external reference, or a
	// *entity.SubmissionError with a machine-readable cause.
	Submit(ctx context.Context, req entity.SubmissionRequest) (string, error)
	// Status queries the external service for the current state of a
	// submitted translation; it feeds the same reconciliation entry point
	// as the webhook.
	Status(ctx context.Context, externalReference string) (entity.TranslationSignal, error)
}

type SourcePresigner interface {
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Submitter performs the one call-out that starts a translation. The source
// artifact is handed to the external service as a presigned URL; the call is
// bounded by a request timeout after which it counts as transient_network.
type Submitter struct {
	jobs         JobRepo
	client       SubmissionClient
	rec          *Reconciler
	storage      SourcePresigner
	timeout      time.Duration
	pollInterval time.Duration
	log          *logrus.Entry
}

func NewSubmitter(jobs JobRepo, client SubmissionClient, rec *Reconciler, storage SourcePresigner, timeout, pollInterval time.Duration, lg *logrus.Logger) *Submitter {
	return &Submitter{
		jobs:         jobs,
		client:       client,
		rec:          rec,
		storage:      storage,
		timeout:      timeout,
		pollInterval: pollInterval,
		log:          lg.WithField("component", "submitter"),
	}
}

// SubmitJob submits a Pending job to the external service. Messages for
// jobs that already moved on (cancelled, already submitted by a racing
// consumer) are dropped. An in-flight call-out cannot be aborted; if the
// job was cancelled meanwhile, the returned reference is discarded.
func (s *Submitter) SubmitJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, entity.ErrJobNotFound) {
			s.log.WithField("job_id", jobID).Warn("submission request for unknown job dropped")
			return nil
		}
		return err
	}
	if job.State != entity.StatePending {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "state": job.State}).Debug("stale submission request dropped")
		return nil
	}

	sourceURL, err := s.storage.GetPresignedURL(ctx, job.SourceFileKey, time.Hour)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	ref, err := s.client.Submit(cctx, entity.SubmissionRequest{
		SourceURL: sourceURL,
		Formats:   job.Formats(),
	})
	cancel()

	if err != nil {
		var serr *entity.SubmissionError
		if !errors.As(err, &serr) {
			serr = &entity.SubmissionError{Cause: entity.CauseTransientNetwork, Message: err.Error()}
		}
		s.log.WithFields(logrus.Fields{"job_id": jobID, "cause": serr.Cause}).Warn("submission call-out failed")
		return s.rec.MarkSubmissionFailed(ctx, jobID, serr)
	}

	swapped, err := s.rec.MarkSubmitted(ctx, jobID, ref, s.pollInterval)
	if err != nil {
		return err
	}
	if !swapped {
		s.log.WithFields(logrus.Fields{"job_id": jobID, "external_reference": ref}).
			Info("job left pending during call-out, submission result discarded")
	}
	return nil
}
