package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler drives the three periodic concerns of the reconciler service:
// polling the external service for jobs whose webhook may never arrive,
// resubmitting jobs whose backoff delay elapsed, and timing out jobs that
// went silent. All three read their due work from the job rows, so they
// survive restarts.
type Scheduler struct {
	jobs       JobRepo
	client     SubmissionClient
	rec        *Reconciler
	sub        *Submitter
	pollEvery  time.Duration
	retryEvery time.Duration
	sweepEvery time.Duration
	batchSize  int
	log        *logrus.Entry
}

func NewScheduler(jobs JobRepo, client SubmissionClient, rec *Reconciler, sub *Submitter, pollEvery, retryEvery, sweepEvery time.Duration, batchSize int, lg *logrus.Logger) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		client:     client,
		rec:        rec,
		sub:        sub,
		pollEvery:  pollEvery,
		retryEvery: retryEvery,
		sweepEvery: sweepEvery,
		batchSize:  batchSize,
		log:        lg.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	pollTicker := time.NewTicker(s.pollEvery)
	retryTicker := time.NewTicker(s.retryEvery)
	sweepTicker := time.NewTicker(s.sweepEvery)
	defer pollTicker.Stop()
	defer retryTicker.Stop()
	defer sweepTicker.Stop()

	s.log.Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return
		case <-pollTicker.C:
			s.pollTick(ctx)
		case <-retryTicker.C:
			s.retryTick(ctx)
		case <-sweepTicker.C:
			if err := s.rec.SweepTimeouts(ctx, time.Now()); err != nil {
				s.log.WithError(err).Error("timeout sweep failed")
			}
		}
	}
}

func (s *Scheduler) pollTick(ctx context.Context) {
	jobs, err := s.jobs.ListPollDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("poll tick: listing due jobs failed")
		return
	}
	for i := range jobs {
		job := &jobs[i]
		if err := s.jobs.UpdateNextPoll(ctx, job.JobID, time.Now().Add(s.pollEvery)); err != nil {
			s.log.WithError(err).WithField("job_id", job.JobID).Error("poll reschedule failed")
			continue
		}
		sig, err := s.client.Status(ctx, job.ExternalReference)
		if err != nil {
			// an unreachable service must still trip the timeout sweep,
			// so last_checked_at is left untouched
			s.log.WithError(err).WithField("job_id", job.JobID).Warn("status poll failed")
			continue
		}
		sig.Source = "poll"
		if err := s.rec.Apply(ctx, sig); err != nil {
			s.log.WithError(err).WithField("job_id", job.JobID).Error("poll signal reconciliation failed")
		}
	}
}

func (s *Scheduler) retryTick(ctx context.Context) {
	jobs, err := s.jobs.ListRetryDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("retry tick: listing due jobs failed")
		return
	}
	for i := range jobs {
		if err := s.sub.SubmitJob(ctx, jobs[i].JobID); err != nil {
			s.log.WithError(err).WithField("job_id", jobs[i].JobID).Error("scheduled resubmission failed")
		}
	}
}
