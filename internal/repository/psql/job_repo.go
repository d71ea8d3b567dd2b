package psql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadbridge/internal/domain/entity"

	"gorm.io/gorm"
)

const activeStatesCond = "state IN ('PENDING','SUBMITTED','IN_PROGRESS')"

type GormJobRepo struct {
	DB *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{DB: db}
}

func (r *GormJobRepo) Create(ctx context.Context, job *entity.TranslationJob) error {
	return r.DB.WithContext(ctx).Create(job).Error
}

func (r *GormJobRepo) Get(ctx context.Context, jobID string) (*entity.TranslationJob, error) {
	job := &entity.TranslationJob{}
	if err := r.DB.WithContext(ctx).First(job, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, entity.ErrJobNotFound)
		}
		return nil, err
	}
	return job, nil
}

func (r *GormJobRepo) GetByExternalReference(ctx context.Context, ref string) (*entity.TranslationJob, error) {
	job := &entity.TranslationJob{}
	if err := r.DB.WithContext(ctx).First(job, "external_reference = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("external reference %s: %w", ref, entity.ErrJobNotFound)
		}
		return nil, err
	}
	return job, nil
}

// CompareAndSwapState is the serialization primitive: the UPDATE carries the
// expected state in its WHERE clause, so of two racing writers exactly one
// sees RowsAffected == 1.
func (r *GormJobRepo) CompareAndSwapState(ctx context.Context, jobID string, expected entity.JobState, fields map[string]interface{}) (bool, error) {
	tx := r.DB.WithContext(ctx).Model(&entity.TranslationJob{}).
		Where("job_id = ? AND state = ?", jobID, expected).
		Updates(fields)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// AdvanceProgress only moves progress forward while the job is in progress;
// a stale or duplicate value leaves the row untouched.
func (r *GormJobRepo) AdvanceProgress(ctx context.Context, jobID string, progress int, checkedAt time.Time) (bool, error) {
	tx := r.DB.WithContext(ctx).Model(&entity.TranslationJob{}).
		Where("job_id = ? AND state = ? AND progress < ?", jobID, entity.StateInProgress, progress).
		Updates(map[string]interface{}{
			"progress":        progress,
			"last_checked_at": checkedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *GormJobRepo) TouchLastChecked(ctx context.Context, jobID string, checkedAt time.Time) error {
	return r.DB.WithContext(ctx).Model(&entity.TranslationJob{}).
		Where("job_id = ?", jobID).
		Update("last_checked_at", checkedAt).Error
}

func (r *GormJobRepo) UpdateNextPoll(ctx context.Context, jobID string, next time.Time) error {
	return r.DB.WithContext(ctx).Model(&entity.TranslationJob{}).
		Where("job_id = ?", jobID).
		Update("next_poll_at", next).Error
}

func (r *GormJobRepo) ListPollDue(ctx context.Context, now time.Time, limit int) ([]entity.TranslationJob, error) {
	var jobs []entity.TranslationJob
	err := r.DB.WithContext(ctx).
		Where("state IN ('SUBMITTED','IN_PROGRESS') AND next_poll_at IS NOT NULL AND next_poll_at <= ?", now).
		Order("next_poll_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *GormJobRepo) ListRetryDue(ctx context.Context, now time.Time, limit int) ([]entity.TranslationJob, error) {
	var jobs []entity.TranslationJob
	err := r.DB.WithContext(ctx).
		Where("state = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?", entity.StatePending, now).
		Order("next_attempt_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ListStalled returns active jobs with no signal since the cutoff. Pending
// jobs with a scheduled retry are excluded: their silence is intentional.
func (r *GormJobRepo) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranslationJob, error) {
	var jobs []entity.TranslationJob
	err := r.DB.WithContext(ctx).
		Where(activeStatesCond+
			" AND COALESCE(last_checked_at, submitted_at, created_at) < ?"+
			" AND (state <> 'PENDING' OR next_attempt_at IS NULL)", cutoff).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
