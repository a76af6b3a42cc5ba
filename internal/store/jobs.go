package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vodkeeper/vodkeeper"
)

// CreateJob enqueues a download job for the candidate item. If an active
// job (pending/downloading/retrying) already exists for the same URL, the
// existing job is returned along with ErrJobExists. The partial unique
// index closes the lookup/insert race: a concurrent duplicate insert fails
// at the database and is reported the same way.
func (s *Store) CreateJob(item vodkeeper.CandidateItem, priority int, maxRetries int) (*DownloadJob, error) {
	if item.URL == "" {
		return nil, vodkeeper.ErrInvalidCandidate
	}

	if existing, err := s.ActiveJobByURL(item.URL); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ErrJobExists
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize candidate: %w", err)
	}
	job := &DownloadJob{
		ID:            uuid.NewString(),
		VideoURL:      item.URL,
		Title:         item.Title,
		Channel:       item.Channel,
		Status:        JobPending,
		Priority:      priority,
		CreatedAt:     time.Now(),
		MaxRetries:    maxRetries,
		CandidateJSON: payload,
	}
	if err := s.db.Create(job).Error; err != nil {
		// Lost the race between lookup and insert; surface the winner.
		if existing, lookupErr := s.ActiveJobByURL(item.URL); lookupErr == nil && existing != nil {
			return existing, ErrJobExists
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.log.Infow("created download job", "job_id", job.ID, "url", job.VideoURL, "priority", priority)
	return job, nil
}

// ActiveJobByURL returns (nil, nil) if no active job exists for the URL.
func (s *Store) ActiveJobByURL(url string) (*DownloadJob, error) {
	var job DownloadJob
	err := s.db.
		Where("video_url = ? AND status IN ?", url, []JobStatus{JobPending, JobDownloading, JobRetrying}).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// JobByID returns (nil, nil) if no such job exists.
func (s *Store) JobByID(id string) (*DownloadJob, error) {
	var job DownloadJob
	err := s.db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// PendingJobs returns up to limit pending jobs, highest priority first,
// FIFO within a priority tier.
func (s *Store) PendingJobs(limit int) ([]DownloadJob, error) {
	return s.jobsByStatus(JobPending, limit)
}

// RetryingJobs returns up to limit re-armed jobs with the same ordering as
// PendingJobs.
func (s *Store) RetryingJobs(limit int) ([]DownloadJob, error) {
	return s.jobsByStatus(JobRetrying, limit)
}

func (s *Store) jobsByStatus(status JobStatus, limit int) ([]DownloadJob, error) {
	var jobs []DownloadJob
	err := s.db.
		Where("status = ?", status).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkJobDownloading transitions a picked job to downloading and stamps
// started_at.
func (s *Store) MarkJobDownloading(id string) error {
	now := time.Now()
	return s.updateJob(id, map[string]interface{}{
		"status":     JobDownloading,
		"started_at": &now,
	})
}

// MarkJobCompleted finishes a job successfully.
func (s *Store) MarkJobCompleted(id string) error {
	now := time.Now()
	return s.updateJob(id, map[string]interface{}{
		"status":        JobCompleted,
		"completed_at":  &now,
		"error_message": "",
	})
}

// MarkJobFailed finishes a job with the captured error message, which is
// the single human-readable failure surface.
func (s *Store) MarkJobFailed(id string, message string) error {
	now := time.Now()
	return s.updateJob(id, map[string]interface{}{
		"status":        JobFailed,
		"completed_at":  &now,
		"error_message": message,
	})
}

func (s *Store) updateJob(id string, fields map[string]interface{}) error {
	res := s.db.Model(&DownloadJob{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RetryJob re-arms a failed job. The retry counter increments only on this
// transition and the transition is refused once the ceiling is reached.
func (s *Store) RetryJob(id string) (*DownloadJob, error) {
	var job DownloadJob
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&job, "id = ?", id).Error; err != nil {
			return err
		}
		if job.Status != JobFailed {
			return fmt.Errorf("%w: cannot retry job in status %q", ErrBadState, job.Status)
		}
		if job.RetryCount >= job.MaxRetries {
			return ErrMaxRetries
		}
		job.Status = JobRetrying
		job.RetryCount++
		job.CompletedAt = nil
		return tx.Model(&DownloadJob{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":       JobRetrying,
			"retry_count":  job.RetryCount,
			"completed_at": nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("re-armed failed job", "job_id", id, "retry_count", job.RetryCount)
	return &job, nil
}

// DeleteJobsOlderThan garbage-collects terminal jobs past the given age.
func (s *Store) DeleteJobsOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	res := s.db.
		Where("status IN ? AND created_at < ?", []JobStatus{JobCompleted, JobFailed}, cutoff).
		Delete(&DownloadJob{})
	return res.RowsAffected, res.Error
}

// CountJobs returns the number of jobs in the given status.
func (s *Store) CountJobs(status JobStatus) (int64, error) {
	var count int64
	err := s.db.Model(&DownloadJob{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
