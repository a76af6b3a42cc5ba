package store

import (
	"encoding/json"
	"time"

	"github.com/vodkeeper/vodkeeper"
)

// JobStatus is the download job state machine:
//
//	pending --(picked)--> downloading --(success)--> completed
//	                               \---(error)----> failed
//	failed --(explicit retry, retry_count < max)--> retrying
//	retrying --(picked)--> downloading --> ...
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobRetrying    JobStatus = "retrying"
)

// Active reports whether the status counts against the one-active-job-per-URL
// invariant.
func (s JobStatus) Active() bool {
	switch s {
	case JobPending, JobDownloading, JobRetrying:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job has finished (completed, or failed and
// not re-armed).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// DownloadJob is the persisted unit of work for the orchestrator. The
// candidate item travels with the job as serialized JSON so retrieval does
// not depend on discovery state still being present.
//
// The partial unique index on VideoURL is what actually enforces the
// at-most-one-active-job invariant; the pre-insert lookup in CreateJob only
// provides the friendly "already exists" answer.
type DownloadJob struct {
	ID            string    `gorm:"primaryKey;size:36"`
	VideoURL      string    `gorm:"size:300;not null;index:idx_job_active_url,unique,where:status IN ('pending'\\,'downloading'\\,'retrying')"`
	Title         string    `gorm:"size:1000"`
	Channel       string    `gorm:"size:1000"`
	Status        JobStatus `gorm:"size:20;index"`
	Priority      int       `gorm:"index"`
	CreatedAt     time.Time `gorm:"index"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string
	RetryCount    int
	MaxRetries    int
	CandidateJSON []byte
}

// Candidate deserializes the embedded candidate item.
func (j *DownloadJob) Candidate() (vodkeeper.CandidateItem, error) {
	var item vodkeeper.CandidateItem
	if len(j.CandidateJSON) == 0 {
		return item, nil
	}
	err := json.Unmarshal(j.CandidateJSON, &item)
	return item, err
}

// PathMissing is the sentinel meaning "no file on disk" for Video path
// columns.
const PathMissing = "NA"

// Video is the durable record of a processed item, consumed by the
// presentation layer.
type Video struct {
	ID              int64  `gorm:"primaryKey"`
	URL             string `gorm:"column:vid_url;size:300;uniqueIndex"`
	Path            string `gorm:"column:vid_path;size:255"`
	ThumbURL        string `gorm:"size:1000"`
	ThumbPath       string `gorm:"size:1000"`
	PubDate         int64  `gorm:"index"`
	PubDateHuman    string `gorm:"size:1000"`
	Title           string `gorm:"size:1000"`
	Views           int
	Rating          float64
	Description     string `gorm:"type:text"`
	Channel         string `gorm:"size:1000"`
	Short           bool   `gorm:"index:idx_filter_conditions"`
	Livestream      bool
	Keep            bool
	ProgressSeconds int
	InsertedAt      int64
	DownloadedAt    *int64 `gorm:"index"`
	Size            *int
}

// HasMedia reports whether the record claims a media file on disk.
func (v *Video) HasMedia() bool {
	return v.Path != "" && v.Path != PathMissing
}
