package report

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

var buckets = struct {
	Errors   []byte
	Recovery []byte
}{
	Errors:   []byte("errors"),
	Recovery: []byte("recovery"),
}

const (
	// The journal is bounded; oldest entries are trimmed past these counts.
	maxErrorRecords    = 1000
	maxRecoveryRecords = 500
)

// SystemSnapshot captures host and download state at the moment an error
// was reported.
type SystemSnapshot struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	DiskPercent       float64 `json:"disk_percent"`
	Overloaded        bool    `json:"overloaded"`
	RecentSuccessRate float64 `json:"recent_success_rate"`
	TotalAttempts     int     `json:"total_attempts"`
}

// ErrorRecord is one journal entry for a reported failure.
type ErrorRecord struct {
	Timestamp  time.Time               `json:"timestamp"`
	Type       string                  `json:"error_type"`
	Message    string                  `json:"error_message"`
	Category   vodkeeper.ErrorCategory `json:"category"`
	VideoURL   string                  `json:"video_url,omitempty"`
	VideoTitle string                  `json:"video_title,omitempty"`
	Channel    string                  `json:"channel,omitempty"`
	System     SystemSnapshot          `json:"system"`
	Context    map[string]string       `json:"context,omitempty"`
}

// RecoveryRecord is one audit entry for a recovery action taken.
type RecoveryRecord struct {
	Timestamp   time.Time         `json:"timestamp"`
	Action      string            `json:"action_type"`
	Description string            `json:"description"`
	Success     bool              `json:"success"`
	Details     map[string]string `json:"details,omitempty"`
}

// Reporter persists a bounded journal of errors and recovery actions, and
// derives summaries and health reports from it. Journal write failures are
// logged and swallowed: reporting must never be the reason a job fails.
type Reporter struct {
	db  *bbolt.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// Open creates or opens the journal database at path.
func Open(path string) (*Reporter, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(buckets.Errors); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(buckets.Recovery); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reporter{
		db:  db,
		log: zap.S().Named("reporter"),
		now: time.Now,
	}, nil
}

func (r *Reporter) Close() error {
	return r.db.Close()
}

// ReportError journals a failure, deriving the category from the message
// when the caller did not set one.
func (r *Reporter) ReportError(rec ErrorRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if rec.Category == "" {
		rec.Category = vodkeeper.CategorizeError(rec.Message)
	}
	if err := r.append(buckets.Errors, rec, maxErrorRecords); err != nil {
		r.log.Errorw("failed to journal error", "error", err, "message", rec.Message)
	}
	r.log.Warnw("error reported",
		"type", rec.Type, "category", rec.Category, "url", rec.VideoURL, "message", rec.Message)
}

// ReportRecovery journals a recovery action for audit.
func (r *Reporter) ReportRecovery(rec RecoveryRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	if err := r.append(buckets.Recovery, rec, maxRecoveryRecords); err != nil {
		r.log.Errorw("failed to journal recovery action", "error", err, "action", rec.Action)
	}
}

// Errors returns all journaled errors with a timestamp at or after since,
// oldest first.
func (r *Reporter) Errors(since time.Time) ([]ErrorRecord, error) {
	var records []ErrorRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Errors).ForEach(func(k, v []byte) error {
			var rec ErrorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Timestamp.Before(since) {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecoveryActions returns all journaled recovery actions with a timestamp
// at or after since, oldest first.
func (r *Reporter) RecoveryActions(since time.Time) ([]RecoveryRecord, error) {
	var records []RecoveryRecord
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(buckets.Recovery).ForEach(func(k, v []byte) error {
			var rec RecoveryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !rec.Timestamp.Before(since) {
				records = append(records, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CleanupOlderThan drops journal entries older than age from both buckets
// and returns how many were removed.
func (r *Reporter) CleanupOlderThan(age time.Duration) (int, error) {
	cutoff := r.now().Add(-age)
	removed := 0
	err := r.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{buckets.Errors, buckets.Recovery} {
			c := tx.Bucket(name).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var stamp struct {
					Timestamp time.Time `json:"timestamp"`
				}
				if err := json.Unmarshal(v, &stamp); err != nil {
					continue
				}
				if stamp.Timestamp.Before(cutoff) {
					if err := c.Delete(); err != nil {
						return err
					}
					removed++
				}
			}
		}
		return nil
	})
	return removed, err
}

// append writes a record under the bucket's next sequence number and trims
// the oldest entries past max. Sequence keys are big-endian so cursor order
// is insertion order.
func (r *Reporter) append(bucket []byte, rec interface{}, max int) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}
		count := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for k, _ := c.First(); k != nil && count > max; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}
