package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/monitor"
	"github.com/vodkeeper/vodkeeper/internal/report"
	"github.com/vodkeeper/vodkeeper/internal/store"
)

const (
	// diskCleanupThreshold triggers the disk sweep independently of the
	// harder overload threshold.
	diskCleanupThreshold = 90.0
	// minSuccessRate below this, with enough samples, triggers a rate-limiter
	// reset.
	minSuccessRate = 50.0
	minRateSamples = 10
	// corruptedMinBytes: media files smaller than this are junk.
	corruptedMinBytes = 1024

	corruptionCheckInterval = time.Hour
	databaseCleanupInterval = 24 * time.Hour
	journalRetention        = 7 * 24 * time.Hour
	jobRetention            = 7 * 24 * time.Hour
	concurrencyCooldown     = 10 * time.Minute
)

// ConcurrencyController is the slice of the orchestrator the recovery
// manager needs for load shedding.
type ConcurrencyController interface {
	MaxConcurrent() int
	SetMaxConcurrent(n int)
}

// Manager runs the periodic self-healing sweep: it inspects shared state
// and executes the corrective actions whose conditions hold, journaling
// every action for audit.
type Manager struct {
	cfg       vodkeeper.Config
	store     *store.Store
	resources *monitor.ResourceMonitor
	limiter   *monitor.RateLimiter
	downloads *monitor.DownloadMonitor
	reporter  *report.Reporter
	control   ConcurrencyController
	log       *zap.SugaredLogger

	mu                  sync.Mutex
	lastCorruptionCheck time.Time
	lastDatabaseCleanup time.Time
	shedding            bool
}

func NewManager(cfg vodkeeper.Config, st *store.Store, resources *monitor.ResourceMonitor,
	limiter *monitor.RateLimiter, downloads *monitor.DownloadMonitor,
	reporter *report.Reporter, control ConcurrencyController) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		resources: resources,
		limiter:   limiter,
		downloads: downloads,
		reporter:  reporter,
		control:   control,
		log:       zap.S().Named("recovery"),
	}
}

// Sweep evaluates all recovery conditions and runs the matching actions.
// Action failures are aggregated, never short-circuited: one broken action
// must not starve the others.
func (m *Manager) Sweep() error {
	var result *multierror.Error

	if m.resources.DiskUsage().UsedPercent > diskCleanupThreshold {
		result = multierror.Append(result, m.runAction("disk_cleanup", m.diskCleanup))
	}
	if m.downloads.TotalAttempts() > minRateSamples &&
		m.downloads.RecentSuccessRate(time.Hour) < minSuccessRate {
		result = multierror.Append(result, m.runAction("rate_limit_reset", m.rateLimitRecovery))
	}
	if m.due(&m.lastCorruptionCheck, corruptionCheckInterval) {
		result = multierror.Append(result, m.runAction("corrupted_file_cleanup", m.corruptedFileCleanup))
	}
	if m.due(&m.lastDatabaseCleanup, databaseCleanupInterval) {
		result = multierror.Append(result, m.runAction("database_cleanup", m.databaseCleanup))
	}
	if m.resources.IsOverloaded() {
		result = multierror.Append(result, m.runAction("resource_recovery", m.resourceRecovery))
	}

	return result.ErrorOrNil()
}

// Emergency runs disk cleanup and load shedding unconditionally and resets
// the rate limiter to its most conservative ceiling. A manual escape
// hatch, not part of the periodic sweep.
func (m *Manager) Emergency() error {
	m.log.Warnw("emergency recovery triggered")
	var result *multierror.Error
	result = multierror.Append(result, m.runAction("emergency_disk_cleanup", m.diskCleanup))

	m.limiter.EmergencyReset()
	m.control.SetMaxConcurrent(1)
	m.reporter.ReportRecovery(report.RecoveryRecord{
		Action:      "emergency_load_shed",
		Description: "rate limiter reset to floor, concurrency reduced to 1",
		Success:     true,
	})
	return result.ErrorOrNil()
}

// runAction executes one named action and journals its outcome.
func (m *Manager) runAction(name string, action func() (string, error)) error {
	detail, err := action()
	m.reporter.ReportRecovery(report.RecoveryRecord{
		Action:      name,
		Description: detail,
		Success:     err == nil,
	})
	if err != nil {
		m.log.Errorw("recovery action failed", "action", name, "error", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	m.log.Infow("recovery action completed", "action", name, "detail", detail)
	return nil
}

// due reports whether the interval has elapsed since the stored timestamp,
// updating it when so.
func (m *Manager) due(last *time.Time, interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(*last) < interval {
		return false
	}
	*last = time.Now()
	return true
}

// diskCleanup expires old non-kept media, removes stray partial downloads,
// and trims the error journal.
func (m *Manager) diskCleanup() (string, error) {
	expired, err := m.ExpireOldVideos()
	if err != nil {
		return "", err
	}

	strays := 0
	entries, err := os.ReadDir(m.cfg.Paths.VideoDir())
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".temp") {
			if os.Remove(m.cfg.Paths.VideoPath(name)) == nil {
				strays++
			}
		}
	}

	trimmed, err := m.reporter.CleanupOlderThan(journalRetention)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("expired %d videos, removed %d partial files, trimmed %d journal entries",
		expired, strays, trimmed), nil
}

// ExpireOldVideos deletes media past the retention horizon (unless pinned)
// and resets the records' path fields. Also used directly by the expiry
// janitor task.
func (m *Manager) ExpireOldVideos() (int, error) {
	cutoff := time.Now().Add(-m.cfg.RetentionWindow).Unix()
	videos, err := m.store.ExpiredVideos(cutoff)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range videos {
		video := &videos[i]
		removeIfPresent(m.cfg.Paths.VideoPath(video.Path))
		if video.ThumbPath != "" && video.ThumbPath != store.PathMissing {
			removeIfPresent(m.cfg.Paths.ThumbnailPath(video.ThumbPath))
		}
		if err := m.store.ExpireVideo(video.ID); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		m.log.Infow("expired old videos", "count", expired)
	}
	return expired, nil
}

func (m *Manager) rateLimitRecovery() (string, error) {
	m.limiter.ForceBackoff()
	return fmt.Sprintf("rate limiter reset, ceiling now %d", m.limiter.MaxRequests()), nil
}

// corruptedFileCleanup removes implausibly small media files and marks
// their records missing.
func (m *Manager) corruptedFileCleanup() (string, error) {
	entries, err := os.ReadDir(m.cfg.Paths.VideoDir())
	if err != nil {
		return "", err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() >= corruptedMinBytes {
			continue
		}
		name := entry.Name()
		if err := os.Remove(m.cfg.Paths.VideoPath(name)); err != nil {
			continue
		}
		removed++
		if video, err := m.store.VideoByPath(name); err == nil && video != nil {
			if err := m.store.MarkVideoMissing(video.ID); err != nil {
				m.log.Warnw("failed to mark corrupted video missing", "id", video.ID, "error", err)
			}
		}
	}
	return fmt.Sprintf("removed %d corrupted files", removed), nil
}

// databaseCleanup reconciles records claiming files that are gone from
// disk, and garbage-collects old terminal jobs.
func (m *Manager) databaseCleanup() (string, error) {
	videos, err := m.store.VideosWithMedia()
	if err != nil {
		return "", err
	}
	repaired := 0
	for i := range videos {
		video := &videos[i]
		if _, err := os.Stat(m.cfg.Paths.VideoPath(video.Path)); err == nil {
			continue
		}
		if err := m.store.MarkVideoMissing(video.ID); err != nil {
			return "", err
		}
		repaired++
	}

	collected, err := m.store.DeleteJobsOlderThan(jobRetention)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("repaired %d drifted records, collected %d old jobs", repaired, collected), nil
}

// resourceRecovery halves the worker pool and restores it after a
// cooldown. Repeated overload during the cooldown does not stack.
func (m *Manager) resourceRecovery() (string, error) {
	m.mu.Lock()
	if m.shedding {
		m.mu.Unlock()
		return "load shed already in progress", nil
	}
	m.shedding = true
	m.mu.Unlock()

	original := m.control.MaxConcurrent()
	reduced := original / 2
	if reduced < 1 {
		reduced = 1
	}
	m.control.SetMaxConcurrent(reduced)

	time.AfterFunc(concurrencyCooldown, func() {
		m.control.SetMaxConcurrent(original)
		m.mu.Lock()
		m.shedding = false
		m.mu.Unlock()
		m.log.Infow("concurrency restored", "max_concurrent", original)
	})
	return fmt.Sprintf("concurrency reduced %d -> %d for %s", original, reduced, concurrencyCooldown), nil
}

func removeIfPresent(path string) {
	if filepath.Base(path) == store.PathMissing {
		return
	}
	_ = os.Remove(path)
}
