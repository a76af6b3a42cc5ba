package monitor

import (
	"sync"
	"time"
)

const attemptBufferSize = 100

type attemptStatus string

const (
	attemptStarted attemptStatus = "started"
	attemptSuccess attemptStatus = "success"
	attemptFailed  attemptStatus = "failed"
)

type attempt struct {
	URL       string
	StartedAt time.Time
	EndedAt   time.Time
	Status    attemptStatus
	SizeMB    float64
	Error     string
}

// Stats is the cumulative counter summary.
type Stats struct {
	TotalAttempts     int     `json:"total_attempts"`
	TotalSuccesses    int     `json:"total_successes"`
	TotalFailures     int     `json:"total_failures"`
	SuccessRate       float64 `json:"success_rate"`
	RecentSuccessRate float64 `json:"recent_success_rate"`
	TotalDownloadedMB float64 `json:"total_downloaded_mb"`
}

// DownloadMonitor records download attempts in a bounded ring buffer and
// keeps cumulative counters. Purely observational; nothing here gates
// anything directly.
type DownloadMonitor struct {
	mu       sync.Mutex
	attempts []attempt

	totalAttempts  int
	totalSuccesses int
	totalFailures  int
	totalMB        float64

	now func() time.Time
}

func NewDownloadMonitor() *DownloadMonitor {
	return &DownloadMonitor{now: time.Now}
}

// RecordAttempt notes that a download for url has started.
func (m *DownloadMonitor) RecordAttempt(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalAttempts++
	m.push(attempt{URL: url, StartedAt: m.now(), Status: attemptStarted})
}

// RecordSuccess flips the most recent started entry for url to success.
// Last-attempt-wins when the same URL was retried within the buffer window.
func (m *DownloadMonitor) RecordSuccess(url string, sizeMB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSuccesses++
	m.totalMB += sizeMB
	if a := m.findStarted(url); a != nil {
		a.Status = attemptSuccess
		a.EndedAt = m.now()
		a.SizeMB = sizeMB
	}
}

// RecordFailure flips the most recent started entry for url to failed.
func (m *DownloadMonitor) RecordFailure(url string, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFailures++
	if a := m.findStarted(url); a != nil {
		a.Status = attemptFailed
		a.EndedAt = m.now()
		a.Error = errMsg
	}
}

// SuccessRate is the lifetime success percentage, 0 with no completions.
func (m *DownloadMonitor) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successRateLocked()
}

func (m *DownloadMonitor) successRateLocked() float64 {
	completed := m.totalSuccesses + m.totalFailures
	if completed == 0 {
		return 0
	}
	return float64(m.totalSuccesses) / float64(completed) * 100
}

// RecentSuccessRate computes the success percentage over buffer entries
// that completed within the trailing window. An empty window yields 0, not
// an error.
func (m *DownloadMonitor) RecentSuccessRate(window time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentSuccessRateLocked(window)
}

func (m *DownloadMonitor) recentSuccessRateLocked(window time.Duration) float64 {
	cutoff := m.now().Add(-window)
	var total, successes int
	for i := range m.attempts {
		a := &m.attempts[i]
		if a.Status == attemptStarted || a.EndedAt.Before(cutoff) {
			continue
		}
		total++
		if a.Status == attemptSuccess {
			successes++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total) * 100
}

// TotalAttempts is the lifetime attempt counter.
func (m *DownloadMonitor) TotalAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalAttempts
}

// StatsSummary snapshots all counters, with the recent rate computed over
// the trailing hour.
func (m *DownloadMonitor) StatsSummary() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		TotalAttempts:     m.totalAttempts,
		TotalSuccesses:    m.totalSuccesses,
		TotalFailures:     m.totalFailures,
		SuccessRate:       m.successRateLocked(),
		RecentSuccessRate: m.recentSuccessRateLocked(time.Hour),
		TotalDownloadedMB: m.totalMB,
	}
}

func (m *DownloadMonitor) push(a attempt) {
	if len(m.attempts) >= attemptBufferSize {
		m.attempts = m.attempts[1:]
	}
	m.attempts = append(m.attempts, a)
}

// findStarted scans backwards for the most recent in-flight entry for url.
func (m *DownloadMonitor) findStarted(url string) *attempt {
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].URL == url && m.attempts[i].Status == attemptStarted {
			return &m.attempts[i]
		}
	}
	return nil
}
