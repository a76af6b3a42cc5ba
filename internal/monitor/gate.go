package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Gate combines the resource monitor, rate limiter, and download monitor
// into the single "may I start a fetch right now" predicate the retrieval
// pipeline consults.
type Gate struct {
	Resources *ResourceMonitor
	Limiter   *RateLimiter
	Downloads *DownloadMonitor

	// MaxWait bounds WaitUntilSafe; PollInterval is how often it re-checks.
	MaxWait      time.Duration
	PollInterval time.Duration

	// FailureRateFloor blocks new fetches when the recent success rate drops
	// below it and there is enough history to trust the signal.
	FailureRateFloor float64
	MinSamples       int

	log *zap.SugaredLogger
}

func NewGate(resources *ResourceMonitor, limiter *RateLimiter, downloads *DownloadMonitor) *Gate {
	return &Gate{
		Resources:        resources,
		Limiter:          limiter,
		Downloads:        downloads,
		MaxWait:          5 * time.Minute,
		PollInterval:     10 * time.Second,
		FailureRateFloor: 50,
		MinSamples:       10,
		log:              zap.S().Named("gate"),
	}
}

// CanDownload reports whether a fetch may start, with a reason when not.
func (g *Gate) CanDownload() (bool, string) {
	if g.Resources.IsOverloaded() {
		return false, "system overloaded"
	}
	if !g.Limiter.CanRequest() {
		return false, "rate limited"
	}
	if g.Downloads.TotalAttempts() > g.MinSamples &&
		g.Downloads.RecentSuccessRate(time.Hour) < g.FailureRateFloor {
		return false, "recent failure rate too high"
	}
	return true, ""
}

// WaitUntilSafe polls CanDownload until it passes, the bounded ceiling
// elapses, or ctx is cancelled. Returns the last blocking reason when it
// gives up.
func (g *Gate) WaitUntilSafe(ctx context.Context) (bool, string) {
	ok, reason := g.CanDownload()
	if ok {
		return true, ""
	}
	g.log.Infow("waiting for safe conditions", "reason", reason)

	deadline := time.NewTimer(g.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(g.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, reason
		case <-deadline.C:
			return false, reason
		case <-ticker.C:
			if ok, reason = g.CanDownload(); ok {
				return true, ""
			}
		}
	}
}
