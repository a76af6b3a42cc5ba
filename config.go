package vodkeeper

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls the inner per-fetch retry behaviour.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// RateLimitDelayFactor multiplies BaseDelay when an attempt failed with a
	// rate-limit response, instead of the usual doubling.
	RateLimitDelayFactor int
}

// RateLimitConfig seeds the adaptive rate limiter.
type RateLimitConfig struct {
	MaxRequestsPerMinute int
	TimeWindow           time.Duration
}

// SystemLimitsConfig is the resource envelope downloads must stay inside.
type SystemLimitsConfig struct {
	MaxCPUPercent          float64
	MaxMemoryPercent       float64
	MaxDiskPercent         float64
	MinFreeDiskGB          float64
	MaxConcurrentDownloads int
}

// TimeoutConfig bounds the external collaborator calls.
type TimeoutConfig struct {
	Extraction time.Duration
	Download   time.Duration
	Thumbnail  time.Duration
	Probe      time.Duration
}

// ErrorHandlingConfig holds the keyword vocabularies used to decide whether
// a failure is permanent or a rate-limit response.
type ErrorHandlingConfig struct {
	PermanentErrors []string
	RateLimitErrors []string
}

// PathsConfig locates everything the core writes to disk.
type PathsConfig struct {
	DataDir string
}

func (p PathsConfig) VideoDir() string     { return filepath.Join(p.DataDir, "videos") }
func (p PathsConfig) ThumbnailDir() string { return filepath.Join(p.DataDir, "thumbnails") }
func (p PathsConfig) JournalPath() string  { return filepath.Join(p.DataDir, "reports", "journal.db") }
func (p PathsConfig) DatabasePath() string { return filepath.Join(p.DataDir, "vodkeeper.sqlite3") }

func (p PathsConfig) VideoPath(name string) string {
	return filepath.Join(p.VideoDir(), name)
}

func (p PathsConfig) ThumbnailPath(name string) string {
	return filepath.Join(p.ThumbnailDir(), name)
}

// EnsureDirs creates the directory tree under DataDir.
func (p PathsConfig) EnsureDirs() error {
	for _, dir := range []string{p.VideoDir(), p.ThumbnailDir(), filepath.Dir(p.JournalPath())} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return err
		}
	}
	return nil
}

// Config is the full configuration tree for the archiving core. Construct
// with DefaultConfig, then optionally apply LoadEnv.
type Config struct {
	Retry         RetryConfig
	RateLimit     RateLimitConfig
	SystemLimits  SystemLimitsConfig
	Timeouts      TimeoutConfig
	ErrorHandling ErrorHandlingConfig
	Paths         PathsConfig

	// MaxJobRetries is the per-job retry ceiling (distinct from the inner
	// per-fetch attempt ceiling in Retry).
	MaxJobRetries int
	// EligibilityWindow: discovered items older than this are never enqueued.
	EligibilityWindow time.Duration
	// RetentionWindow: downloaded media older than this is expired unless kept.
	RetentionWindow time.Duration
	// ShortMaxDuration: items below this duration classify as shorts.
	ShortMaxDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:          3,
			BaseDelay:            2 * time.Second,
			MaxDelay:             5 * time.Minute,
			RateLimitDelayFactor: 10,
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute: 30,
			TimeWindow:           time.Minute,
		},
		SystemLimits: SystemLimitsConfig{
			MaxCPUPercent:          90,
			MaxMemoryPercent:       90,
			MaxDiskPercent:         95,
			MinFreeDiskGB:          5,
			MaxConcurrentDownloads: 3,
		},
		Timeouts: TimeoutConfig{
			Extraction: 30 * time.Second,
			Download:   30 * time.Minute,
			Thumbnail:  30 * time.Second,
			Probe:      30 * time.Second,
		},
		ErrorHandling: ErrorHandlingConfig{
			PermanentErrors: []string{
				"private video",
				"video unavailable",
				"this video has been removed",
				"this video is not available",
				"video not found",
				"deleted",
				"removed",
				"copyright",
				"suspended",
				"terminated",
			},
			RateLimitErrors: []string{
				"http error 429",
				"too many requests",
				"rate limit",
				"quota exceeded",
			},
		},
		Paths:             PathsConfig{DataDir: "data"},
		MaxJobRetries:     3,
		EligibilityWindow: 48 * time.Hour,
		RetentionWindow:   14 * 24 * time.Hour,
		ShortMaxDuration:  62 * time.Second,
	}
}

// LoadEnv applies environment-variable overrides on top of the current
// values. Unset or malformed variables leave the existing value alone.
func (c *Config) LoadEnv() {
	c.Retry.MaxAttempts = intEnv("MAX_RETRIES", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = durationEnv("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = durationEnv("RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.RateLimit.MaxRequestsPerMinute = intEnv("MAX_REQUESTS_PER_MINUTE", c.RateLimit.MaxRequestsPerMinute)
	c.SystemLimits.MaxCPUPercent = floatEnv("MAX_CPU_PERCENT", c.SystemLimits.MaxCPUPercent)
	c.SystemLimits.MaxMemoryPercent = floatEnv("MAX_MEMORY_PERCENT", c.SystemLimits.MaxMemoryPercent)
	c.SystemLimits.MinFreeDiskGB = floatEnv("MIN_FREE_DISK_GB", c.SystemLimits.MinFreeDiskGB)
	c.SystemLimits.MaxConcurrentDownloads = intEnv("MAX_CONCURRENT_DOWNLOADS", c.SystemLimits.MaxConcurrentDownloads)
	c.Timeouts.Download = durationEnv("DOWNLOAD_TIMEOUT", c.Timeouts.Download)
	c.MaxJobRetries = intEnv("MAX_JOB_RETRIES", c.MaxJobRetries)
	c.EligibilityWindow = durationEnv("ELIGIBILITY_WINDOW", c.EligibilityWindow)
	c.RetentionWindow = durationEnv("RETENTION_WINDOW", c.RetentionWindow)
	if dir := os.Getenv("DATA_FOLDER"); dir != "" {
		c.Paths.DataDir = dir
	}
}

// IsPermanentError reports whether the message matches the permanent-error
// vocabulary; such failures must not be retried.
func (c *Config) IsPermanentError(msg string) bool {
	return matchesAny(msg, c.ErrorHandling.PermanentErrors)
}

// IsRateLimitError reports whether the message looks like a rate-limit
// response from the remote host.
func (c *Config) IsRateLimitError(msg string) bool {
	return matchesAny(msg, c.ErrorHandling.RateLimitErrors)
}

func matchesAny(msg string, keywords []string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// UserAgents is the pool rotated across media-fetch attempts.
func UserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Android 14; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
		"Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	}
}

func intEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
