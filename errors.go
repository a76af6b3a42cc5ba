package vodkeeper

import (
	"errors"
	"strings"
)

var (
	// ErrVideoUnavailable marks a permanently failed item (private, deleted,
	// removed); jobs hitting it must not be retried.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrRateLimited marks a fetch rejected by the remote host (HTTP 429 or
	// equivalent).
	ErrRateLimited = errors.New("rate limited")
	// ErrSystemOverloaded is returned when local resource checks refuse to
	// start a new fetch.
	ErrSystemOverloaded = errors.New("system overloaded")
	// ErrDiskSpaceLow is returned when free space is below the configured floor.
	ErrDiskSpaceLow = errors.New("insufficient disk space")
	// ErrExtractionFailed marks a metadata extraction failure that may be
	// transient.
	ErrExtractionFailed = errors.New("metadata extraction failed")
)

// ErrorCategory is the classification bucket an error lands in for
// journaling and aggregate reporting.
type ErrorCategory string

const (
	CategoryNetwork          ErrorCategory = "network"
	CategoryRateLimit        ErrorCategory = "rate_limit"
	CategoryUnavailable      ErrorCategory = "video_unavailable"
	CategoryDownloadFailed   ErrorCategory = "download_failed"
	CategoryDiskSpace        ErrorCategory = "disk_space"
	CategoryPermission       ErrorCategory = "permission"
	CategoryOverload         ErrorCategory = "system_overload"
	CategoryExtractionFailed ErrorCategory = "extraction_failed"
	CategoryVerification     ErrorCategory = "file_verification_failed"
	CategoryDatabase         ErrorCategory = "database_error"
	CategoryUnexpected       ErrorCategory = "unexpected"
)

// categoryKeywords maps each category to the lowercase substrings that
// identify it. Order matters: the first category with a matching keyword
// wins, so the more specific buckets come first.
var categoryKeywords = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryRateLimit, []string{"429", "too many requests", "rate limit", "quota"}},
	{CategoryUnavailable, []string{"private", "deleted", "removed", "unavailable", "not found"}},
	{CategoryDiskSpace, []string{"no space", "disk full", "insufficient space", "insufficient disk"}},
	{CategoryPermission, []string{"permission denied", "access denied", "forbidden"}},
	{CategoryOverload, []string{"overload", "memory", "cpu", "resource"}},
	{CategoryVerification, []string{"verify", "verification", "missing output file"}},
	{CategoryExtractionFailed, []string{"extract", "extractor"}},
	{CategoryDownloadFailed, []string{"format", "codec", "corrupted", "download failed"}},
	{CategoryDatabase, []string{"database", "sqlite", "constraint", "transaction"}},
	{CategoryNetwork, []string{"connection", "timeout", "dns", "ssl", "certificate", "unreachable", "reset by peer", "eof"}},
}

// CategorizeError classifies an error message by keyword. Unknown messages
// land in CategoryUnexpected.
func CategorizeError(msg string) ErrorCategory {
	lower := strings.ToLower(msg)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.category
			}
		}
	}
	return CategoryUnexpected
}

// Permanent reports whether the category must never be retried.
func (c ErrorCategory) Permanent() bool {
	return c == CategoryUnavailable
}
