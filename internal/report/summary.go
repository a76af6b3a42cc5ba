package report

import (
	"sort"
	"time"

	"github.com/vodkeeper/vodkeeper"

	"github.com/vodkeeper/vodkeeper/internal/monitor"
)

// MessageCount is one entry in the most-common-errors ranking.
type MessageCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ChannelErrors aggregates failures for one source channel.
type ChannelErrors struct {
	ErrorCount int                             `json:"error_count"`
	ByCategory map[vodkeeper.ErrorCategory]int `json:"by_category"`
}

// Summary aggregates the journaled errors of a trailing window.
type Summary struct {
	Window           time.Duration                   `json:"window"`
	TotalErrors      int                             `json:"total_errors"`
	ByCategory       map[vodkeeper.ErrorCategory]int `json:"errors_by_category"`
	ByType           map[string]int                  `json:"errors_by_type"`
	MostCommon       []MessageCount                  `json:"most_common_errors"`
	AffectedChannels map[string]ChannelErrors        `json:"affected_channels"`
	Recommendations  []string                        `json:"recommendations"`
	GeneratedAt      time.Time                       `json:"generated_at"`
}

const (
	mostCommonLimit  = 10
	messageTruncSize = 200
)

// Summary aggregates the errors journaled within the trailing window.
func (r *Reporter) Summary(window time.Duration) (Summary, error) {
	records, err := r.Errors(r.now().Add(-window))
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Window:           window,
		TotalErrors:      len(records),
		ByCategory:       make(map[vodkeeper.ErrorCategory]int),
		ByType:           make(map[string]int),
		AffectedChannels: make(map[string]ChannelErrors),
		GeneratedAt:      r.now(),
	}

	messageCounts := make(map[string]int)
	for _, rec := range records {
		summary.ByCategory[rec.Category]++
		summary.ByType[rec.Type]++

		msg := rec.Message
		if len(msg) > messageTruncSize {
			msg = msg[:messageTruncSize]
		}
		messageCounts[msg]++

		if rec.Channel != "" {
			ch := summary.AffectedChannels[rec.Channel]
			if ch.ByCategory == nil {
				ch.ByCategory = make(map[vodkeeper.ErrorCategory]int)
			}
			ch.ErrorCount++
			ch.ByCategory[rec.Category]++
			summary.AffectedChannels[rec.Channel] = ch
		}
	}

	for msg, count := range messageCounts {
		summary.MostCommon = append(summary.MostCommon, MessageCount{Message: msg, Count: count})
	}
	sort.Slice(summary.MostCommon, func(i, j int) bool {
		if summary.MostCommon[i].Count != summary.MostCommon[j].Count {
			return summary.MostCommon[i].Count > summary.MostCommon[j].Count
		}
		return summary.MostCommon[i].Message < summary.MostCommon[j].Message
	})
	if len(summary.MostCommon) > mostCommonLimit {
		summary.MostCommon = summary.MostCommon[:mostCommonLimit]
	}

	summary.Recommendations = recommendations(summary)
	return summary, nil
}

// recommendations derives advice from category proportions.
func recommendations(s Summary) []string {
	var recs []string
	total := s.TotalErrors
	if total > 0 {
		if float64(s.ByCategory[vodkeeper.CategoryNetwork]) > float64(total)*0.3 {
			recs = append(recs, "High network error rate. Check internet connection stability.")
		}
		if float64(s.ByCategory[vodkeeper.CategoryRateLimit]) > float64(total)*0.1 {
			recs = append(recs, "Rate limiting detected. Reduce download frequency or request rate.")
		}
		if s.ByCategory[vodkeeper.CategoryDiskSpace] > 0 {
			recs = append(recs, "Disk space issues detected. Clean up old media or increase storage.")
		}
		if float64(s.ByCategory[vodkeeper.CategoryOverload]) > float64(total)*0.1 {
			recs = append(recs, "System overload detected. Reduce concurrent downloads.")
		}
		if float64(s.ByCategory[vodkeeper.CategoryExtractionFailed]) > float64(total)*0.2 {
			recs = append(recs, "Frequent extraction failures. The remote site layout may have changed.")
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "No specific issues detected. Monitor for patterns over time.")
	}
	return recs
}

// HealthReport combines an error summary with a live system snapshot and a
// 0-100 score.
type HealthReport struct {
	Summary     Summary              `json:"error_summary"`
	System      monitor.SystemStatus `json:"system_status"`
	Downloads   monitor.Stats        `json:"download_stats"`
	HealthScore float64              `json:"health_score"`
}

// Health produces a full health report over the trailing window.
func (r *Reporter) Health(window time.Duration, system monitor.SystemStatus, downloads monitor.Stats) (HealthReport, error) {
	summary, err := r.Summary(window)
	if err != nil {
		return HealthReport{}, err
	}
	return HealthReport{
		Summary:     summary,
		System:      system,
		Downloads:   downloads,
		HealthScore: healthScore(summary.TotalErrors, system, downloads),
	}, nil
}

// healthScore starts at 100 and subtracts penalties for error volume, low
// success rate, and resource pressure.
func healthScore(totalErrors int, system monitor.SystemStatus, downloads monitor.Stats) float64 {
	score := 100.0

	if penalty := float64(totalErrors) * 2; penalty > 30 {
		score -= 30
	} else {
		score -= penalty
	}

	completed := downloads.TotalSuccesses + downloads.TotalFailures
	if completed > 0 && downloads.SuccessRate < 90 {
		score -= (90 - downloads.SuccessRate) * 0.5
	}

	if system.Overloaded {
		score -= 20
	}
	if system.CPUPercent > 80 {
		score -= (system.CPUPercent - 80) * 0.5
	}
	if system.Memory.UsedPercent > 80 {
		score -= (system.Memory.UsedPercent - 80) * 0.5
	}
	if system.Disk.UsedPercent > 90 {
		score -= (system.Disk.UsedPercent - 90) * 2
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
