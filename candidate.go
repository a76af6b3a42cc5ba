package vodkeeper

import (
	"errors"
	"time"
)

var ErrInvalidCandidate = errors.New("candidate item missing URL")

// CandidateItem is one remote item discovered during a feed cycle. Identity
// is the URL. Candidates are ephemeral: a serialized copy travels with the
// download job so retrieval never depends on discovery state.
type CandidateItem struct {
	URL          string  `json:"url"`
	Title        string  `json:"title"`
	Channel      string  `json:"channel"`
	ThumbnailURL string  `json:"thumbnail_url"`
	Published    int64   `json:"published"`
	HumanDate    string  `json:"human_date"`
	Description  string  `json:"description"`
	Rating       float64 `json:"rating"`
	Views        int     `json:"views"`
}

// NewCandidateItem builds a candidate, rejecting items without a URL.
func NewCandidateItem(url, title, channel string) (CandidateItem, error) {
	if url == "" {
		return CandidateItem{}, ErrInvalidCandidate
	}
	return CandidateItem{URL: url, Title: title, Channel: channel}, nil
}

// PublishedAt converts the epoch publish timestamp.
func (c CandidateItem) PublishedAt() time.Time {
	return time.Unix(c.Published, 0)
}

// EligibleAt reports whether the item is still inside the enqueue window at
// the given instant.
func (c CandidateItem) EligibleAt(now time.Time, window time.Duration) bool {
	return c.PublishedAt().After(now.Add(-window))
}
