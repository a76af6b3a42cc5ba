package media

import (
	"context"
	"time"
)

// Info is the metadata extracted for an item before any media is fetched.
type Info struct {
	ID       string
	Title    string
	Channel  string
	IsLive   bool
	Duration time.Duration
}

// Class is the item type driving the retrieval path.
type Class int

const (
	ClassRegular Class = iota
	ClassShort
	ClassLivestream
	ClassPremiere
)

func (c Class) String() string {
	switch c {
	case ClassRegular:
		return "regular"
	case ClassShort:
		return "short"
	case ClassLivestream:
		return "livestream"
	case ClassPremiere:
		return "premiere"
	default:
		return "unknown"
	}
}

// Classify maps extracted metadata to a retrieval class. A nil info means
// the item is a scheduled premiere with nothing to fetch yet.
func Classify(info *Info, shortMax time.Duration) Class {
	switch {
	case info == nil:
		return ClassPremiere
	case info.IsLive:
		return ClassLivestream
	case info.Duration > 0 && info.Duration < shortMax:
		return ClassShort
	default:
		return ClassRegular
	}
}

// Extractor resolves an item URL into metadata. A (nil, nil) return means
// the item exists but has no playable media yet (scheduled premiere).
type Extractor interface {
	Extract(ctx context.Context, url string) (*Info, error)
}

// Fetcher downloads the media for an item URL to dest, returning the number
// of bytes written.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest, userAgent string) (int64, error)
}

// ThumbnailFetcher downloads a thumbnail image to dest.
type ThumbnailFetcher interface {
	FetchThumbnail(ctx context.Context, url, dest string) error
}

// Prober inspects a downloaded media file and returns its duration.
type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}
