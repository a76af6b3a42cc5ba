package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

// Subscription is one feed the poller watches.
type Subscription struct {
	Name    string `json:"name"`
	FeedURL string `json:"feed_url"`
}

// LoadSubscriptions reads the subscription list from a JSON file.
func LoadSubscriptions(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	var subs []Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse subscriptions: %w", err)
	}
	return subs, nil
}

// Discoverer turns a feed into candidate items.
type Discoverer struct {
	parser *gofeed.Parser
	log    *zap.SugaredLogger
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		parser: gofeed.NewParser(),
		log:    zap.S().Named("feeds"),
	}
}

// Fetch parses the subscription's feed and maps its entries to candidates.
// Entries without a link are skipped.
func (d *Discoverer) Fetch(ctx context.Context, sub Subscription) ([]vodkeeper.CandidateItem, error) {
	feed, err := d.parser.ParseURLWithContext(sub.FeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", sub.Name, err)
	}

	channel := sub.Name
	if channel == "" {
		channel = feed.Title
	}

	items := make([]vodkeeper.CandidateItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry.Link == "" {
			continue
		}
		item := vodkeeper.CandidateItem{
			URL:         entry.Link,
			Title:       entry.Title,
			Channel:     channel,
			Description: entry.Description,
		}
		if entry.PublishedParsed != nil {
			item.Published = entry.PublishedParsed.Unix()
			item.HumanDate = entry.PublishedParsed.Format(time.RFC1123)
		}
		if entry.Image != nil {
			item.ThumbnailURL = entry.Image.URL
		}
		applyMediaExtensions(&item, entry)
		items = append(items, item)
	}
	d.log.Debugw("feed fetched", "name", sub.Name, "items", len(items))
	return items, nil
}

// applyMediaExtensions pulls thumbnail, view count, and rating out of the
// media:group extension YouTube feeds carry.
func applyMediaExtensions(item *vodkeeper.CandidateItem, entry *gofeed.Item) {
	media, ok := entry.Extensions["media"]
	if !ok {
		return
	}
	for _, group := range media["group"] {
		if thumbs, ok := group.Children["thumbnail"]; ok && len(thumbs) > 0 && item.ThumbnailURL == "" {
			item.ThumbnailURL = thumbs[0].Attrs["url"]
		}
		if desc, ok := group.Children["description"]; ok && len(desc) > 0 && item.Description == "" {
			item.Description = desc[0].Value
		}
		for _, community := range group.Children["community"] {
			if stats, ok := community.Children["statistics"]; ok && len(stats) > 0 {
				if views, err := strconv.Atoi(stats[0].Attrs["views"]); err == nil {
					item.Views = views
				}
			}
			if ratings, ok := community.Children["starRating"]; ok && len(ratings) > 0 {
				if rating, err := strconv.ParseFloat(ratings[0].Attrs["average"], 64); err == nil {
					item.Rating = rating
				}
			}
		}
	}
}
