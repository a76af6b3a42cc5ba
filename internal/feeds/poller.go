package feeds

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/store"
)

// Poller runs the discovery cycle: fetch each subscription, refresh
// counters for already-archived items, enqueue the rest.
type Poller struct {
	cfg        vodkeeper.Config
	store      *store.Store
	discoverer *Discoverer
	subs       []Subscription
	log        *zap.SugaredLogger
}

func NewPoller(cfg vodkeeper.Config, st *store.Store, discoverer *Discoverer, subs []Subscription) *Poller {
	return &Poller{
		cfg:        cfg,
		store:      st,
		discoverer: discoverer,
		subs:       subs,
		log:        zap.S().Named("poller"),
	}
}

// Poll walks every subscription once. Per-feed failures are aggregated so
// one broken feed does not starve the others.
func (p *Poller) Poll(ctx context.Context) error {
	var result *multierror.Error
	for _, sub := range p.subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := p.discoverer.Fetch(ctx, sub)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		enqueued, refreshed := p.ingest(items)
		p.log.Infow("subscription polled",
			"name", sub.Name, "items", len(items), "enqueued", enqueued, "refreshed", refreshed)
	}
	return result.ErrorOrNil()
}

// ingest routes each candidate: stale items are skipped, archived items get
// their counters refreshed, new items become download jobs.
func (p *Poller) ingest(items []vodkeeper.CandidateItem) (enqueued, refreshed int) {
	now := time.Now()
	for _, item := range items {
		if !item.EligibleAt(now, p.cfg.EligibilityWindow) {
			continue
		}

		video, err := p.store.VideoByURL(item.URL)
		if err != nil {
			p.log.Warnw("lookup failed", "url", item.URL, "error", err)
			continue
		}
		if video != nil {
			if item.Views > 0 {
				if err := p.store.UpdateViewCount(item.URL, item.Views, item.Rating); err != nil {
					p.log.Warnw("view count refresh failed", "url", item.URL, "error", err)
					continue
				}
			}
			refreshed++
			continue
		}

		_, err = p.store.CreateJob(item, 0, p.cfg.MaxJobRetries)
		if errors.Is(err, store.ErrJobExists) {
			continue
		}
		if err != nil {
			p.log.Warnw("enqueue failed", "url", item.URL, "error", err)
			continue
		}
		enqueued++
	}
	return enqueued, refreshed
}
