package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/media"
	"github.com/vodkeeper/vodkeeper/internal/monitor"
	"github.com/vodkeeper/vodkeeper/internal/report"
	"github.com/vodkeeper/vodkeeper/internal/store"
	"github.com/vodkeeper/vodkeeper/util"
)

// Disposition is how a job run ended.
type Disposition int

const (
	// Completed: media fetched and the record upserted.
	Completed Disposition = iota
	// CompletedDuplicate: a record with media already existed, nothing fetched.
	CompletedDuplicate
	// PlaceholderCreated: livestream/premiere, metadata-only record written.
	PlaceholderCreated
	// Failed: job marked failed with its error message.
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Completed:
		return "completed"
	case CompletedDuplicate:
		return "duplicate"
	case PlaceholderCreated:
		return "placeholder"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pipeline runs one download job end to end: gate checks, metadata
// extraction, classification, media fetch with retry, thumbnail, probe,
// and the record upsert. All collaborators are injected.
type Pipeline struct {
	Config    vodkeeper.Config
	Store     *store.Store
	Gate      *monitor.Gate
	Limiter   *monitor.RateLimiter
	Downloads *monitor.DownloadMonitor
	Resources *monitor.ResourceMonitor
	Reporter  *report.Reporter
	Extractor media.Extractor
	Fetcher   media.Fetcher
	Thumbs    media.ThumbnailFetcher
	Prober    media.Prober

	log *zap.SugaredLogger
}

func NewPipeline(cfg vodkeeper.Config, st *store.Store, gate *monitor.Gate,
	reporter *report.Reporter, extractor media.Extractor, fetcher media.Fetcher,
	thumbs media.ThumbnailFetcher, prober media.Prober) *Pipeline {
	return &Pipeline{
		Config:    cfg,
		Store:     st,
		Gate:      gate,
		Limiter:   gate.Limiter,
		Downloads: gate.Downloads,
		Resources: gate.Resources,
		Reporter:  reporter,
		Extractor: extractor,
		Fetcher:   fetcher,
		Thumbs:    thumbs,
		Prober:    prober,
		log:       zap.S().Named("pipeline"),
	}
}

// Process runs the job. It always leaves the job in a terminal state and
// returns how the run ended; the error carries detail for logging only.
func (p *Pipeline) Process(ctx context.Context, job *store.DownloadJob) (Disposition, error) {
	if err := p.Store.MarkJobDownloading(job.ID); err != nil {
		return Failed, err
	}

	item, err := job.Candidate()
	if err != nil {
		return p.fail(job, "", fmt.Errorf("bad candidate payload: %w", err))
	}

	// Idempotent short-circuit: media already on disk for this URL.
	if existing, err := p.Store.VideoByURL(job.VideoURL); err != nil {
		return p.fail(job, "", err)
	} else if existing != nil && existing.HasMedia() {
		if err := p.Store.MarkJobCompleted(job.ID); err != nil {
			return Failed, err
		}
		p.log.Infow("media already present", "job_id", job.ID, "url", job.VideoURL)
		return CompletedDuplicate, nil
	}

	if ok, reason := p.Gate.WaitUntilSafe(ctx); !ok {
		return p.fail(job, "", fmt.Errorf("%w: %s", vodkeeper.ErrSystemOverloaded, reason))
	}
	if !p.Resources.HasDiskSpace() {
		return p.fail(job, "", vodkeeper.ErrDiskSpaceLow)
	}

	info, err := p.extract(ctx, job.VideoURL)
	if err != nil {
		return p.fail(job, "", err)
	}

	class := media.Classify(info, p.Config.ShortMaxDuration)
	p.log.Infow("classified item", "job_id", job.ID, "url", job.VideoURL, "class", class.String())

	if class == media.ClassLivestream || class == media.ClassPremiere {
		if err := p.writePlaceholder(item, info, class); err != nil {
			return p.fail(job, "", err)
		}
		if err := p.Store.MarkJobCompleted(job.ID); err != nil {
			return Failed, err
		}
		return PlaceholderCreated, nil
	}

	filename, err := util.MediaFilename(job.VideoURL)
	if err != nil {
		return p.fail(job, "", err)
	}
	dest := p.Config.Paths.VideoPath(filename)

	bytes, err := p.fetchMedia(ctx, job.VideoURL, dest)
	if err != nil {
		return p.fail(job, filename, err)
	}

	thumbPath := p.fetchThumbnail(ctx, item.ThumbnailURL, job.VideoURL)
	duration := p.probeDuration(ctx, dest)

	if err := p.upsertRecord(item, info, class, filename, thumbPath, duration); err != nil {
		// A record failure after a successful fetch must not leave orphan
		// files claiming disk space.
		p.cleanupFiles(filename)
		return p.fail(job, "", fmt.Errorf("database error: %w", err))
	}

	p.Downloads.RecordSuccess(job.VideoURL, float64(bytes)/(1024*1024))
	if err := p.Store.MarkJobCompleted(job.ID); err != nil {
		return Failed, err
	}
	p.log.Infow("job completed", "job_id", job.ID, "url", job.VideoURL, "bytes", bytes)
	return Completed, nil
}

// extract resolves metadata with its own bounded retry, distinct from
// job-level retries. Permanent failures abort immediately.
func (p *Pipeline) extract(ctx context.Context, url string) (*media.Info, error) {
	var lastErr error
	for attempt := 0; attempt < p.Config.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, p.backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}
		extractCtx, cancel := context.WithTimeout(ctx, p.Config.Timeouts.Extraction)
		info, err := p.Extractor.Extract(extractCtx, url)
		cancel()
		if err == nil {
			return info, nil
		}
		if errors.Is(err, vodkeeper.ErrVideoUnavailable) || p.Config.IsPermanentError(err.Error()) {
			return nil, err
		}
		lastErr = err
		p.log.Warnw("extraction attempt failed", "url", url, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", vodkeeper.ErrExtractionFailed, lastErr)
}

// fetchMedia downloads the media with the inner retry policy: rotate user
// agents, register every attempt with the rate limiter, stop immediately
// on permanent errors, wait longer after rate-limit responses.
func (p *Pipeline) fetchMedia(ctx context.Context, url, dest string) (int64, error) {
	p.Downloads.RecordAttempt(url)
	agents := vodkeeper.UserAgents()

	var lastErr error
	for attempt := 0; attempt < p.Config.Retry.MaxAttempts; attempt++ {
		p.Limiter.RecordRequest()

		fetchCtx, cancel := context.WithTimeout(ctx, p.Config.Timeouts.Download)
		bytes, err := p.Fetcher.Fetch(fetchCtx, url, dest, agents[attempt%len(agents)])
		cancel()
		if err == nil {
			if err := p.verifyOutput(dest); err != nil {
				return 0, err
			}
			p.Limiter.RecordSuccess()
			return bytes, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, vodkeeper.ErrVideoUnavailable) || p.Config.IsPermanentError(err.Error()):
			p.Limiter.RecordFailure(false)
			return 0, err
		case errors.Is(err, vodkeeper.ErrRateLimited) || p.Config.IsRateLimitError(err.Error()):
			p.Limiter.RecordFailure(true)
			delay := p.Config.Retry.BaseDelay * time.Duration(p.Config.Retry.RateLimitDelayFactor)
			p.log.Warnw("rate limited during fetch", "url", url, "attempt", attempt+1, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return 0, err
			}
		default:
			p.Limiter.RecordFailure(false)
			p.log.Warnw("fetch attempt failed", "url", url, "attempt", attempt+1, "error", err)
			if attempt < p.Config.Retry.MaxAttempts-1 {
				if err := sleepCtx(ctx, p.backoffDelay(attempt+1)); err != nil {
					return 0, err
				}
			}
		}
	}
	return 0, fmt.Errorf("all download attempts failed: %w", lastErr)
}

// verifyOutput confirms the fetch produced a file at dest, adopting an
// extension-less leftover if the downloader dropped the suffix.
func (p *Pipeline) verifyOutput(dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	stem := util.StemOf(dest)
	if _, err := os.Stat(stem); err == nil {
		return os.Rename(stem, dest)
	}
	return fmt.Errorf("missing output file: %s", dest)
}

// fetchThumbnail tries a few times and gives up quietly: a missing
// thumbnail never fails the job.
func (p *Pipeline) fetchThumbnail(ctx context.Context, thumbURL, videoURL string) string {
	if thumbURL == "" || p.Thumbs == nil {
		return store.PathMissing
	}
	filename, err := util.ThumbnailFilename(videoURL)
	if err != nil {
		return store.PathMissing
	}
	dest := p.Config.Paths.ThumbnailPath(filename)
	for attempt := 0; attempt < p.Config.Retry.MaxAttempts; attempt++ {
		thumbCtx, cancel := context.WithTimeout(ctx, p.Config.Timeouts.Thumbnail)
		err := p.Thumbs.FetchThumbnail(thumbCtx, thumbURL, dest)
		cancel()
		if err == nil {
			return filename
		}
		p.log.Warnw("thumbnail attempt failed", "url", thumbURL, "attempt", attempt+1, "error", err)
		if sleepCtx(ctx, p.Config.Retry.BaseDelay) != nil {
			break
		}
	}
	return store.PathMissing
}

// probeDuration is best-effort; a probe failure leaves size unset.
func (p *Pipeline) probeDuration(ctx context.Context, path string) time.Duration {
	if p.Prober == nil {
		return 0
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.Config.Timeouts.Probe)
	defer cancel()
	duration, err := p.Prober.Duration(probeCtx, path)
	if err != nil {
		p.log.Warnw("probe failed", "path", path, "error", err)
		return 0
	}
	return duration
}

// writePlaceholder records a livestream/premiere with no media; the
// backlog sweep fetches it later.
func (p *Pipeline) writePlaceholder(item vodkeeper.CandidateItem, info *media.Info, class media.Class) error {
	existing, err := p.Store.VideoByURL(item.URL)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	title := item.Title
	if title == "" && info != nil {
		title = info.Title
	}
	return p.Store.InsertVideo(&store.Video{
		URL:          item.URL,
		ThumbURL:     item.ThumbnailURL,
		PubDate:      item.Published,
		PubDateHuman: item.HumanDate,
		Title:        title,
		Views:        item.Views,
		Rating:       item.Rating,
		Description:  item.Description,
		Channel:      item.Channel,
		Livestream:   true,
		InsertedAt:   time.Now().Unix(),
	})
}

// upsertRecord writes the downloaded state, updating a pre-existing row
// (livestream placeholder, expired record) in place.
func (p *Pipeline) upsertRecord(item vodkeeper.CandidateItem, info *media.Info, class media.Class,
	filename, thumbPath string, duration time.Duration) error {
	existing, err := p.Store.VideoByURL(item.URL)
	if err != nil {
		return err
	}

	size := int(duration / time.Second)
	now := time.Now().Unix()
	title := item.Title
	channel := item.Channel
	if info != nil {
		if title == "" {
			title = info.Title
		}
		if channel == "" {
			channel = info.Channel
		}
	}

	if existing != nil {
		return p.Store.UpdateDownloaded(item.URL, title, channel, store.DownloadedFields{
			Path:         filename,
			ThumbPath:    thumbPath,
			Size:         size,
			DownloadedAt: now,
		})
	}
	return p.Store.InsertVideo(&store.Video{
		URL:          item.URL,
		Path:         filename,
		ThumbURL:     item.ThumbnailURL,
		ThumbPath:    thumbPath,
		PubDate:      item.Published,
		PubDateHuman: item.HumanDate,
		Title:        title,
		Views:        item.Views,
		Rating:       item.Rating,
		Description:  item.Description,
		Channel:      channel,
		Short:        class == media.ClassShort,
		InsertedAt:   now,
		DownloadedAt: &now,
		Size:         &size,
	})
}

// fail classifies the error, journals it with a system snapshot, cleans up
// partial files, and marks the job failed.
func (p *Pipeline) fail(job *store.DownloadJob, filename string, cause error) (Disposition, error) {
	msg := cause.Error()
	p.log.Errorw("job failed", "job_id", job.ID, "url", job.VideoURL, "error", msg)

	if filename != "" {
		p.cleanupFiles(filename)
		p.Downloads.RecordFailure(job.VideoURL, msg)
	}

	p.Reporter.ReportError(report.ErrorRecord{
		Type:       "download_error",
		Message:    msg,
		Category:   vodkeeper.CategorizeError(msg),
		VideoURL:   job.VideoURL,
		VideoTitle: job.Title,
		Channel:    job.Channel,
		System:     p.snapshot(),
	})

	if err := p.Store.MarkJobFailed(job.ID, msg); err != nil {
		p.log.Errorw("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	return Failed, cause
}

// cleanupFiles removes everything a partial run may have written for the
// job's derived filename.
func (p *Pipeline) cleanupFiles(filename string) {
	dest := p.Config.Paths.VideoPath(filename)
	for _, path := range []string{
		dest,
		dest + ".part",
		util.StemOf(dest),
		p.Config.Paths.ThumbnailPath(util.StemOf(filename) + ".jpg"),
	} {
		if err := os.Remove(path); err == nil {
			p.log.Debugw("removed partial file", "path", path)
		}
	}
}

func (p *Pipeline) snapshot() report.SystemSnapshot {
	status := p.Resources.Status()
	stats := p.Downloads.StatsSummary()
	return report.SystemSnapshot{
		CPUPercent:        status.CPUPercent,
		MemoryPercent:     status.Memory.UsedPercent,
		DiskPercent:       status.Disk.UsedPercent,
		Overloaded:        status.Overloaded,
		RecentSuccessRate: stats.RecentSuccessRate,
		TotalAttempts:     stats.TotalAttempts,
	}
}

func (p *Pipeline) backoffDelay(attempt int) time.Duration {
	delay := p.Config.Retry.BaseDelay << uint(attempt-1)
	if delay > p.Config.Retry.MaxDelay {
		delay = p.Config.Retry.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
