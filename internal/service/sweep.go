package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/store"
)

// livestreamSweepLimit bounds how many backlog rows one sweep enqueues.
const livestreamSweepLimit = 20

// Sweeper enqueues follow-up work discovered in the video table: livestream
// placeholders whose broadcast has likely ended, and explicit re-downloads.
type Sweeper struct {
	cfg   vodkeeper.Config
	store *store.Store
	log   *zap.SugaredLogger
}

func NewSweeper(cfg vodkeeper.Config, st *store.Store) *Sweeper {
	return &Sweeper{cfg: cfg, store: st, log: zap.S().Named("sweeper")}
}

// SweepLivestreams enqueues download jobs for livestream rows still missing
// media. Rows with an active job are skipped quietly.
func (s *Sweeper) SweepLivestreams() (int, error) {
	backlog, err := s.store.LivestreamBacklog(livestreamSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list livestream backlog: %w", err)
	}
	enqueued := 0
	for i := range backlog {
		video := &backlog[i]
		_, err := s.store.CreateJob(candidateFromVideo(video), 0, s.cfg.MaxJobRetries)
		if errors.Is(err, store.ErrJobExists) {
			continue
		}
		if err != nil {
			s.log.Warnw("failed to enqueue livestream", "url", video.URL, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Infow("livestream backlog swept", "enqueued", enqueued)
	}
	return enqueued, nil
}

// DownloadAndKeep pins the record for url and enqueues a high-priority
// re-download of its media.
func (s *Sweeper) DownloadAndKeep(url string) error {
	video, err := s.store.VideoByURL(url)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("no record for %s", url)
	}
	if err := s.store.SetKeep(video.ID, true); err != nil {
		return err
	}
	if video.HasMedia() {
		return nil
	}
	_, err = s.store.CreateJob(candidateFromVideo(video), 10, s.cfg.MaxJobRetries)
	if errors.Is(err, store.ErrJobExists) {
		return nil
	}
	return err
}

// Unkeep releases the pin so the expiry janitor may collect the record
// again.
func (s *Sweeper) Unkeep(url string) error {
	video, err := s.store.VideoByURL(url)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("no record for %s", url)
	}
	return s.store.SetKeep(video.ID, false)
}

func candidateFromVideo(video *store.Video) vodkeeper.CandidateItem {
	return vodkeeper.CandidateItem{
		URL:          video.URL,
		Title:        video.Title,
		Channel:      video.Channel,
		ThumbnailURL: video.ThumbURL,
		Published:    video.PubDate,
		HumanDate:    video.PubDateHuman,
		Description:  video.Description,
		Rating:       video.Rating,
		Views:        video.Views,
	}
}
