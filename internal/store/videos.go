package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// VideoByURL returns (nil, nil) if the error is only that no such row exists.
func (s *Store) VideoByURL(url string) (*Video, error) {
	var video Video
	err := s.db.First(&video, "vid_url = ?", url).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// VideoByID returns (nil, nil) if the error is only that no such row exists.
func (s *Store) VideoByID(id int64) (*Video, error) {
	var video Video
	err := s.db.First(&video, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// InsertVideo creates a new record, overwriting Video.ID with the new row ID.
func (s *Store) InsertVideo(video *Video) error {
	if video.Path == "" {
		video.Path = PathMissing
	}
	if err := s.db.Create(video).Error; err != nil {
		return fmt.Errorf("failed to insert video record: %w", err)
	}
	return nil
}

// DownloadedFields is what a completed media fetch writes back to a record.
type DownloadedFields struct {
	Path         string
	ThumbPath    string
	Size         int
	DownloadedAt int64
	Keep         bool
}

// UpdateDownloaded fills in the on-disk fields after a successful fetch,
// backfilling title/channel only if they were empty.
func (s *Store) UpdateDownloaded(url string, title, channel string, fields DownloadedFields) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var video Video
		if err := tx.First(&video, "vid_url = ?", url).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{
			"vid_path":      fields.Path,
			"thumb_path":    fields.ThumbPath,
			"size":          fields.Size,
			"downloaded_at": fields.DownloadedAt,
		}
		if fields.Keep {
			updates["keep"] = true
		}
		if video.Title == "" && title != "" {
			updates["title"] = title
		}
		if video.Channel == "" && channel != "" {
			updates["channel"] = channel
		}
		return tx.Model(&Video{}).Where("vid_url = ?", url).Updates(updates).Error
	})
}

// UpdateViewCount refreshes the discovery-sourced counters on an already
// archived record.
func (s *Store) UpdateViewCount(url string, views int, rating float64) error {
	return s.db.Model(&Video{}).Where("vid_url = ?", url).
		Updates(map[string]interface{}{"views": views, "rating": rating}).Error
}

// SetKeep pins or unpins a record against expiry.
func (s *Store) SetKeep(id int64, keep bool) error {
	res := s.db.Model(&Video{}).Where("id = ?", id).Update("keep", keep)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ExpiredVideos lists records past the retention horizon that still claim
// media on disk and are not pinned.
func (s *Store) ExpiredVideos(minPubDate int64) ([]Video, error) {
	var videos []Video
	err := s.db.
		Where("pub_date < ? AND vid_path != ? AND keep = ?", minPubDate, PathMissing, false).
		Find(&videos).Error
	return videos, err
}

// ExpireVideo resets the record's path fields to the missing sentinel after
// its files were removed.
func (s *Store) ExpireVideo(id int64) error {
	return s.db.Model(&Video{}).Where("id = ?", id).Updates(map[string]interface{}{
		"vid_path":   PathMissing,
		"thumb_path": PathMissing,
	}).Error
}

// MarkVideoMissing reconciles a record whose file is gone from disk.
func (s *Store) MarkVideoMissing(id int64) error {
	return s.db.Model(&Video{}).Where("id = ?", id).Updates(map[string]interface{}{
		"vid_path":      PathMissing,
		"downloaded_at": nil,
		"size":          nil,
	}).Error
}

// VideoByPath returns (nil, nil) if no record claims the given media path.
func (s *Store) VideoByPath(path string) (*Video, error) {
	var video Video
	err := s.db.First(&video, "vid_path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// VideosWithMedia lists every record claiming a file on disk, for the
// consistency sweep.
func (s *Store) VideosWithMedia() ([]Video, error) {
	var videos []Video
	err := s.db.Where("vid_path != ? AND vid_path != ''", PathMissing).Find(&videos).Error
	return videos, err
}

// LivestreamBacklog lists livestream placeholder rows still waiting for
// their media, oldest first.
func (s *Store) LivestreamBacklog(limit int) ([]Video, error) {
	var videos []Video
	err := s.db.
		Where("livestream = ? AND vid_path = ?", true, PathMissing).
		Order("pub_date ASC").
		Limit(limit).
		Find(&videos).Error
	return videos, err
}

// RecentPlaceholders counts records inserted within the window that still
// have no media, a proxy for "downloads failing lately".
func (s *Store) RecentPlaceholders(window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window).Unix()
	var count int64
	err := s.db.Model(&Video{}).
		Where("vid_path = ? AND inserted_at > ? AND livestream = ?", PathMissing, cutoff, false).
		Count(&count).Error
	return count, err
}
