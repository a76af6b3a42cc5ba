package store

import (
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require_.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func candidate(url string) vodkeeper.CandidateItem {
	return vodkeeper.CandidateItem{
		URL:     url,
		Title:   "some title",
		Channel: "some channel",
	}
}

func TestCreateJobRejectsActiveDuplicate(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	first, err := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 3)
	assert.NoError(err)
	assert.Equal(JobPending, first.Status)

	dup, err := s.CreateJob(candidate("https://x/watch?v=abc123"), 5, 3)
	assert.ErrorIs(err, ErrJobExists)
	assert.Equal(first.ID, dup.ID)

	// A terminal job frees the URL for a fresh one.
	assert.NoError(s.MarkJobFailed(first.ID, "boom"))
	again, err := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 3)
	assert.NoError(err)
	assert.NotEqual(first.ID, again.ID)
}

func TestJobOrderingPriorityThenFIFO(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	low1, _ := s.CreateJob(candidate("https://x/watch?v=low1"), 0, 3)
	time.Sleep(2 * time.Millisecond)
	high, _ := s.CreateJob(candidate("https://x/watch?v=high"), 10, 3)
	time.Sleep(2 * time.Millisecond)
	low2, _ := s.CreateJob(candidate("https://x/watch?v=low2"), 0, 3)

	jobs, err := s.PendingJobs(10)
	assert.NoError(err)
	if assert.Len(jobs, 3) {
		assert.Equal(high.ID, jobs[0].ID)
		assert.Equal(low1.ID, jobs[1].ID)
		assert.Equal(low2.ID, jobs[2].ID)
	}

	jobs, err = s.PendingJobs(1)
	assert.NoError(err)
	if assert.Len(jobs, 1) {
		assert.Equal(high.ID, jobs[0].ID)
	}
	_ = low2
}

func TestJobLifecycleTransitions(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	job, err := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 2)
	assert.NoError(err)

	assert.NoError(s.MarkJobDownloading(job.ID))
	got, _ := s.JobByID(job.ID)
	assert.Equal(JobDownloading, got.Status)
	assert.NotNil(got.StartedAt)

	assert.NoError(s.MarkJobCompleted(job.ID))
	got, _ = s.JobByID(job.ID)
	assert.Equal(JobCompleted, got.Status)
	assert.NotNil(got.CompletedAt)
}

func TestRetryCeiling(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	job, err := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 2)
	assert.NoError(err)

	// Only failed jobs can be re-armed.
	_, err = s.RetryJob(job.ID)
	assert.ErrorIs(err, ErrBadState)

	for i := 1; i <= 2; i++ {
		assert.NoError(s.MarkJobFailed(job.ID, "transient"))
		rearmed, err := s.RetryJob(job.ID)
		assert.NoError(err)
		assert.Equal(JobRetrying, rearmed.Status)
		assert.Equal(i, rearmed.RetryCount)
	}

	assert.NoError(s.MarkJobFailed(job.ID, "transient"))
	_, err = s.RetryJob(job.ID)
	assert.ErrorIs(err, ErrMaxRetries)

	// The counter must not move past the ceiling.
	got, _ := s.JobByID(job.ID)
	assert.Equal(2, got.RetryCount)
}

func TestRetryingJobsPickedUpSeparately(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	job, _ := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 3)
	assert.NoError(s.MarkJobFailed(job.ID, "boom"))
	_, err := s.RetryJob(job.ID)
	assert.NoError(err)

	pending, _ := s.PendingJobs(10)
	assert.Empty(pending)
	retrying, _ := s.RetryingJobs(10)
	assert.Len(retrying, 1)
}

func TestDeleteJobsOlderThan(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	job, _ := s.CreateJob(candidate("https://x/watch?v=abc123"), 0, 3)
	assert.NoError(s.MarkJobCompleted(job.ID))

	// Terminal and older than a zero-age horizon: collected.
	time.Sleep(2 * time.Millisecond)
	deleted, err := s.DeleteJobsOlderThan(0)
	assert.NoError(err)
	assert.EqualValues(1, deleted)

	got, err := s.JobByID(job.ID)
	assert.NoError(err)
	assert.Nil(got)
}

func TestVideoLivestreamPlaceholderRoundTrip(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	video := &Video{
		URL:        "https://x/watch?v=live01",
		Title:      "a broadcast",
		Channel:    "some channel",
		Livestream: true,
		InsertedAt: time.Now().Unix(),
	}
	assert.NoError(s.InsertVideo(video))

	got, err := s.VideoByURL(video.URL)
	assert.NoError(err)
	assert.False(got.HasMedia())
	assert.Equal(PathMissing, got.Path)

	backlog, err := s.LivestreamBacklog(10)
	assert.NoError(err)
	assert.Len(backlog, 1)

	// Later "download and keep" fills the on-disk fields and pins the row.
	now := time.Now().Unix()
	assert.NoError(s.UpdateDownloaded(video.URL, "", "", DownloadedFields{
		Path:         "live01.mp4",
		ThumbPath:    "live01.jpg",
		Size:         600,
		DownloadedAt: now,
		Keep:         true,
	}))

	got, _ = s.VideoByURL(video.URL)
	assert.True(got.HasMedia())
	assert.Equal("live01.mp4", got.Path)
	assert.Equal("live01.jpg", got.ThumbPath)
	assert.True(got.Keep)
	assert.Equal("a broadcast", got.Title)
	assert.Equal("some channel", got.Channel)
	if assert.NotNil(got.Size) {
		assert.Equal(600, *got.Size)
	}
	if assert.NotNil(got.DownloadedAt) {
		assert.Equal(now, *got.DownloadedAt)
	}

	backlog, _ = s.LivestreamBacklog(10)
	assert.Empty(backlog)
}

func TestExpireAndMarkMissing(t *testing.T) {
	assert := assert_.New(t)
	s := newTestStore(t)

	size := 100
	downloadedAt := time.Now().Unix()
	video := &Video{
		URL:          "https://x/watch?v=old001",
		Path:         "old001.mp4",
		ThumbPath:    "old001.jpg",
		PubDate:      time.Now().Add(-30 * 24 * time.Hour).Unix(),
		InsertedAt:   time.Now().Unix(),
		DownloadedAt: &downloadedAt,
		Size:         &size,
	}
	assert.NoError(s.InsertVideo(video))

	expired, err := s.ExpiredVideos(time.Now().Add(-14 * 24 * time.Hour).Unix())
	assert.NoError(err)
	assert.Len(expired, 1)

	assert.NoError(s.ExpireVideo(video.ID))
	got, _ := s.VideoByID(video.ID)
	assert.Equal(PathMissing, got.Path)
	assert.Equal(PathMissing, got.ThumbPath)

	// Pinned records never expire.
	assert.NoError(s.SetKeep(video.ID, true))
	expired, _ = s.ExpiredVideos(time.Now().Unix())
	assert.Empty(expired)

	// Consistency repair nulls the bookkeeping fields.
	assert.NoError(s.MarkVideoMissing(video.ID))
	got, _ = s.VideoByID(video.ID)
	assert.Nil(got.Size)
	assert.Nil(got.DownloadedAt)
}
