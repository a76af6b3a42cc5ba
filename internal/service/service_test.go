package service

import (
	"context"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/vodkeeper/vodkeeper/internal/store"
)

func newTestService(t *testing.T, h *pipelineHarness) *Service {
	t.Helper()
	cfg := Config{
		MaxConcurrent: 2,
		PollInterval:  5 * time.Millisecond,
		IdleInterval:  10 * time.Millisecond,
		StopTimeout:   5 * time.Second,
	}
	return New(cfg, h.store, h.pipeline)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServiceProcessesQueuedJobs(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	s := newTestService(t, h)

	jobA := h.enqueue(t, "https://x/watch?v=aaa111")
	jobB := h.enqueue(t, "https://x/watch?v=bbb222")

	s.Start(context.Background())
	defer s.Stop()

	done := waitFor(t, 5*time.Second, func() bool {
		a, _ := h.store.JobByID(jobA.ID)
		b, _ := h.store.JobByID(jobB.ID)
		return a != nil && a.Status.Terminal() && b != nil && b.Status.Terminal()
	})
	require_.True(t, done, "jobs did not reach a terminal state")

	a, _ := h.store.JobByID(jobA.ID)
	b, _ := h.store.JobByID(jobB.ID)
	assert.Equal(store.JobCompleted, a.Status)
	assert.Equal(store.JobCompleted, b.Status)
}

func TestServicePicksUpRetryingJobs(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	s := newTestService(t, h)

	job := h.enqueue(t, "https://x/watch?v=abc123")
	require_.NoError(t, h.store.MarkJobFailed(job.ID, "transient"))
	_, err := h.store.RetryJob(job.ID)
	require_.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	done := waitFor(t, 5*time.Second, func() bool {
		got, _ := h.store.JobByID(job.ID)
		return got != nil && got.Status == store.JobCompleted
	})
	assert.True(done, "retrying job was not picked up")
}

func TestServiceStartStopIdempotent(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	s := newTestService(t, h)

	assert.False(s.Status().Running)
	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	assert.True(s.Status().Running)

	s.Stop()
	s.Stop() // no-op
	assert.False(s.Status().Running)

	// Restart after stop works.
	s.Start(context.Background())
	assert.True(s.Status().Running)
	s.Stop()
}

func TestServiceConcurrencyAdjustment(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	s := newTestService(t, h)

	assert.Equal(2, s.MaxConcurrent())
	s.SetMaxConcurrent(1)
	assert.Equal(1, s.MaxConcurrent())
	// Load shedding never drops below one worker.
	s.SetMaxConcurrent(0)
	assert.Equal(1, s.MaxConcurrent())
}

func TestSweeperEnqueuesLivestreamBacklog(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	sweeper := NewSweeper(h.cfg, h.store)

	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:        "https://x/watch?v=live01",
		Title:      "a broadcast",
		Livestream: true,
	}))

	enqueued, err := sweeper.SweepLivestreams()
	assert.NoError(err)
	assert.Equal(1, enqueued)

	// A second sweep finds the active job and enqueues nothing.
	enqueued, err = sweeper.SweepLivestreams()
	assert.NoError(err)
	assert.Zero(enqueued)
}

func TestSweeperDownloadAndKeep(t *testing.T) {
	assert := assert_.New(t)
	h := newHarness(t)
	sweeper := NewSweeper(h.cfg, h.store)

	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:   "https://x/watch?v=abc123",
		Title: "a video",
	}))

	assert.NoError(sweeper.DownloadAndKeep("https://x/watch?v=abc123"))

	video, _ := h.store.VideoByURL("https://x/watch?v=abc123")
	assert.True(video.Keep)
	jobs, _ := h.store.PendingJobs(10)
	if assert.Len(jobs, 1) {
		assert.Equal(10, jobs[0].Priority)
	}

	assert.NoError(sweeper.Unkeep("https://x/watch?v=abc123"))
	video, _ = h.store.VideoByURL("https://x/watch?v=abc123")
	assert.False(video.Keep)
}
