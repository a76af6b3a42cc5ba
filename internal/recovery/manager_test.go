package recovery

import (
	"os"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
	"github.com/vodkeeper/vodkeeper/internal/monitor"
	"github.com/vodkeeper/vodkeeper/internal/report"
	"github.com/vodkeeper/vodkeeper/internal/store"
)

type fakeControl struct {
	max int
}

func (f *fakeControl) MaxConcurrent() int     { return f.max }
func (f *fakeControl) SetMaxConcurrent(n int) { f.max = n }

type managerHarness struct {
	cfg     vodkeeper.Config
	store   *store.Store
	manager *Manager
	limiter *monitor.RateLimiter
	control *fakeControl
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	cfg := vodkeeper.DefaultConfig()
	cfg.Paths.DataDir = t.TempDir()
	require_.NoError(t, cfg.Paths.EnsureDirs())

	st, err := store.Open(":memory:", zap.NewNop())
	require_.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reporter, err := report.Open(cfg.Paths.JournalPath())
	require_.NoError(t, err)
	t.Cleanup(func() { _ = reporter.Close() })

	resources := monitor.NewResourceMonitor(cfg.SystemLimits, cfg.Paths.DataDir)
	limiter := monitor.NewRateLimiter(cfg.RateLimit)
	downloads := monitor.NewDownloadMonitor()
	control := &fakeControl{max: 3}

	return &managerHarness{
		cfg:     cfg,
		store:   st,
		manager: NewManager(cfg, st, resources, limiter, downloads, reporter, control),
		limiter: limiter,
		control: control,
	}
}

func (h *managerHarness) writeVideoFile(t *testing.T, name string, size int) {
	t.Helper()
	require_.NoError(t, os.WriteFile(h.cfg.Paths.VideoPath(name), make([]byte, size), 0644))
}

func TestExpireOldVideos(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	oldDate := time.Now().Add(-30 * 24 * time.Hour).Unix()
	h.writeVideoFile(t, "old001.mp4", 2048)
	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:     "https://x/watch?v=old001",
		Path:    "old001.mp4",
		PubDate: oldDate,
	}))
	// Pinned record with equally old media must survive.
	h.writeVideoFile(t, "kept01.mp4", 2048)
	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:     "https://x/watch?v=kept01",
		Path:    "kept01.mp4",
		PubDate: oldDate,
		Keep:    true,
	}))

	expired, err := h.manager.ExpireOldVideos()
	assert.NoError(err)
	assert.Equal(1, expired)

	_, statErr := os.Stat(h.cfg.Paths.VideoPath("old001.mp4"))
	assert.True(os.IsNotExist(statErr))
	_, statErr = os.Stat(h.cfg.Paths.VideoPath("kept01.mp4"))
	assert.NoError(statErr)

	video, _ := h.store.VideoByURL("https://x/watch?v=old001")
	assert.Equal(store.PathMissing, video.Path)
}

func TestDiskCleanupRemovesStrays(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	require_.NoError(t, os.WriteFile(h.cfg.Paths.VideoPath("abc123.mp4.part"), []byte("partial"), 0644))
	require_.NoError(t, os.WriteFile(h.cfg.Paths.VideoPath("def456.temp"), []byte("partial"), 0644))
	h.writeVideoFile(t, "keepme.mp4", 2048)

	detail, err := h.manager.diskCleanup()
	assert.NoError(err)
	assert.Contains(detail, "removed 2 partial files")

	entries, _ := os.ReadDir(h.cfg.Paths.VideoDir())
	assert.Len(entries, 1)
}

func TestCorruptedFileCleanup(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	h.writeVideoFile(t, "tiny01.mp4", 100)
	h.writeVideoFile(t, "sound1.mp4", 4096)
	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:  "https://x/watch?v=tiny01",
		Path: "tiny01.mp4",
	}))

	detail, err := h.manager.corruptedFileCleanup()
	assert.NoError(err)
	assert.Contains(detail, "removed 1 corrupted files")

	_, statErr := os.Stat(h.cfg.Paths.VideoPath("tiny01.mp4"))
	assert.True(os.IsNotExist(statErr))

	// The record was reconciled.
	video, _ := h.store.VideoByURL("https://x/watch?v=tiny01")
	assert.Equal(store.PathMissing, video.Path)
}

func TestDatabaseCleanupRepairsDrift(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	// Record claims a file that does not exist.
	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:  "https://x/watch?v=gone01",
		Path: "gone01.mp4",
	}))
	// Record whose file is present stays untouched.
	h.writeVideoFile(t, "here01.mp4", 2048)
	require_.NoError(t, h.store.InsertVideo(&store.Video{
		URL:  "https://x/watch?v=here01",
		Path: "here01.mp4",
	}))

	detail, err := h.manager.databaseCleanup()
	assert.NoError(err)
	assert.Contains(detail, "repaired 1 drifted records")

	gone, _ := h.store.VideoByURL("https://x/watch?v=gone01")
	assert.Equal(store.PathMissing, gone.Path)
	here, _ := h.store.VideoByURL("https://x/watch?v=here01")
	assert.Equal("here01.mp4", here.Path)
}

func TestEmergencyRecovery(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	assert.NoError(h.manager.Emergency())

	// Most conservative settings, unconditionally.
	assert.Equal(5, h.limiter.MaxRequests())
	assert.Equal(1, h.control.max)

	// Every action left an audit trail.
	actions, err := h.manager.reporter.RecoveryActions(time.Time{})
	assert.NoError(err)
	assert.GreaterOrEqual(len(actions), 2)
}

func TestSweepRunsDueActions(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	// First sweep: corruption check and database cleanup are due, the
	// threshold-gated actions are not (fresh monitors, sane disk).
	assert.NoError(h.manager.Sweep())

	actions, err := h.manager.reporter.RecoveryActions(time.Time{})
	assert.NoError(err)
	names := make(map[string]bool)
	for _, a := range actions {
		names[a.Action] = true
	}
	assert.True(names["corrupted_file_cleanup"])
	assert.True(names["database_cleanup"])
	assert.False(names["rate_limit_reset"])

	// Immediately sweeping again: the interval-gated actions do not rerun.
	assert.NoError(h.manager.Sweep())
	actions, _ = h.manager.reporter.RecoveryActions(time.Time{})
	counts := make(map[string]int)
	for _, a := range actions {
		counts[a.Action]++
	}
	assert.Equal(1, counts["corrupted_file_cleanup"])
	assert.Equal(1, counts["database_cleanup"])
}

func TestSweepResetsRateLimiterOnBadStreak(t *testing.T) {
	assert := assert_.New(t)
	h := newManagerHarness(t)

	downloads := h.manager.downloads
	for i := 0; i < 12; i++ {
		downloads.RecordAttempt("https://x/watch?v=bad")
		downloads.RecordFailure("https://x/watch?v=bad", "timeout")
	}

	assert.NoError(h.manager.Sweep())
	assert.Equal(15, h.limiter.MaxRequests())

	actions, _ := h.manager.reporter.RecoveryActions(time.Time{})
	found := false
	for _, a := range actions {
		if a.Action == "rate_limit_reset" {
			found = true
			assert.True(a.Success)
		}
	}
	assert.True(found)
}
