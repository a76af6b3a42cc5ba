package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper/internal/monitor"
	"github.com/vodkeeper/vodkeeper/internal/store"
	"github.com/vodkeeper/vodkeeper/internal/sync_"
)

// Config tunes the orchestrator loop. The pool size is independent from
// the polling cadence.
type Config struct {
	MaxConcurrent int
	// PollInterval is the sleep when all slots are busy or after a dispatch
	// round; IdleInterval is the longer sleep when the queue is empty.
	PollInterval time.Duration
	IdleInterval time.Duration
	// StopTimeout bounds how long Stop waits for in-flight jobs.
	StopTimeout time.Duration
}

func DefaultServiceConfig(maxConcurrent int) Config {
	return Config{
		MaxConcurrent: maxConcurrent,
		PollInterval:  5 * time.Second,
		IdleInterval:  10 * time.Second,
		StopTimeout:   30 * time.Second,
	}
}

// Status is the service state surface.
type Status struct {
	Running       bool          `json:"running"`
	ActiveJobs    []string      `json:"active_jobs"`
	MaxConcurrent int           `json:"max_concurrent"`
	PendingJobs   int64         `json:"pending_jobs"`
	Downloads     monitor.Stats `json:"downloads"`
}

// Service is the single active driver: a pull-based, priority-ordered,
// bounded-concurrency scheduler over the job store. Jobs are dispatched to
// workers and allowed to finish even after Stop.
type Service struct {
	cfg      Config
	store    *store.Store
	pipeline *Pipeline
	log      *zap.SugaredLogger

	running       *sync_.Event
	active        *sync_.Mutexed[map[string]struct{}]
	maxConcurrent *sync_.Mutexed[int]
	cancelLoop    context.CancelFunc
	done          chan struct{}
}

func New(cfg Config, st *store.Store, pipeline *Pipeline) *Service {
	active := make(map[string]struct{})
	return &Service{
		cfg:           cfg,
		store:         st,
		pipeline:      pipeline,
		log:           zap.S().Named("service"),
		running:       sync_.NewEvent(),
		active:        sync_.NewMutexed(active),
		maxConcurrent: sync_.NewMutexed(cfg.MaxConcurrent),
	}
}

// Start launches the driver loop. Idempotent: a second Start while running
// is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.running.IsSet() {
		s.log.Debugw("already running")
		return
	}
	s.running.Set()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, loopCtx)
	s.log.Infow("started", "max_concurrent", s.maxConcurrent.Get())
}

// Stop halts the driver and waits up to StopTimeout for in-flight jobs.
// In-flight jobs are not cancelled.
func (s *Service) Stop() {
	if !s.running.IsSet() {
		return
	}
	s.running.Clear()
	s.cancelLoop()

	select {
	case <-s.done:
		s.log.Infow("stopped")
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warnw("stop timed out with jobs in flight", "active", s.activeCount())
	}
}

// loop is the driver: compute free slots, pull eligible jobs, dispatch.
// jobCtx flows to workers and outlives loopCtx so Stop does not cancel
// in-flight fetches.
func (s *Service) loop(jobCtx, loopCtx context.Context) {
	var workers sync.WaitGroup
	defer func() {
		workers.Wait()
		close(s.done)
	}()

	for s.running.IsSet() {
		slots := s.maxConcurrent.Get() - s.activeCount()
		if slots <= 0 {
			if sleepCtx(loopCtx, s.cfg.PollInterval) != nil {
				return
			}
			continue
		}

		jobs, err := s.store.PendingJobs(slots)
		if err == nil && len(jobs) == 0 {
			jobs, err = s.store.RetryingJobs(slots)
		}
		if err != nil {
			s.log.Errorw("failed to fetch jobs", "error", err)
			if sleepCtx(loopCtx, s.cfg.IdleInterval) != nil {
				return
			}
			continue
		}
		if len(jobs) == 0 {
			if sleepCtx(loopCtx, s.cfg.IdleInterval) != nil {
				return
			}
			continue
		}

		for i := range jobs {
			job := jobs[i]
			s.addActive(job.ID)
			workers.Add(1)
			go func() {
				defer workers.Done()
				defer s.removeActive(job.ID)
				s.runJob(jobCtx, &job)
			}()
		}

		if sleepCtx(loopCtx, s.cfg.PollInterval) != nil {
			return
		}
	}
}

func (s *Service) runJob(ctx context.Context, job *store.DownloadJob) {
	before := *job
	disposition, err := s.pipeline.Process(ctx, job)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warnw("job ended with error",
			"job_id", job.ID, "disposition", disposition.String(), "error", err)
	}

	if after, lookupErr := s.store.JobByID(job.ID); lookupErr == nil && after != nil {
		if changes, diffErr := diff.Diff(before, *after); diffErr == nil {
			s.log.Debugw("job state changed", "job_id", job.ID, "changes", changes)
		}
	}
}

// SetMaxConcurrent adjusts the worker pool size; the recovery manager uses
// this for load shedding. Takes effect on the next dispatch round.
func (s *Service) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	s.maxConcurrent.Set(n)
	s.log.Infow("max concurrency changed", "max_concurrent", n)
}

func (s *Service) MaxConcurrent() int {
	return s.maxConcurrent.Get()
}

// Status snapshots the service state.
func (s *Service) Status() Status {
	var ids []string
	_ = s.active.Locked(func(m map[string]struct{}) error {
		for id := range m {
			ids = append(ids, id)
		}
		return nil
	})
	pending, _ := s.store.CountJobs(store.JobPending)
	return Status{
		Running:       s.running.IsSet(),
		ActiveJobs:    ids,
		MaxConcurrent: s.maxConcurrent.Get(),
		PendingJobs:   pending,
		Downloads:     s.pipeline.Downloads.StatsSummary(),
	}
}

func (s *Service) activeCount() int {
	n := 0
	_ = s.active.Locked(func(m map[string]struct{}) error {
		n = len(m)
		return nil
	})
	return n
}

func (s *Service) addActive(id string) {
	_ = s.active.Locked(func(m map[string]struct{}) error {
		m[id] = struct{}{}
		return nil
	})
}

func (s *Service) removeActive(id string) {
	_ = s.active.Locked(func(m map[string]struct{}) error {
		delete(m, id)
		return nil
	})
}
