package task

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one named periodic background job.
type Task struct {
	Name     string
	Interval time.Duration
	// RunAtStart runs the task once immediately instead of waiting a full
	// interval first.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Supervisor runs named periodic tasks, each in its own goroutine with
// panic isolation: one misbehaving task neither takes down the process nor
// stops its own schedule.
type Supervisor struct {
	tasks  []Task
	log    *zap.SugaredLogger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor() *Supervisor {
	return &Supervisor{log: zap.S().Named("tasks")}
}

// Add registers a task. Must be called before Start.
func (s *Supervisor) Add(task Task) {
	s.tasks = append(s.tasks, task)
}

// Start launches all registered tasks.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		task := task
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runTask(ctx, task)
		}()
	}
	s.log.Infow("started", "tasks", len(s.tasks))
}

// Stop cancels all tasks and waits for them to return.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.log.Infow("stopped")
}

func (s *Supervisor) runTask(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	if task.RunAtStart {
		s.runOnce(ctx, task)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("task panicked",
				"task", task.Name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.Warnw("task failed", "task", task.Name, "error", err)
	}
}
