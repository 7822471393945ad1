package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Job is a periodic task. Run must be safe to repeat.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler triggers jobs on fixed intervals until its context ends. Each job
// runs once at start, then on every tick; a tick that arrives while the
// previous run is still going is dropped.
type Scheduler struct {
	jobs   []Job
	logger *log.Logger
}

func NewScheduler(logger *log.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Run blocks until ctx is cancelled and every job loop has returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("job disabled", "job", job.Name)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	started := time.Now()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("job failed", "job", job.Name, "err", err)
		return
	}
	s.logger.Debug("job done", "job", job.Name, "took", time.Since(started))
}
