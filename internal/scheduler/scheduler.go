package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// JobFunc is one tick of a periodic job. Errors are logged; the job keeps
// running.
type JobFunc func(ctx context.Context) error

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler drives periodic jobs on independent tickers. Adding a job under
// an existing id is a no-op, so callers can register on every session start
// without double-scheduling; Remove stops a job gracefully when a session
// ends.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
	}
}

// Add registers fn to run every interval under the given id. Returns false
// when a job with this id is already scheduled.
func (s *Scheduler) Add(ctx context.Context, id string, interval time.Duration, fn JobFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		log.Debug().Str("job_id", id).Msg("job already scheduled")
		return false
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[id] = j

	go s.run(jobCtx, id, interval, fn, j)

	log.Info().Str("job_id", id).Dur("interval", interval).Msg("job scheduled")
	return true
}

func (s *Scheduler) run(ctx context.Context, id string, interval time.Duration, fn JobFunc, j *job) {
	defer close(j.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("job_id", id).Msg("job tick failed")
			}
		}
	}
}

// Remove stops the job with the given id and waits for its current tick to
// finish. Removing an unknown id is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	j.cancel()
	<-j.done
	log.Info().Str("job_id", id).Msg("job removed")
}

// Has reports whether a job with the given id is scheduled.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Stop removes every job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Remove(id)
	}
}
