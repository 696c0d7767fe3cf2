package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrSchedulerClosed is returned by Enqueue after Shutdown.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// Stats is a point-in-time view of a scheduler.
type Stats struct {
	Name      string `json:"name"`
	Limit     int    `json:"limit"`
	Active    int    `json:"active"`
	Queued    int    `json:"queued"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Scheduler admits jobs from an unbounded FIFO queue and runs at most
// limit of them at once. Finishing a job, by success, error or panic,
// frees its slot and drains the queue again.
type Scheduler struct {
	name  string
	limit int

	mu        sync.Mutex
	queue     []*Job
	active    int
	closed    bool
	completed int64
	failed    int64

	wg  sync.WaitGroup
	ctx context.Context
}

// NewScheduler creates a scheduler; limit < 1 is treated as 1.
func NewScheduler(name string, limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	logrus.Infof("Starting %s scheduler with %d slots", name, limit)
	return &Scheduler{
		name:  name,
		limit: limit,
		ctx:   context.Background(),
	}
}

// Enqueue appends job to the queue and triggers draining. It never blocks
// on job execution.
func (s *Scheduler) Enqueue(job *Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	job.EnqueuedAt = time.Now()
	s.queue = append(s.queue, job)
	queued := len(s.queue)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"scheduler": s.name, "job_id": job.ID, "queued": queued}).
		Debugf("Job %s enqueued", job.Name)
	s.drain()
	return nil
}

// drain starts queued jobs while slots are free.
func (s *Scheduler) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && s.active < s.limit && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.active++
		s.wg.Add(1)
		go s.run(job)
	}
}

func (s *Scheduler) run(job *Job) {
	log := logrus.WithFields(logrus.Fields{"scheduler": s.name, "job_id": job.ID})

	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("PANIC processing job %s: %v\n%s", job.Name, r, string(debug.Stack()))
			err = fmt.Errorf("worker panic: %v", r)
		}

		if err != nil && job.OnFailure != nil {
			s.notifyFailure(job, err)
		}

		s.mu.Lock()
		s.active--
		if err != nil {
			s.failed++
		} else {
			s.completed++
		}
		s.mu.Unlock()

		s.drain()
		s.wg.Done()
	}()

	job.StartedAt = time.Now()
	log.Debugf("Job %s started after %s in queue", job.Name, job.StartedAt.Sub(job.EnqueuedAt).Round(time.Millisecond))
	err = job.Run(s.ctx)
	if err != nil {
		log.Warnf("Job %s failed: %v", job.Name, err)
	}
}

// notifyFailure shields the scheduler from a panicking failure hook.
func (s *Scheduler) notifyFailure(job *Job, err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("job_id", job.ID).Errorf("PANIC in failure hook: %v", r)
		}
	}()
	job.OnFailure(err)
}

// Active returns the number of running jobs.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queued returns the number of jobs waiting for a slot.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Name:      s.name,
		Limit:     s.limit,
		Active:    s.active,
		Queued:    len(s.queue),
		Completed: s.completed,
		Failed:    s.failed,
	}
}

// Shutdown stops admitting jobs and waits for running ones. Jobs still in
// the queue are dropped.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	if dropped > 0 {
		logrus.Warnf("%s scheduler dropped %d queued jobs on shutdown", s.name, dropped)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Infof("%s scheduler stopped", s.name)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
