package queue

import (
	"context"
	"time"
)

// Job is one unit of work admitted by a Scheduler.
type Job struct {
	// ID is usually the task id the job works on.
	ID   string
	Name string
	Run  func(ctx context.Context) error
	// OnFailure, if set, receives the error returned by Run or a recovered
	// panic converted to an error.
	OnFailure  func(err error)
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// NewJob creates a new job with default values
func NewJob(id, name string, run func(ctx context.Context) error) *Job {
	return &Job{
		ID:   id,
		Name: name,
		Run:  run,
	}
}
