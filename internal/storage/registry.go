package storage

import (
	"time"
)

// TTLs configures entry lifetimes.
type TTLs struct {
	Task       time.Duration
	Resource   time.Duration
	Transcript time.Duration
}

// Registry bundles the three stores and couples their expiry: when a task
// is evicted its resource and transcript go with it, and when a resource
// expires its task record is dropped so status never links a dead file.
type Registry struct {
	Tasks       *TaskRegistry
	Resources   *ResourceStore
	Transcripts *TranscriptStore
}

func NewRegistry(ttls TTLs) *Registry {
	r := &Registry{
		Tasks:       NewTaskRegistry(ttls.Task),
		Resources:   NewResourceStore(ttls.Resource),
		Transcripts: NewTranscriptStore(ttls.Transcript),
	}
	r.Tasks.Store().OnExpire(func(id string) {
		r.Resources.Remove(id)
		r.Transcripts.Remove(id)
	})
	r.Resources.Store().OnExpire(func(id string) {
		r.Tasks.Delete(id)
	})
	return r
}

// SetClock injects the same clock into every store.
func (r *Registry) SetClock(now func() time.Time) {
	r.Tasks.Store().SetClock(now)
	r.Resources.Store().SetClock(now)
	r.Transcripts.Store().SetClock(now)
}

// SweepResult reports how many entries each store evicted.
type SweepResult struct {
	Resources   int
	Tasks       int
	Transcripts int
}

// Sweep evicts expired entries. Resources go first; their tasks leave with
// them and are not counted under Tasks.
func (r *Registry) Sweep() SweepResult {
	return SweepResult{
		Resources:   r.Resources.Sweep(),
		Tasks:       r.Tasks.Sweep(),
		Transcripts: r.Transcripts.Sweep(),
	}
}
