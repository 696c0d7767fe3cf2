package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// CreateOptions describes a new task.
type CreateOptions struct {
	SourceURL  string
	VideoID    string
	Title      string
	Format     string
	Transcribe bool
}

// TaskRegistry owns task records and enforces the status graph.
type TaskRegistry struct {
	store *ExpiringStore[types.Task]
	ttl   time.Duration
}

// NewTaskRegistry creates a registry whose tasks live for ttl after creation.
func NewTaskRegistry(ttl time.Duration) *TaskRegistry {
	return &TaskRegistry{
		store: NewExpiringStore[types.Task]("task"),
		ttl:   ttl,
	}
}

// Store exposes the underlying expiring store for clock injection and hooks.
func (r *TaskRegistry) Store() *ExpiringStore[types.Task] {
	return r.store
}

// Create registers a pending task under a fresh id.
func (r *TaskRegistry) Create(opts CreateOptions) types.Task {
	now := r.store.now()
	task := types.Task{
		ID:        uuid.New().String(),
		Status:    types.StatusPending,
		Title:     opts.Title,
		SourceURL: opts.SourceURL,
		VideoID:   opts.VideoID,
		Format:    opts.Format,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if opts.Transcribe {
		task.Transcription = types.TranscriptionState{
			Requested: true,
			Status:    types.TranscriptionPending,
		}
	}
	r.store.Put(task.ID, task)
	return task
}

func (r *TaskRegistry) Get(id string) (types.Task, error) {
	return r.store.Get(id)
}

// Update is a single read-modify-write on one task.
func (r *TaskRegistry) Update(id string, mutate func(*types.Task) error) (types.Task, error) {
	return r.store.Update(id, mutate)
}

func (r *TaskRegistry) Delete(id string) {
	r.store.Remove(id)
}

func (r *TaskRegistry) Sweep() int {
	return r.store.Sweep()
}

// Transition moves a task along the status graph.
func (r *TaskRegistry) Transition(id string, next types.Status) (types.Task, error) {
	return r.Update(id, func(t *types.Task) error {
		if !t.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, t.Status, next)
		}
		t.Status = next
		if next == types.StatusCompleted {
			t.Progress = 100
		}
		if next.IsTerminal() {
			t.FinishedAt = r.store.now()
		}
		return nil
	})
}

// SetProgress raises the progress percentage. Lower values and updates to
// terminal tasks are ignored so progress never goes backwards.
func (r *TaskRegistry) SetProgress(id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_, err := r.Update(id, func(t *types.Task) error {
		if !t.Status.IsTerminal() && pct > t.Progress {
			t.Progress = pct
		}
		return nil
	})
	return err
}

// SetTitle records resolved metadata.
func (r *TaskRegistry) SetTitle(id, title string) error {
	_, err := r.Update(id, func(t *types.Task) error {
		t.Title = title
		return nil
	})
	return err
}

// SetStrategy records which acquisition strategy produced the artifact.
func (r *TaskRegistry) SetStrategy(id, name string) error {
	_, err := r.Update(id, func(t *types.Task) error {
		t.Strategy = name
		return nil
	})
	return err
}

// Fail moves a non-terminal task to failed with reason.
func (r *TaskRegistry) Fail(id string, reason error) (types.Task, error) {
	return r.Update(id, func(t *types.Task) error {
		if !t.Status.CanTransitionTo(types.StatusFailed) {
			return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, t.Status, types.StatusFailed)
		}
		t.Status = types.StatusFailed
		if reason != nil {
			t.Error = reason.Error()
		}
		t.FinishedAt = r.store.now()
		return nil
	})
}

// TransitionTranscription advances the transcription sub-state. Leaving
// pending requires the parent task to be completed.
func (r *TaskRegistry) TransitionTranscription(id string, next types.TranscriptionStatus) (types.Task, error) {
	return r.Update(id, func(t *types.Task) error {
		return advanceTranscription(t, next)
	})
}

// CompleteTranscription marks the transcript ready and records its language.
func (r *TaskRegistry) CompleteTranscription(id, language string) (types.Task, error) {
	return r.Update(id, func(t *types.Task) error {
		if err := advanceTranscription(t, types.TranscriptionCompleted); err != nil {
			return err
		}
		t.Transcription.DetectedLanguage = language
		t.Transcription.CompletedAt = r.store.now()
		return nil
	})
}

// FailTranscription records a transcription failure without touching the
// parent status.
func (r *TaskRegistry) FailTranscription(id string, reason error) (types.Task, error) {
	return r.Update(id, func(t *types.Task) error {
		if err := advanceTranscription(t, types.TranscriptionFailed); err != nil {
			return err
		}
		if reason != nil {
			t.Transcription.Error = reason.Error()
		}
		return nil
	})
}

func advanceTranscription(t *types.Task, next types.TranscriptionStatus) error {
	if !t.Transcription.Requested {
		return fmt.Errorf("%w: transcription not requested", types.ErrInvalidTransition)
	}
	cur := t.Transcription.Status
	if !cur.CanTransitionTo(next) {
		return fmt.Errorf("%w: transcription %s -> %s", types.ErrInvalidTransition, cur, next)
	}
	if next == types.TranscriptionUploading && t.Status != types.StatusCompleted {
		return fmt.Errorf("%w: transcription cannot start while task is %s", types.ErrInvalidTransition, t.Status)
	}
	t.Transcription.Status = next
	return nil
}
