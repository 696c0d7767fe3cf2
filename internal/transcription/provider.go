package transcription

import (
	"context"
	"encoding/json"
)

// JobStatus is a provider-side transcription state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
)

// Job is one poll result from a speech-to-text provider.
type Job struct {
	ID       string
	Status   JobStatus
	Text     string
	Language string
	Error    string
	Raw      json.RawMessage
}

// Provider drives an asynchronous speech-to-text API: Submit uploads the
// audio and returns a handle, Poll reports its state.
type Provider interface {
	Name() string
	Submit(ctx context.Context, audioPath string) (string, error)
	Poll(ctx context.Context, handle string) (*Job, error)
}
