package types

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a conversion task.
type Status string

// Task status constants
const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusDownloading Status = "downloading"
	StatusConverting  Status = "converting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is an edge of the task graph.
// failed is reachable from every non-terminal state and is absorbing.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusDownloading
	case StatusDownloading:
		return next == StatusConverting || next == StatusCompleted
	case StatusConverting:
		return next == StatusCompleted
	}
	return false
}

// TranscriptionStatus is the independent sub-state of a task's transcript.
// The zero value means no transcription was requested.
type TranscriptionStatus string

const (
	TranscriptionNone       TranscriptionStatus = ""
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionUploading  TranscriptionStatus = "uploading"
	TranscriptionProcessing TranscriptionStatus = "processing"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

// IsTerminal reports whether the transcription has finished either way.
func (s TranscriptionStatus) IsTerminal() bool {
	return s == TranscriptionCompleted || s == TranscriptionFailed
}

// CanTransitionTo reports whether s -> next is legal for the transcription
// sub-machine. Gating on the parent status is enforced by the registry.
func (s TranscriptionStatus) CanTransitionTo(next TranscriptionStatus) bool {
	switch s {
	case TranscriptionNone:
		return next == TranscriptionPending
	case TranscriptionPending:
		return next == TranscriptionUploading || next == TranscriptionFailed
	case TranscriptionUploading:
		return next == TranscriptionProcessing || next == TranscriptionFailed
	case TranscriptionProcessing:
		return next == TranscriptionCompleted || next == TranscriptionFailed
	}
	return false
}

// TranscriptionState is embedded in a Task.
type TranscriptionState struct {
	Requested        bool
	Status           TranscriptionStatus
	DetectedLanguage string
	Error            string
	CompletedAt      time.Time
}

// Task tracks one submitted conversion request end to end.
type Task struct {
	ID            string
	Status        Status
	Title         string
	SourceURL     string
	VideoID       string
	Format        string
	Progress      int
	Error         string
	Strategy      string
	Transcription TranscriptionState
	CreatedAt     time.Time
	FinishedAt    time.Time
	ExpiresAt     time.Time
}

// Expiry implements the expiring store contract.
func (t Task) Expiry() time.Time { return t.ExpiresAt }

// Resource is a produced audio artifact, keyed by task id.
type Resource struct {
	ID        string
	FilePath  string
	Filename  string
	Format    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (r Resource) Expiry() time.Time { return r.ExpiresAt }

// Transcript is a completed speech-to-text result, keyed by task id.
type Transcript struct {
	ID               string
	Text             string
	Raw              json.RawMessage
	DetectedLanguage string
	ArchiveURL       string
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

func (t Transcript) Expiry() time.Time { return t.ExpiresAt }

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
