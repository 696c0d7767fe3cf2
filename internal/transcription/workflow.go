package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// maxPollErrors is how many consecutive failed polls are tolerated before
// the transcription is abandoned.
const maxPollErrors = 3

var errPollExhausted = errors.New("provider did not finish within the poll budget")

// Archiver stores a finished transcript somewhere durable and returns a link.
type Archiver interface {
	Archive(ctx context.Context, title string, tr types.Transcript) (string, error)
}

// WorkflowOptions configures a Workflow.
type WorkflowOptions struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Archiver        Archiver
}

// Workflow drives one task's transcription from upload to a stored transcript.
type Workflow struct {
	tasks        *storage.TaskRegistry
	transcripts  *storage.TranscriptStore
	provider     Provider
	archiver     Archiver
	pollInterval time.Duration
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewWorkflow(tasks *storage.TaskRegistry, transcripts *storage.TranscriptStore, provider Provider, opts WorkflowOptions) *Workflow {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 100
	}
	return &Workflow{
		tasks:        tasks,
		transcripts:  transcripts,
		provider:     provider,
		archiver:     opts.Archiver,
		pollInterval: opts.PollInterval,
		maxAttempts:  opts.MaxPollAttempts,
		sleep:        sleepCtx,
	}
}

func (w *Workflow) Provider() string { return w.provider.Name() }

// Run transcribes audioPath for taskID. Failures are recorded on the task's
// transcription sub-state; the returned error is informational.
func (w *Workflow) Run(ctx context.Context, taskID, audioPath string) error {
	if _, err := w.tasks.TransitionTranscription(taskID, types.TranscriptionUploading); err != nil {
		return fmt.Errorf("start transcription for %s: %w", taskID, err)
	}
	logrus.WithFields(logrus.Fields{"task": taskID, "provider": w.provider.Name()}).Info("Uploading audio for transcription")

	handle, err := w.provider.Submit(ctx, audioPath)
	if err != nil {
		return w.fail(taskID, "upload", err)
	}

	if _, err := w.tasks.TransitionTranscription(taskID, types.TranscriptionProcessing); err != nil {
		return err
	}

	job, err := w.poll(ctx, handle)
	if err != nil {
		return w.fail(taskID, "processing", err)
	}

	tr := w.transcripts.Save(types.Transcript{
		ID:               taskID,
		Text:             normalizeText(job.Text),
		Raw:              job.Raw,
		DetectedLanguage: normalizeLanguage(job.Language),
	})
	task, err := w.tasks.CompleteTranscription(taskID, tr.DetectedLanguage)
	if err != nil {
		// the task expired mid-flight; its transcript goes with it
		w.transcripts.Remove(taskID)
		return err
	}
	logrus.WithFields(logrus.Fields{"task": taskID, "language": tr.DetectedLanguage, "chars": len(tr.Text)}).Info("Transcription completed")

	w.archive(ctx, task, tr)
	return nil
}

func (w *Workflow) poll(ctx context.Context, handle string) (*Job, error) {
	pollErrors := 0
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		job, err := w.provider.Poll(ctx, handle)
		switch {
		case err != nil:
			pollErrors++
			logrus.Warnf("Transcription poll %d for %s failed: %v", attempt, handle, err)
			if pollErrors >= maxPollErrors {
				return nil, err
			}
		case job.Status == JobCompleted:
			return job, nil
		case job.Status == JobError:
			msg := job.Error
			if msg == "" {
				msg = "provider reported an error"
			}
			return nil, errors.New(msg)
		default:
			pollErrors = 0
		}

		if attempt == w.maxAttempts {
			break
		}
		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (%d attempts)", errPollExhausted, w.maxAttempts)
}

func (w *Workflow) fail(taskID, stage string, cause error) error {
	failure := &types.TranscriptionFailure{Stage: stage, Err: cause}
	logrus.WithField("task", taskID).Errorf("%v", failure)
	if _, err := w.tasks.FailTranscription(taskID, failure); err != nil {
		logrus.Warnf("Could not record transcription failure for %s: %v", taskID, err)
	}
	return failure
}

// archive uploads the transcript with retries. Archive errors never affect
// the transcription status.
func (w *Workflow) archive(ctx context.Context, task types.Task, tr types.Transcript) {
	if w.archiver == nil {
		return
	}
	title := task.Title
	if title == "" {
		title = task.ID
	}

	const attempts = 3
	for i := 1; i <= attempts; i++ {
		link, err := w.archiver.Archive(ctx, title, tr)
		if err == nil {
			if err := w.transcripts.SetArchiveURL(tr.ID, link); err != nil {
				logrus.Warnf("Transcript %s gone before archive link was stored: %v", tr.ID, err)
			}
			logrus.Infof("Transcript %s archived: %s", tr.ID, link)
			return
		}
		logrus.Warnf("Archive attempt %d/%d for %s failed: %v", i, attempts, tr.ID, err)
		if i < attempts {
			if err := w.sleep(ctx, time.Duration(i*i)*time.Second); err != nil {
				return
			}
		}
	}
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "unknown"
	}
	return lang
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
