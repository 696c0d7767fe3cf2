package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/transcription"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// Progress checkpoints reported while a task moves through the pipeline.
const (
	progressStarted      = 5
	progressMetadata     = 10
	progressDownloadEnd  = 70
	progressConvertStart = 70
	progressConvertEnd   = 90
)

// Acquirer fetches source media; *acquire.Chain implements it.
type Acquirer interface {
	Run(ctx context.Context, target acquire.Target) (*acquire.Result, error)
}

// Converter transcodes acquired media into the requested format.
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath, format string, onProgress func(float64)) (string, error)
}

// MetadataResolver looks up the source title before downloading.
type MetadataResolver interface {
	Resolve(ctx context.Context, rawURL string) (acquire.Metadata, error)
}

// Transcriber runs the transcription workflow for a completed task.
type Transcriber interface {
	Run(ctx context.Context, taskID, audioPath string) error
}

// HistoryRecorder persists terminal task states.
type HistoryRecorder interface {
	Record(entry storage.HistoryEntry) error
}

// Deps are the collaborators a Pipeline drives. Resolver, Transcriber and
// History are optional.
type Deps struct {
	Registry    *storage.Registry
	Files       *storage.LocalStorage
	Acquirer    Acquirer
	Converter   Converter
	Resolver    MetadataResolver
	Transcriber Transcriber
	History     HistoryRecorder
	Workers     *queue.Scheduler
	// TranscriptionWorkers runs transcription jobs apart from conversions.
	TranscriptionWorkers *queue.Scheduler
}

// SubmitRequest is a validated-on-entry conversion request.
type SubmitRequest struct {
	SourceURL  string
	Format     string
	Transcribe bool
}

// Pipeline turns submitted URLs into downloadable audio resources.
type Pipeline struct {
	Deps
}

func New(deps Deps) *Pipeline {
	return &Pipeline{Deps: deps}
}

// TranscriptionEnabled reports whether a transcription provider is wired.
func (p *Pipeline) TranscriptionEnabled() bool {
	return p.Transcriber != nil && p.TranscriptionWorkers != nil
}

// Submit validates req, registers a pending task and queues its job. It
// never waits for the job.
func (p *Pipeline) Submit(req SubmitRequest) (types.Task, error) {
	sourceURL := strings.TrimSpace(req.SourceURL)
	if !acquire.ValidateURL(sourceURL) {
		return types.Task{}, &types.ValidationError{Field: "sourceUrl", Message: "a valid http(s) URL is required"}
	}

	format := req.Format
	if strings.TrimSpace(format) == "" {
		format = transcription.DefaultFormat
	}
	f, ok := transcription.LookupFormat(format)
	if !ok {
		return types.Task{}, &types.ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("unsupported format %q, use one of %s", format, strings.Join(transcription.SupportedFormats(), ", ")),
		}
	}
	if req.Transcribe && !p.TranscriptionEnabled() {
		return types.Task{}, &types.ValidationError{Field: "transcribe", Message: "transcription is not configured on this server"}
	}

	task := p.Registry.Tasks.Create(storage.CreateOptions{
		SourceURL:  sourceURL,
		VideoID:    acquire.VideoID(sourceURL),
		Format:     f.Name,
		Transcribe: req.Transcribe,
	})

	job := queue.NewJob(task.ID, "convert", func(ctx context.Context) error {
		return p.process(ctx, task.ID)
	})
	job.OnFailure = func(err error) {
		// process already failed the task; this covers panics
		p.fail(task.ID, err)
	}
	if err := p.Workers.Enqueue(job); err != nil {
		p.Registry.Tasks.Delete(task.ID)
		return types.Task{}, fmt.Errorf("enqueue task: %w", err)
	}

	logrus.WithFields(logrus.Fields{"task": task.ID, "url": sourceURL, "format": f.Name, "transcribe": req.Transcribe}).
		Info("Task accepted")
	return task, nil
}

func (p *Pipeline) process(ctx context.Context, taskID string) error {
	log := logrus.WithField("task", taskID)
	tasks := p.Registry.Tasks

	task, err := tasks.Transition(taskID, types.StatusProcessing)
	if err != nil {
		return err
	}
	tasks.SetProgress(taskID, progressStarted)

	title := p.resolveTitle(ctx, task)
	tasks.SetTitle(taskID, title)
	tasks.SetProgress(taskID, progressMetadata)

	if _, err := tasks.Transition(taskID, types.StatusDownloading); err != nil {
		return p.fail(taskID, err)
	}
	res, err := p.Acquirer.Run(ctx, acquire.Target{
		URL:     task.SourceURL,
		VideoID: task.VideoID,
		WorkDir: p.Files.Dir(),
		Prefix:  taskID,
		OnProgress: func(f float64) {
			tasks.SetProgress(taskID, scale(progressMetadata, progressDownloadEnd, f))
		},
	})
	if err != nil {
		return p.fail(taskID, err)
	}
	tasks.SetStrategy(taskID, res.Strategy)
	tasks.SetProgress(taskID, progressDownloadEnd)
	log.Infof("Acquired %s via %s", res.Path, res.Strategy)

	output := p.Files.OutputPath(taskID, task.Format)
	if transcription.NeedsConversion(res.Path, task.Format) {
		if _, err := tasks.Transition(taskID, types.StatusConverting); err != nil {
			return p.fail(taskID, err)
		}
		_, err := p.Converter.Convert(ctx, res.Path, output, task.Format, func(f float64) {
			tasks.SetProgress(taskID, scale(progressConvertStart, progressConvertEnd, f))
		})
		if err != nil {
			return p.fail(taskID, err)
		}
		tasks.SetProgress(taskID, progressConvertEnd)
	} else if res.Path != output {
		if err := os.Rename(res.Path, output); err != nil {
			return p.fail(taskID, fmt.Errorf("move artifact: %w", err))
		}
	}

	p.Registry.Resources.Register(taskID, output, storage.DownloadFilename(title, task.VideoID, task.Format), task.Format)
	task, err = tasks.Transition(taskID, types.StatusCompleted)
	if err != nil {
		p.Registry.Resources.Remove(taskID)
		return p.fail(taskID, err)
	}
	p.Files.RemoveTaskFiles(taskID, output)
	log.Infof("Task completed: %s", title)
	p.record(task)

	if task.Transcription.Requested {
		p.scheduleTranscription(taskID, output)
	}
	return nil
}

// resolveTitle looks up the source title; lookup failures fall back to the
// video id.
func (p *Pipeline) resolveTitle(ctx context.Context, task types.Task) string {
	if p.Resolver == nil {
		return task.VideoID
	}
	md, err := p.Resolver.Resolve(ctx, task.SourceURL)
	if err != nil || strings.TrimSpace(md.Title) == "" {
		logrus.WithField("task", task.ID).Warnf("Metadata lookup failed, using video id as title: %v", err)
		return task.VideoID
	}
	return strings.TrimSpace(md.Title)
}

func (p *Pipeline) scheduleTranscription(taskID, audioPath string) {
	job := queue.NewJob(taskID, "transcribe", func(ctx context.Context) error {
		err := p.Transcriber.Run(ctx, taskID, audioPath)
		if task, gerr := p.Registry.Tasks.Get(taskID); gerr == nil {
			p.record(task)
		}
		return err
	})
	job.OnFailure = func(err error) {
		var failure *types.TranscriptionFailure
		if errors.As(err, &failure) {
			return
		}
		// panics and bookkeeping errors still close out the sub-state
		p.Registry.Tasks.FailTranscription(taskID, &types.TranscriptionFailure{Stage: "workflow", Err: err})
	}
	if err := p.TranscriptionWorkers.Enqueue(job); err != nil {
		p.Registry.Tasks.FailTranscription(taskID, &types.TranscriptionFailure{Stage: "enqueue", Err: err})
	}
}

// fail moves the task to failed, records it and removes its working files.
// It returns cause so callers can hand it back to the scheduler.
func (p *Pipeline) fail(taskID string, cause error) error {
	p.Files.RemoveTaskFiles(taskID)
	task, err := p.Registry.Tasks.Fail(taskID, cause)
	if err != nil {
		// already terminal or expired
		return cause
	}
	logrus.WithField("task", taskID).Errorf("Task failed: %v", cause)
	p.record(task)
	return cause
}

func (p *Pipeline) record(task types.Task) {
	if p.History == nil {
		return
	}
	entry := storage.HistoryEntry{
		TaskID:              task.ID,
		SourceURL:           task.SourceURL,
		Title:               task.Title,
		Format:              task.Format,
		Status:              string(task.Status),
		Strategy:            task.Strategy,
		Error:               task.Error,
		TranscriptionStatus: string(task.Transcription.Status),
		Language:            task.Transcription.DetectedLanguage,
		CreatedAt:           task.CreatedAt,
	}
	if tr, err := p.Registry.Transcripts.Get(task.ID); err == nil {
		entry.ArchiveURL = tr.ArchiveURL
	}
	if err := p.History.Record(entry); err != nil {
		logrus.Warnf("Failed to record history for %s: %v", task.ID, err)
	}
}

// scale maps a 0..1 fraction onto the [from, to] percentage band.
func scale(from, to int, fraction float64) int {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return from + int(fraction*float64(to-from))
}
