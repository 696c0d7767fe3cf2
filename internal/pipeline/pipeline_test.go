package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

type fakeAcquirer struct {
	ext string
	err error
}

func (f fakeAcquirer) Run(ctx context.Context, target acquire.Target) (*acquire.Result, error) {
	if f.err != nil {
		return nil, &acquire.AcquisitionFailure{Attempts: []acquire.Attempt{{Strategy: "slow-path", Err: f.err}}}
	}
	path := filepath.Join(target.WorkDir, target.Prefix+"-0."+f.ext)
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return nil, err
	}
	if target.OnProgress != nil {
		target.OnProgress(0.5)
		target.OnProgress(1)
	}
	return &acquire.Result{Path: path, Strategy: "direct"}, nil
}

type fakeConverter struct {
	err   error
	calls int
}

func (f *fakeConverter) Convert(ctx context.Context, in, out, format string, onProgress func(float64)) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if err := os.WriteFile(out, []byte("ID3"), 0o644); err != nil {
		return "", err
	}
	os.Remove(in)
	onProgress(0.5)
	return out, nil
}

type fakeResolver struct{ err error }

func (f fakeResolver) Resolve(ctx context.Context, rawURL string) (acquire.Metadata, error) {
	if f.err != nil {
		return acquire.Metadata{}, f.err
	}
	return acquire.Metadata{ID: "abc123", Title: "Never Gonna Give You Up"}, nil
}

type fakeTranscriber struct {
	reg *storage.Registry
}

func (f fakeTranscriber) Run(ctx context.Context, taskID, audioPath string) error {
	f.reg.Tasks.TransitionTranscription(taskID, types.TranscriptionUploading)
	f.reg.Tasks.TransitionTranscription(taskID, types.TranscriptionProcessing)
	f.reg.Transcripts.Save(types.Transcript{ID: taskID, Text: "lyrics", DetectedLanguage: "en"})
	_, err := f.reg.Tasks.CompleteTranscription(taskID, "en")
	return err
}

type memoryHistory struct {
	mu      sync.Mutex
	entries map[string]storage.HistoryEntry
}

func (m *memoryHistory) Record(e storage.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]storage.HistoryEntry)
	}
	m.entries[e.TaskID] = e
	return nil
}

func (m *memoryHistory) get(id string) (storage.HistoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

type harness struct {
	p       *Pipeline
	reg     *storage.Registry
	history *memoryHistory
	dir     string
}

func newHarness(t *testing.T, acq Acquirer, conv Converter, resolver MetadataResolver) *harness {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg := storage.NewRegistry(storage.TTLs{Task: time.Hour, Resource: time.Hour, Transcript: time.Hour})
	history := &memoryHistory{}
	p := New(Deps{
		Registry:             reg,
		Files:                files,
		Acquirer:             acq,
		Converter:            conv,
		Resolver:             resolver,
		Transcriber:          fakeTranscriber{reg: reg},
		History:              history,
		Workers:              queue.NewScheduler("convert", 2),
		TranscriptionWorkers: queue.NewScheduler("transcribe", 2),
	})
	return &harness{p: p, reg: reg, history: history, dir: dir}
}

func (h *harness) waitFor(t *testing.T, id string, done func(types.Task) bool) types.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := h.reg.Tasks.Get(id)
		if err == nil && done(task) {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := h.reg.Tasks.Get(id)
	t.Fatalf("task %s did not settle: %+v", id, task)
	return task
}

func (h *harness) waitHistory(t *testing.T, id string, done func(storage.HistoryEntry) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := h.history.get(id); ok && done(e) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	e, _ := h.history.get(id)
	t.Fatalf("history for %s did not settle: %+v", id, e)
}

func terminal(task types.Task) bool { return task.Status.IsTerminal() }

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, fakeAcquirer{ext: "webm"}, &fakeConverter{}, nil)
	for _, req := range []SubmitRequest{
		{SourceURL: "not a url"},
		{SourceURL: ""},
		{SourceURL: "https://youtu.be/abc123", Format: "exe"},
	} {
		_, err := h.p.Submit(req)
		var ve *types.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Submit(%+v) err = %v, want ValidationError", req, err)
		}
	}
	if h.reg.Tasks.Store().Len() != 0 {
		t.Fatal("rejected requests must not create tasks")
	}
}

func TestPipelineConvertsAndTranscribes(t *testing.T) {
	conv := &fakeConverter{}
	h := newHarness(t, fakeAcquirer{ext: "webm"}, conv, fakeResolver{})

	task, err := h.p.Submit(SubmitRequest{SourceURL: "https://youtu.be/abc123", Transcribe: true})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Status != types.StatusPending || task.Format != "mp3" {
		t.Fatalf("submitted task = %+v", task)
	}

	done := h.waitFor(t, task.ID, func(t types.Task) bool {
		return t.Transcription.Status == types.TranscriptionCompleted
	})
	if done.Status != types.StatusCompleted || done.Progress != 100 || done.Strategy != "direct" {
		t.Fatalf("task = %+v", done)
	}
	if conv.calls != 1 {
		t.Fatalf("converter calls = %d, want 1", conv.calls)
	}

	res, err := h.reg.Resources.Get(task.ID)
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	if res.Filename != "Never Gonna Give You Up.mp3" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if res.FilePath != filepath.Join(h.dir, task.ID+".mp3") {
		t.Fatalf("path = %s", res.FilePath)
	}

	leftovers, _ := filepath.Glob(filepath.Join(h.dir, task.ID+"-*"))
	if len(leftovers) != 0 {
		t.Fatalf("intermediate files left: %v", leftovers)
	}

	h.waitHistory(t, task.ID, func(e storage.HistoryEntry) bool {
		return e.TranscriptionStatus == string(types.TranscriptionCompleted) && e.Language == "en"
	})
}

func TestPipelineSkipsConversionForMatchingFormat(t *testing.T) {
	conv := &fakeConverter{}
	h := newHarness(t, fakeAcquirer{ext: "m4a"}, conv, fakeResolver{err: errors.New("metadata blocked")})

	task, err := h.p.Submit(SubmitRequest{SourceURL: "https://youtu.be/abc123", Format: "m4a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := h.waitFor(t, task.ID, terminal)
	if done.Status != types.StatusCompleted {
		t.Fatalf("status = %s (%s)", done.Status, done.Error)
	}
	if conv.calls != 0 {
		t.Fatal("no conversion expected for m4a -> m4a")
	}
	if done.Title != "abc123" {
		t.Fatalf("title = %q, want video id fallback", done.Title)
	}
	res, err := h.reg.Resources.Get(task.ID)
	if err != nil || filepath.Base(res.FilePath) != task.ID+".m4a" {
		t.Fatalf("resource = %+v, err = %v", res, err)
	}
}

func TestPipelineAcquisitionFailure(t *testing.T) {
	h := newHarness(t, fakeAcquirer{err: errors.New("HTTP Error 403: Forbidden")}, &fakeConverter{}, fakeResolver{})

	task, _ := h.p.Submit(SubmitRequest{SourceURL: "https://youtu.be/abc123", Transcribe: true})
	done := h.waitFor(t, task.ID, terminal)

	if done.Status != types.StatusFailed || done.Error == "" {
		t.Fatalf("task = %+v, want failed with message", done)
	}
	if done.Transcription.Status != types.TranscriptionPending {
		t.Fatalf("transcription = %s, should never start", done.Transcription.Status)
	}
	if _, err := h.reg.Resources.Get(task.ID); !types.IsNotFound(err) {
		t.Fatal("failed task must not expose a resource")
	}
	h.waitHistory(t, task.ID, func(e storage.HistoryEntry) bool {
		return e.Status == string(types.StatusFailed) && e.Error != ""
	})
}

func TestPipelineConversionFailure(t *testing.T) {
	h := newHarness(t, fakeAcquirer{ext: "webm"}, &fakeConverter{err: errors.New("ffmpeg failed (exit 1)")}, fakeResolver{})

	task, _ := h.p.Submit(SubmitRequest{SourceURL: "https://youtu.be/abc123"})
	done := h.waitFor(t, task.ID, terminal)
	if done.Status != types.StatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	files, _ := filepath.Glob(filepath.Join(h.dir, task.ID+"*"))
	if len(files) != 0 {
		t.Fatalf("working files left after failure: %v", files)
	}
}

func TestSubmitRejectsTranscriptionWithoutProvider(t *testing.T) {
	h := newHarness(t, fakeAcquirer{ext: "webm"}, &fakeConverter{}, nil)
	h.p.Transcriber = nil
	_, err := h.p.Submit(SubmitRequest{SourceURL: "https://youtu.be/abc123", Transcribe: true})
	var ve *types.ValidationError
	if !errors.As(err, &ve) || ve.Field != "transcribe" {
		t.Fatalf("err = %v", err)
	}
}

func TestScale(t *testing.T) {
	if scale(10, 70, 0.5) != 40 || scale(70, 90, 2) != 90 || scale(10, 70, -1) != 10 {
		t.Fatal("scale out of band")
	}
}
