package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
	"github.com/codebuildervaibhav/audio-relay/internal/pipeline"
	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/scraper"
	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

type blockedAcquirer struct{}

func (blockedAcquirer) Run(ctx context.Context, target acquire.Target) (*acquire.Result, error) {
	return nil, errors.New("blocked")
}

type noopConverter struct{}

func (noopConverter) Convert(ctx context.Context, in, out, format string, onProgress func(float64)) (string, error) {
	return out, nil
}

type stubStats struct{ err error }

func (s stubStats) Collect(ctx context.Context, url string) (scraper.Stats, error) {
	if s.err != nil {
		return scraper.Stats{}, s.err
	}
	return scraper.Stats{VideoID: "abc123", Title: "Song", ViewCount: 10, Source: "ytdlp"}, nil
}

type testEnv struct {
	app *fiber.App
	reg *storage.Registry
	dir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	reg := storage.NewRegistry(storage.TTLs{Task: time.Hour, Resource: time.Hour, Transcript: time.Hour})
	workers := queue.NewScheduler("convert", 1)
	p := pipeline.New(pipeline.Deps{
		Registry:  reg,
		Files:     files,
		Acquirer:  blockedAcquirer{},
		Converter: noopConverter{},
		Workers:   workers,
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	New(Deps{
		Pipeline:   p,
		Registry:   reg,
		Stats:      stubStats{},
		Schedulers: []*queue.Scheduler{workers},
		Version:    "1.1.0",
		PublicURL:  "http://relay.test",
	}).Register(app)
	return &testEnv{app: app, reg: reg, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, target, body string) (int, []byte, map[string][]string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, resp.Header
}

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return m
}

// completeTask walks a task to completed and registers its audio file.
func (e *testEnv) completeTask(t *testing.T, transcribe bool) types.Task {
	t.Helper()
	task := e.reg.Tasks.Create(storage.CreateOptions{SourceURL: "https://youtu.be/abc123", Format: "mp3", Title: "Song", Transcribe: transcribe})
	for _, s := range []types.Status{types.StatusProcessing, types.StatusDownloading, types.StatusConverting, types.StatusCompleted} {
		if _, err := e.reg.Tasks.Transition(task.ID, s); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(e.dir, task.ID+".mp3")
	os.WriteFile(path, []byte("ID3-audio"), 0o644)
	e.reg.Resources.Register(task.ID, path, "Song.mp3", "mp3")
	task, _ = e.reg.Tasks.Get(task.ID)
	return task
}

func TestConvertRejectsInvalidInput(t *testing.T) {
	e := newTestEnv(t)
	for _, body := range []string{
		`{"sourceUrl":"not-a-url"}`,
		`{"sourceUrl":"https://youtu.be/abc123","format":"exe"}`,
		`{}`,
		`{bad json`,
	} {
		status, data, _ := e.do(t, "POST", "/convert", body)
		if status != fiber.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, status)
			continue
		}
		if decode(t, data)["error"] == nil {
			t.Errorf("body %s: missing error key in %s", body, data)
		}
	}
	if e.reg.Tasks.Store().Len() != 0 {
		t.Fatal("no task should be created for rejected requests")
	}
}

func TestConvertAcceptsTask(t *testing.T) {
	e := newTestEnv(t)
	status, data, _ := e.do(t, "POST", "/convert", `{"url":"https://youtu.be/abc123"}`)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d: %s", status, data)
	}
	m := decode(t, data)
	id, _ := m["taskId"].(string)
	if id == "" {
		t.Fatalf("no taskId in %s", data)
	}
	if m["statusUrl"] != "http://relay.test/status/"+id || m["downloadUrl"] != "http://relay.test/download/"+id {
		t.Fatalf("links = %v / %v", m["statusUrl"], m["downloadUrl"])
	}
	if _, ok := m["transcriptionUrl"]; ok {
		t.Fatal("transcriptionUrl only appears when transcription is requested")
	}
	if m["format"] != "mp3" {
		t.Fatalf("format = %v, want default mp3", m["format"])
	}
}

func TestConvertTranscriptionNotConfigured(t *testing.T) {
	e := newTestEnv(t)
	status, _, _ := e.do(t, "POST", "/convert", `{"sourceUrl":"https://youtu.be/abc123","transcribe":true}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestTaskStatus(t *testing.T) {
	e := newTestEnv(t)

	status, _, _ := e.do(t, "GET", "/status/unknown", "")
	if status != fiber.StatusNotFound {
		t.Fatalf("unknown task status = %d, want 404", status)
	}

	pending := e.reg.Tasks.Create(storage.CreateOptions{SourceURL: "https://youtu.be/x", Format: "mp3"})
	_, data, _ := e.do(t, "GET", "/status/"+pending.ID, "")
	m := decode(t, data)
	if m["status"] != "pending" || m["downloadUrl"] != nil {
		t.Fatalf("pending payload = %s", data)
	}

	done := e.completeTask(t, false)
	_, data, _ = e.do(t, "GET", "/status/"+done.ID, "")
	m = decode(t, data)
	if m["downloadUrl"] != "http://relay.test/download/"+done.ID || m["progressPercent"] != float64(100) {
		t.Fatalf("completed payload = %s", data)
	}
	if _, ok := m["transcription"]; ok {
		t.Fatal("transcription block only appears when requested")
	}
}

func TestStatusRepeatedReadsAreIdentical(t *testing.T) {
	e := newTestEnv(t)
	pending := e.reg.Tasks.Create(storage.CreateOptions{SourceURL: "https://youtu.be/x", Format: "mp3", Transcribe: true})
	done := e.completeTask(t, true)

	for _, id := range []string{pending.ID, done.ID} {
		_, first, _ := e.do(t, "GET", "/status/"+id, "")
		_, second, _ := e.do(t, "GET", "/status/"+id, "")
		if string(first) != string(second) {
			t.Fatalf("status bodies differ without a state change:\n%s\n%s", first, second)
		}
	}
}

func TestExpiredEntriesAreNotServed(t *testing.T) {
	e := newTestEnv(t)
	now := time.Date(2025, 1, 23, 12, 0, 0, 0, time.UTC)
	e.reg.SetClock(func() time.Time { return now })

	task := e.completeTask(t, true)
	e.reg.Transcripts.Save(types.Transcript{ID: task.ID, Text: "hello"})
	res, _ := e.reg.Resources.Get(task.ID)

	now = now.Add(time.Hour - time.Nanosecond)
	if status, _, _ := e.do(t, "GET", "/transcription/"+task.ID, ""); status != fiber.StatusOK {
		t.Fatalf("transcript before expiry = %d, want 200", status)
	}

	// no sweeper runs: reads at expiresAt must evict on their own
	now = now.Add(time.Nanosecond)
	if status, _, _ := e.do(t, "GET", "/download/"+task.ID, ""); status != fiber.StatusNotFound {
		t.Fatalf("download at expiry = %d, want 404", status)
	}
	if _, err := os.Stat(res.FilePath); !os.IsNotExist(err) {
		t.Fatal("expired download file should be deleted on read")
	}
	if status, _, _ := e.do(t, "GET", "/transcription/"+task.ID, ""); status != fiber.StatusNotFound {
		t.Fatalf("transcription at expiry = %d, want 404", status)
	}
	if status, _, _ := e.do(t, "GET", "/status/"+task.ID, ""); status != fiber.StatusNotFound {
		t.Fatalf("status at expiry = %d, want 404", status)
	}
}

func TestStatusOmitsDownloadURLWithoutResource(t *testing.T) {
	e := newTestEnv(t)
	task := e.completeTask(t, false)
	res, _ := e.reg.Resources.Get(task.ID)
	os.Remove(res.FilePath)

	_, data, _ := e.do(t, "GET", "/status/"+task.ID, "")
	m := decode(t, data)
	if m["status"] != "completed" || m["downloadUrl"] != nil {
		t.Fatalf("payload = %s, want no downloadUrl for a vanished file", data)
	}
}

func TestStatusIncludesTranscription(t *testing.T) {
	e := newTestEnv(t)
	task := e.completeTask(t, true)
	e.reg.Tasks.TransitionTranscription(task.ID, types.TranscriptionUploading)
	e.reg.Tasks.TransitionTranscription(task.ID, types.TranscriptionProcessing)
	e.reg.Transcripts.Save(types.Transcript{ID: task.ID, Text: "hello world", DetectedLanguage: "en"})
	e.reg.Tasks.CompleteTranscription(task.ID, "en")

	_, data, _ := e.do(t, "GET", "/status/"+task.ID+"?includeTranscription=true", "")
	m := decode(t, data)
	sub, ok := m["transcription"].(map[string]interface{})
	if !ok {
		t.Fatalf("no transcription block in %s", data)
	}
	if sub["status"] != "completed" || sub["text"] != "hello world" || sub["detectedLanguage"] != "en" {
		t.Fatalf("transcription = %v", sub)
	}
	if m["transcriptionStatus"] != "completed" || m["transcriptionRequested"] != true {
		t.Fatalf("flat fields = %s", data)
	}

	_, data, _ = e.do(t, "GET", "/status/"+task.ID, "")
	sub = decode(t, data)["transcription"].(map[string]interface{})
	if _, ok := sub["text"]; ok {
		t.Fatal("text only included on request")
	}
}

func TestDownloadMP3(t *testing.T) {
	e := newTestEnv(t)
	task := e.completeTask(t, false)

	status, body, header := e.do(t, "GET", "/download/"+task.ID, "")
	if status != fiber.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	if got := strings.Join(header["Content-Type"], ""); got != "audio/mpeg" {
		t.Fatalf("content type = %q", got)
	}
	if got := strings.Join(header["Content-Disposition"], ""); got != `attachment; filename="Song.mp3"` {
		t.Fatalf("content disposition = %q", got)
	}
	if string(body) != "ID3-audio" {
		t.Fatalf("body = %q", body)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	e := newTestEnv(t)
	task := e.completeTask(t, false)
	res, _ := e.reg.Resources.Get(task.ID)
	os.Remove(res.FilePath)

	status, data, _ := e.do(t, "GET", "/download/"+task.ID, "")
	if status != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if decode(t, data)["error"] == nil {
		t.Fatal("missing error key")
	}
	if e.reg.Resources.Store().Len() != 0 {
		t.Fatal("entry for a missing file should be removed")
	}

	if status, _, _ := e.do(t, "GET", "/download/nope", ""); status != fiber.StatusNotFound {
		t.Fatalf("unknown id status = %d", status)
	}
}

func TestTranscriptionEndpoint(t *testing.T) {
	e := newTestEnv(t)

	pending := e.completeTask(t, true)
	status, data, _ := e.do(t, "GET", "/transcription/"+pending.ID, "")
	if status != fiber.StatusAccepted || decode(t, data)["status"] != "pending" {
		t.Fatalf("pending: %d %s", status, data)
	}

	if status, _, _ := e.do(t, "GET", "/transcription/"+pending.ID+"?format=xml", ""); status != fiber.StatusBadRequest {
		t.Fatalf("format=xml status = %d, want 400", status)
	}

	// provider unreachable: the task stays completed, the transcript never appears
	failed := e.completeTask(t, true)
	e.reg.Tasks.TransitionTranscription(failed.ID, types.TranscriptionUploading)
	e.reg.Tasks.FailTranscription(failed.ID, &types.TranscriptionFailure{Stage: "upload", Err: errors.New("dial tcp: connection refused")})
	if status, _, _ := e.do(t, "GET", "/transcription/"+failed.ID, ""); status != fiber.StatusNotFound {
		t.Fatalf("failed transcription status = %d, want 404", status)
	}
	_, data, _ = e.do(t, "GET", "/status/"+failed.ID, "")
	m := decode(t, data)
	if m["status"] != "completed" || m["transcriptionStatus"] != "failed" || m["transcriptionError"] == nil {
		t.Fatalf("status after provider failure = %s", data)
	}

	done := e.completeTask(t, true)
	e.reg.Transcripts.Save(types.Transcript{ID: done.ID, Text: "olá mundo", DetectedLanguage: "pt", Raw: json.RawMessage(`{"id":"tr_1"}`)})
	status, body, header := e.do(t, "GET", "/transcription/"+done.ID, "")
	if status != fiber.StatusOK || string(body) != "olá mundo" {
		t.Fatalf("text: %d %q", status, body)
	}
	if !strings.HasPrefix(strings.Join(header["Content-Type"], ""), "text/plain") {
		t.Fatalf("content type = %v", header["Content-Type"])
	}

	_, data, _ = e.do(t, "GET", "/transcription/"+done.ID+"?format=json", "")
	m = decode(t, data)
	if m["text"] != "olá mundo" || m["language"] != "pt" || m["taskId"] != done.ID {
		t.Fatalf("json envelope = %s", data)
	}
	if raw, ok := m["raw"].(map[string]interface{}); !ok || raw["id"] != "tr_1" {
		t.Fatalf("raw = %v", m["raw"])
	}

	if status, _, _ := e.do(t, "GET", "/transcription/unknown", ""); status != fiber.StatusNotFound {
		t.Fatalf("unknown status = %d", status)
	}
}

func TestServiceStatus(t *testing.T) {
	e := newTestEnv(t)
	status, data, _ := e.do(t, "GET", "/status", "")
	m := decode(t, data)
	if status != fiber.StatusOK || m["status"] != "online" || m["version"] != "1.1.0" {
		t.Fatalf("status: %d %s", status, data)
	}
}

func TestSourceStats(t *testing.T) {
	e := newTestEnv(t)
	if status, _, _ := e.do(t, "GET", "/stats", ""); status != fiber.StatusBadRequest {
		t.Fatalf("missing url status = %d, want 400", status)
	}
	status, data, _ := e.do(t, "GET", "/stats?sourceUrl=https://youtu.be/abc123", "")
	if status != fiber.StatusOK || decode(t, data)["viewCount"] != float64(10) {
		t.Fatalf("stats: %d %s", status, data)
	}
}

func TestUnknownRouteIsJSON(t *testing.T) {
	e := newTestEnv(t)
	status, data, _ := e.do(t, "GET", "/nope", "")
	if status != fiber.StatusNotFound || decode(t, data)["error"] == nil {
		t.Fatalf("unknown route: %d %s", status, data)
	}
}

func TestSettled(t *testing.T) {
	running := types.Task{Status: types.StatusDownloading}
	if settled(running) {
		t.Fatal("running task is not settled")
	}
	waiting := types.Task{Status: types.StatusCompleted, Transcription: types.TranscriptionState{Requested: true, Status: types.TranscriptionProcessing}}
	if settled(waiting) {
		t.Fatal("completed task with transcription in flight is not settled")
	}
	if !settled(types.Task{Status: types.StatusFailed, Transcription: types.TranscriptionState{Requested: true, Status: types.TranscriptionPending}}) {
		t.Fatal("failed task is settled")
	}
}
