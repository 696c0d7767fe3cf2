package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
)

// AssemblyAIProvider uploads audio and polls transcripts through the
// AssemblyAI SDK.
type AssemblyAIProvider struct {
	client *aai.Client
}

// NewAssemblyAIProvider builds a provider; an empty baseURL keeps the SDK's
// default endpoint and a nil client gets a five minute timeout.
func NewAssemblyAIProvider(apiKey, baseURL string, client *http.Client) *AssemblyAIProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	opts := []aai.ClientOption{
		aai.WithAPIKey(apiKey),
		aai.WithHTTPClient(client),
	}
	if baseURL != "" {
		opts = append(opts, aai.WithBaseURL(baseURL))
	}
	return &AssemblyAIProvider{client: aai.NewClientWithOptions(opts...)}
}

func (p *AssemblyAIProvider) Name() string { return "assemblyai" }

// Submit uploads the file and creates a transcript with language detection.
func (p *AssemblyAIProvider) Submit(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	uploadURL, err := p.client.Upload(ctx, f)
	if err != nil {
		return "", fmt.Errorf("upload: %w", assemblyError(err))
	}
	if uploadURL == "" {
		return "", errors.New("upload: empty upload_url in response")
	}

	tr, err := p.client.Transcripts.SubmitFromURL(ctx, uploadURL, &aai.TranscriptOptionalParams{
		LanguageDetection: aai.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("create transcript: %w", assemblyError(err))
	}
	id := aai.ToString(tr.ID)
	if id == "" {
		return "", fmt.Errorf("create transcript: no id returned (%s)", aai.ToString(tr.Error))
	}
	return id, nil
}

func (p *AssemblyAIProvider) Poll(ctx context.Context, handle string) (*Job, error) {
	tr, err := p.client.Transcripts.Get(ctx, handle)
	if err != nil {
		return nil, assemblyError(err)
	}

	raw, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}

	job := &Job{
		ID:       aai.ToString(tr.ID),
		Text:     aai.ToString(tr.Text),
		Language: string(tr.LanguageCode),
		Error:    aai.ToString(tr.Error),
		Raw:      raw,
	}
	switch tr.Status {
	case aai.TranscriptStatusCompleted:
		job.Status = JobCompleted
	case aai.TranscriptStatusError:
		job.Status = JobError
	case aai.TranscriptStatusQueued:
		job.Status = JobQueued
	default:
		job.Status = JobProcessing
	}
	return job, nil
}

// assemblyError flattens the SDK's API error into status and message.
func assemblyError(err error) error {
	var apiErr aai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("assemblyai: status %d: %s", apiErr.Status, apiErr.Message)
	}
	return err
}
