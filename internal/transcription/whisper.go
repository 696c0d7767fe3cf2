package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// WhisperProvider transcribes through OpenAI's Whisper endpoint. The API
// is synchronous, so Submit does the work and Poll hands back the result.
type WhisperProvider struct {
	client  *openai.Client
	model   string
	mu      sync.Mutex
	results map[string]*Job
}

// NewWhisperProvider creates a provider; baseURL may point at any
// OpenAI-compatible server.
func NewWhisperProvider(apiKey, baseURL, model string) *WhisperProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperProvider{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		results: make(map[string]*Job),
	}
}

func (p *WhisperProvider) Name() string { return "openai" }

// whisperOutput is the normalized raw payload kept with the transcript.
type whisperOutput struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration float64         `json:"duration"`
	Segments []types.Segment `json:"segments"`
}

func (p *WhisperProvider) Submit(ctx context.Context, audioPath string) (string, error) {
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	segments := make([]types.Segment, len(resp.Segments))
	for i, seg := range resp.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	raw, _ := json.Marshal(whisperOutput{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: segments,
	})

	handle := uuid.New().String()
	p.mu.Lock()
	p.results[handle] = &Job{
		ID:       handle,
		Status:   JobCompleted,
		Text:     resp.Text,
		Language: whisperLanguageCode(resp.Language),
		Raw:      raw,
	}
	p.mu.Unlock()
	return handle, nil
}

func (p *WhisperProvider) Poll(ctx context.Context, handle string) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.results[handle]
	if !ok {
		return nil, fmt.Errorf("unknown whisper handle %s", handle)
	}
	delete(p.results, handle)
	return job, nil
}

// whisperLanguageCode maps the language names Whisper reports to ISO codes
// for the common cases and passes anything else through.
func whisperLanguageCode(lang string) string {
	codes := map[string]string{
		"english": "en", "portuguese": "pt", "spanish": "es", "french": "fr",
		"german": "de", "italian": "it", "japanese": "ja", "chinese": "zh",
		"russian": "ru", "hindi": "hi", "korean": "ko", "dutch": "nl",
	}
	if code, ok := codes[strings.ToLower(lang)]; ok {
		return code
	}
	return lang
}
