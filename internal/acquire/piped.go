package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PipedStrategy resolves an audio stream through a Piped-compatible mirror
// API and downloads it directly, bypassing yt-dlp entirely.
type PipedStrategy struct {
	name    string
	apiBase string
	client  *http.Client
	timeout time.Duration
}

// PipedOptions configures one mirror API strategy.
type PipedOptions struct {
	Name    string
	API     string
	Proxy   string
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

func NewPipedStrategy(opts PipedOptions) (*PipedStrategy, error) {
	if opts.API == "" {
		return nil, fmt.Errorf("strategy %s: api is required", opts.Name)
	}

	client := opts.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.Proxy != "" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: invalid proxy: %w", opts.Name, err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		client = &http.Client{Transport: transport}
	}

	return &PipedStrategy{
		name:    opts.Name,
		apiBase: strings.TrimRight(opts.API, "/"),
		client:  client,
		timeout: opts.Timeout,
	}, nil
}

func (s *PipedStrategy) Name() string { return s.name }

type pipedStreams struct {
	Title        string        `json:"title"`
	Error        string        `json:"error"`
	AudioStreams []pipedStream `json:"audioStreams"`
}

type pipedStream struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Bitrate  int    `json:"bitrate"`
	Format   string `json:"format"`
}

func (s *PipedStrategy) Fetch(ctx context.Context, target Target) (string, error) {
	id, ok := YouTubeID(target.URL)
	if !ok {
		return "", errors.New("mirror API only serves YouTube videos")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stream, err := s.bestAudio(ctx, id)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(target.WorkDir, target.Prefix+"."+streamExt(stream))
	if err := s.download(ctx, stream.URL, outPath, target); err != nil {
		os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}

func (s *PipedStrategy) bestAudio(ctx context.Context, id string) (pipedStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+"/streams/"+url.PathEscape(id), nil)
	if err != nil {
		return pipedStream{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return pipedStream{}, fmt.Errorf("mirror API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipedStream{}, fmt.Errorf("mirror API status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var streams pipedStreams
	if err := json.NewDecoder(resp.Body).Decode(&streams); err != nil {
		return pipedStream{}, fmt.Errorf("decode mirror API response: %w", err)
	}
	if streams.Error != "" {
		return pipedStream{}, fmt.Errorf("mirror API: %s", streams.Error)
	}

	var best pipedStream
	for _, st := range streams.AudioStreams {
		if st.URL != "" && st.Bitrate > best.Bitrate {
			best = st
		}
	}
	if best.URL == "" {
		return pipedStream{}, errors.New("mirror API returned no audio streams")
	}
	return best, nil
}

func (s *PipedStrategy) download(ctx context.Context, streamURL, outPath string, target Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream download status %d", resp.StatusCode)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}

	w := &progressWriter{total: resp.ContentLength, report: target.progress}
	n, err := io.Copy(f, io.TeeReader(resp.Body, w))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("stream download: %w", err)
	}
	if n == 0 {
		return errors.New("stream download returned an empty body")
	}
	return nil
}

// streamExt maps a stream's mime type to a file extension.
func streamExt(st pipedStream) string {
	mt, _, _ := mime.ParseMediaType(st.MimeType)
	switch mt {
	case "audio/mp4", "audio/m4a":
		return "m4a"
	case "audio/webm":
		return "webm"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	}
	if f := strings.ToLower(st.Format); f != "" && !strings.ContainsAny(f, "/ ") {
		return f
	}
	return "audio"
}

type progressWriter struct {
	total   int64
	written int64
	report  func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		w.report(float64(w.written) / float64(w.total))
	}
	return len(p), nil
}
