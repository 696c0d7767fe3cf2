package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Metadata describes the source media as reported by yt-dlp.
type Metadata struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	ViewCount int64   `json:"view_count"`
	LikeCount int64   `json:"like_count"`
	Ext       string  `json:"ext"`
}

// MetadataResolver looks up title and counters without downloading.
type MetadataResolver struct {
	proxy   string
	timeout time.Duration
	// Executable is the yt-dlp binary; empty resolves it from PATH.
	Executable string
}

func NewMetadataResolver(proxy string, timeout time.Duration) *MetadataResolver {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &MetadataResolver{proxy: proxy, timeout: timeout}
}

func (r *MetadataResolver) Resolve(ctx context.Context, rawURL string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := newCommand(r.Executable).
		SkipDownload().
		DumpJSON().
		NoPlaylist()
	if r.proxy != "" {
		cmd.Proxy(r.proxy)
	}

	res, err := cmd.Run(ctx, rawURL)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp metadata: %w%s", err, stderrTail(res))
	}
	return parseMetadata(res.Stdout)
}

// parseMetadata decodes the first JSON document in yt-dlp's stdout.
func parseMetadata(stdout string) (Metadata, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return Metadata{}, errors.New("yt-dlp returned no metadata")
	}
	if i := strings.IndexByte(stdout, '\n'); i >= 0 {
		stdout = stdout[:i]
	}

	var md Metadata
	if err := json.Unmarshal([]byte(stdout), &md); err != nil {
		return Metadata{}, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return md, nil
}
