package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const defaultAudioFormat = "bestaudio/best"

// YtDlpStrategy downloads through yt-dlp with a fixed network identity.
type YtDlpStrategy struct {
	name         string
	proxy        string
	requireProxy bool
	mirror       string
	format       string
	rateLimit    string
	delay        time.Duration
	timeout      time.Duration
	executable   string
}

// YtDlpOptions configures one yt-dlp based strategy.
type YtDlpOptions struct {
	Name string
	// Proxy is passed to --proxy. With RequireProxy an empty proxy makes
	// every fetch fail instead of silently going out directly.
	Proxy        string
	RequireProxy bool
	// Mirror is an alternate front-end host; the request URL is rewritten
	// to https://<mirror>/watch?v=<id>.
	Mirror    string
	Format    string
	RateLimit string
	Delay     time.Duration
	Timeout   time.Duration
	// Executable is the yt-dlp binary; empty resolves it from PATH.
	Executable string
}

var errProxyMissing = errors.New("proxy is not configured")

func NewYtDlpStrategy(opts YtDlpOptions) *YtDlpStrategy {
	format := opts.Format
	if format == "" {
		format = defaultAudioFormat
	}
	return &YtDlpStrategy{
		name:         opts.Name,
		proxy:        strings.TrimSpace(opts.Proxy),
		requireProxy: opts.RequireProxy,
		mirror:       trimHost(opts.Mirror),
		format:       format,
		rateLimit:    opts.RateLimit,
		delay:        opts.Delay,
		timeout:      opts.Timeout,
		executable:   strings.TrimSpace(opts.Executable),
	}
}

// newCommand starts a yt-dlp invocation on the configured binary.
func newCommand(executable string) *ytdlp.Command {
	cmd := ytdlp.New()
	if executable != "" {
		cmd.SetExecutable(executable)
	}
	return cmd
}

func trimHost(host string) string {
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return strings.TrimSuffix(host, "/")
}

func (s *YtDlpStrategy) Name() string { return s.name }

// sourceURL applies the mirror rewrite when one is configured.
func (s *YtDlpStrategy) sourceURL(target Target) (string, error) {
	if s.mirror == "" {
		return target.URL, nil
	}
	id, ok := YouTubeID(target.URL)
	if !ok {
		return "", fmt.Errorf("mirror %s only serves YouTube videos", s.mirror)
	}
	return fmt.Sprintf("https://%s/watch?v=%s", s.mirror, id), nil
}

func (s *YtDlpStrategy) Fetch(ctx context.Context, target Target) (string, error) {
	if s.requireProxy && s.proxy == "" {
		return "", errProxyMissing
	}
	src, err := s.sourceURL(target)
	if err != nil {
		return "", err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	dl := newCommand(s.executable).
		NoPlaylist().
		ForceOverwrites().
		Format(s.format).
		Output(filepath.Join(target.WorkDir, target.Prefix+".%(ext)s"))
	if s.proxy != "" {
		dl.Proxy(s.proxy)
	}
	if s.rateLimit != "" {
		dl.LimitRate(s.rateLimit)
	}

	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		if update.TotalBytes > 0 {
			target.progress(float64(update.DownloadedBytes) / float64(update.TotalBytes))
		}
	})

	res, err := dl.Run(ctx, src)
	if err != nil {
		return "", fmt.Errorf("yt-dlp: %w%s", err, stderrTail(res))
	}

	return findArtifact(target.WorkDir, target.Prefix)
}

// stderrTail keeps the last few lines of yt-dlp's stderr for error messages.
func stderrTail(res *ytdlp.Result) string {
	if res == nil || strings.TrimSpace(res.Stderr) == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return ": " + strings.Join(lines, " | ")
}
