package transcription

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format is an output container the service can produce.
type Format struct {
	Name        string
	ContentType string
	codecArgs   []string
}

var formats = map[string]Format{
	"mp3":  {Name: "mp3", ContentType: "audio/mpeg", codecArgs: []string{"-c:a", "libmp3lame", "-b:a", "192k"}},
	"m4a":  {Name: "m4a", ContentType: "audio/mp4", codecArgs: []string{"-c:a", "aac", "-b:a", "192k"}},
	"aac":  {Name: "aac", ContentType: "audio/aac", codecArgs: []string{"-c:a", "aac", "-b:a", "192k", "-f", "adts"}},
	"wav":  {Name: "wav", ContentType: "audio/wav", codecArgs: []string{"-c:a", "pcm_s16le"}},
	"ogg":  {Name: "ogg", ContentType: "audio/ogg", codecArgs: []string{"-c:a", "libvorbis", "-q:a", "5"}},
	"opus": {Name: "opus", ContentType: "audio/opus", codecArgs: []string{"-c:a", "libopus", "-b:a", "128k"}},
	"flac": {Name: "flac", ContentType: "audio/flac", codecArgs: []string{"-c:a", "flac"}},
}

// DefaultFormat is used when a request does not name one.
const DefaultFormat = "mp3"

// LookupFormat resolves a format name case-insensitively.
func LookupFormat(name string) (Format, bool) {
	f, ok := formats[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// SupportedFormats lists format names in sorted order.
func SupportedFormats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContentType returns the MIME type for a format, defaulting to octet-stream.
func ContentType(format string) string {
	if f, ok := LookupFormat(format); ok {
		return f.ContentType
	}
	return "application/octet-stream"
}

// NeedsConversion reports whether inputPath must be transcoded to reach format.
func NeedsConversion(inputPath, format string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(inputPath)), ".")
	return ext != strings.ToLower(format)
}

// ConversionFailure reports a nonzero transcoder exit.
type ConversionFailure struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionFailure) Error() string {
	msg := fmt.Sprintf("ffmpeg failed (exit %d)", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ConversionFailure) Unwrap() error { return e.Err }

// Converter runs ffmpeg to transcode acquired media.
type Converter struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

func NewConverter(ffmpegPath, ffprobePath string, timeout time.Duration) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Converter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, timeout: timeout}
}

// Convert transcodes inputPath into outputPath using format's codec.
// onProgress receives 0..1 fractions. The input is deleted on success.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath, format string, onProgress func(float64)) (string, error) {
	f, ok := LookupFormat(format)
	if !ok {
		return "", fmt.Errorf("unsupported output format %q", format)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	duration := c.probeDurationSeconds(ctx, inputPath)

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", inputPath, "-vn", "-map_metadata", "0"}
	args = append(args, f.codecArgs...)
	args = append(args, "-progress", "pipe:2", outputPath)

	cmd := exec.CommandContext(ctx, c.ffmpeg, args...)
	logrus.Debugf("ffmpeg command: %s %s", c.ffmpeg, strings.Join(args, " "))

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", &ConversionFailure{ExitCode: -1, Err: err}
	}

	tail := scanProgress(stderr, duration, onProgress)
	if err := cmd.Wait(); err != nil {
		os.Remove(outputPath)
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &ConversionFailure{ExitCode: exitCode, Stderr: strings.Join(tail, " | "), Err: err}
	}

	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return "", &ConversionFailure{ExitCode: 0, Stderr: "no output produced", Err: err}
	}

	if onProgress != nil {
		onProgress(1)
	}
	if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to remove conversion input %s: %v", inputPath, err)
	}
	return outputPath, nil
}

var reTime = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// scanProgress reads ffmpeg's stderr, reporting progress and returning the
// last non-progress lines for error messages.
func scanProgress(r io.Reader, durationSec float64, onProgress func(float64)) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	const tailLines = 10
	tail := make([]string, 0, tailLines)

	emit := func(sec float64) {
		if onProgress == nil || durationSec <= 0 {
			return
		}
		frac := sec / durationSec
		if frac > 0.99 {
			frac = 0.99
		}
		if frac < 0 {
			frac = 0
		}
		onProgress(frac)
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "out_time_ms=") || strings.HasPrefix(line, "out_time_us=") {
			v := line[strings.IndexByte(line, '=')+1:]
			if us, err := strconv.ParseFloat(v, 64); err == nil {
				emit(us / 1e6)
			}
			continue
		}
		if m := reTime.FindStringSubmatch(line); len(m) == 4 {
			hh, _ := strconv.ParseFloat(m[1], 64)
			mm, _ := strconv.ParseFloat(m[2], 64)
			ss, _ := strconv.ParseFloat(m[3], 64)
			emit(hh*3600 + mm*60 + ss)
			continue
		}
		if line == "" || (strings.Contains(line, "=") && !strings.Contains(line, " ")) {
			// remaining -progress key=value pairs
			continue
		}

		if len(tail) == tailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
	}
	return tail
}

// probeDurationSeconds asks ffprobe for the input duration; 0 when unknown.
func (c *Converter) probeDurationSeconds(ctx context.Context, inputPath string) float64 {
	cmd := exec.CommandContext(ctx, c.ffprobe, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", inputPath)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return val
}
