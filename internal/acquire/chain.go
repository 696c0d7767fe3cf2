package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Target is everything a strategy may know about one acquisition.
type Target struct {
	URL     string
	VideoID string
	// WorkDir and Prefix locate the output: strategies write
	// WorkDir/Prefix.<ext> and nothing else.
	WorkDir string
	Prefix  string
	// OnProgress receives download progress as a 0..1 fraction.
	OnProgress func(fraction float64)
}

func (t Target) progress(fraction float64) {
	if t.OnProgress == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	t.OnProgress(fraction)
}

// Strategy is one self-contained way of acquiring the source media.
// Implementations hold only their own immutable configuration.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, target Target) (string, error)
}

// Attempt records one strategy invocation.
type Attempt struct {
	Strategy string
	Err      error
	Duration time.Duration
}

// AcquisitionFailure is returned when every strategy failed.
type AcquisitionFailure struct {
	Attempts []Attempt
}

func (e *AcquisitionFailure) Error() string {
	if len(e.Attempts) == 0 {
		return "acquisition failed: no strategies configured"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("acquisition failed after %d strategies; last strategy %q: %v",
		len(e.Attempts), last.Strategy, last.Err)
}

// Unwrap exposes the last failure.
func (e *AcquisitionFailure) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Last returns the name of the last strategy attempted.
func (e *AcquisitionFailure) Last() string {
	if len(e.Attempts) == 0 {
		return ""
	}
	return e.Attempts[len(e.Attempts)-1].Strategy
}

// Result is a successfully acquired artifact.
type Result struct {
	Path     string
	Strategy string
	Attempts []Attempt
}

// Chain tries strategies in declared order and stops at the first success.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Names lists the strategies in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Run walks the chain. Each strategy gets its own output prefix and any
// partial files from a failed attempt are removed before the next one.
func (c *Chain) Run(ctx context.Context, target Target) (*Result, error) {
	log := logrus.WithFields(logrus.Fields{"url": target.URL, "video_id": target.VideoID})
	failure := &AcquisitionFailure{}

	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{Strategy: s.Name(), Err: err})
			break
		}

		attemptTarget := target
		attemptTarget.Prefix = fmt.Sprintf("%s-%d", target.Prefix, i)

		started := time.Now()
		log.Infof("Trying acquisition strategy %d/%d: %s", i+1, len(c.strategies), s.Name())
		path, err := s.Fetch(ctx, attemptTarget)
		elapsed := time.Since(started)

		if err == nil {
			if _, statErr := os.Stat(path); statErr != nil {
				err = fmt.Errorf("strategy reported %s but it is unreadable: %w", path, statErr)
			}
		}
		if err == nil {
			log.Infof("Strategy %s succeeded in %s", s.Name(), elapsed.Round(time.Millisecond))
			failure.Attempts = append(failure.Attempts, Attempt{Strategy: s.Name(), Duration: elapsed})
			return &Result{Path: path, Strategy: s.Name(), Attempts: failure.Attempts}, nil
		}

		log.Warnf("Strategy %s failed after %s: %v", s.Name(), elapsed.Round(time.Millisecond), err)
		failure.Attempts = append(failure.Attempts, Attempt{Strategy: s.Name(), Err: err, Duration: elapsed})
		removePartials(target.WorkDir, attemptTarget.Prefix)
	}

	return nil, failure
}

// findArtifact returns the single completed file written under prefix.
func findArtifact(dir, prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		info, err := os.Stat(m)
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return m, nil
		}
	}
	return "", fmt.Errorf("no output file for %s", prefix)
}

func isPartial(path string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func removePartials(dir, prefix string) {
	matches, _ := filepath.Glob(filepath.Join(dir, prefix+"*"))
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("Failed to remove partial file %s: %v", m, err)
		}
	}
}
