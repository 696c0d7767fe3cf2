package acquire

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy kinds understood by the roster.
const (
	KindYtDlp = "ytdlp"
	KindPiped = "piped"
)

// StrategySpec is one entry of the roster file. String values are
// expanded from the environment so credentials never live in the file.
type StrategySpec struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Proxy        string        `yaml:"proxy"`
	RequireProxy bool          `yaml:"require_proxy"`
	Mirror       string        `yaml:"mirror"`
	API          string        `yaml:"api"`
	Format       string        `yaml:"format"`
	RateLimit    string        `yaml:"rate_limit"`
	Delay        time.Duration `yaml:"delay"`
	Timeout      time.Duration `yaml:"timeout"`
	Disabled     bool          `yaml:"disabled"`
}

// Roster is the ordered strategy list.
type Roster struct {
	Strategies []StrategySpec `yaml:"strategies"`
	// Executable is the yt-dlp binary handed to every yt-dlp strategy.
	Executable string `yaml:"-"`
}

// DefaultRoster is used when no roster file is configured: a direct fetch,
// a restricted-format fallback and a rate-limited slow path.
func DefaultRoster() Roster {
	return Roster{Strategies: []StrategySpec{
		{Name: "direct", Kind: KindYtDlp},
		{Name: "restricted-format", Kind: KindYtDlp, Format: "worstaudio/worst"},
		{Name: "slow-path", Kind: KindYtDlp, RateLimit: "500K", Delay: 3 * time.Second},
	}}
}

// LoadRoster reads a roster file; an empty path yields DefaultRoster.
func LoadRoster(path string) (Roster, error) {
	if path == "" {
		return DefaultRoster(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read strategy roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes and validates roster YAML.
func ParseRoster(data []byte) (Roster, error) {
	var r Roster
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &r); err != nil {
		return Roster{}, fmt.Errorf("parse strategy roster: %w", err)
	}

	seen := make(map[string]bool)
	enabled := r.Strategies[:0]
	for i, spec := range r.Strategies {
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Kind = strings.ToLower(strings.TrimSpace(spec.Kind))
		if spec.Name == "" {
			return Roster{}, fmt.Errorf("strategy #%d has no name", i+1)
		}
		if seen[spec.Name] {
			return Roster{}, fmt.Errorf("duplicate strategy name %q", spec.Name)
		}
		seen[spec.Name] = true
		switch spec.Kind {
		case KindYtDlp:
		case KindPiped:
			if spec.API == "" {
				return Roster{}, fmt.Errorf("strategy %q: piped needs api", spec.Name)
			}
		default:
			return Roster{}, fmt.Errorf("strategy %q: unknown kind %q", spec.Name, spec.Kind)
		}
		if !spec.Disabled {
			enabled = append(enabled, spec)
		}
	}
	r.Strategies = enabled

	if len(r.Strategies) == 0 {
		return Roster{}, fmt.Errorf("strategy roster has no enabled strategies")
	}
	return r, nil
}

// Build turns the roster into a Chain. defaultTimeout applies to entries
// without their own timeout.
func (r Roster) Build(defaultTimeout time.Duration) (*Chain, error) {
	strategies := make([]Strategy, 0, len(r.Strategies))
	for _, spec := range r.Strategies {
		timeout := spec.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		switch spec.Kind {
		case KindYtDlp:
			strategies = append(strategies, NewYtDlpStrategy(YtDlpOptions{
				Name:         spec.Name,
				Proxy:        spec.Proxy,
				RequireProxy: spec.RequireProxy,
				Mirror:       spec.Mirror,
				Format:       spec.Format,
				RateLimit:    spec.RateLimit,
				Delay:        spec.Delay,
				Timeout:      timeout,
				Executable:   r.Executable,
			}))
		case KindPiped:
			s, err := NewPipedStrategy(PipedOptions{
				Name:    spec.Name,
				API:     spec.API,
				Proxy:   spec.Proxy,
				Timeout: timeout,
			})
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		}
	}
	return NewChain(strategies...), nil
}
