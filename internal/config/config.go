package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
	Acquire       AcquireConfig       `mapstructure:"acquire"`
	FFmpeg        FFmpegConfig        `mapstructure:"ffmpeg"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Browser       BrowserConfig       `mapstructure:"browser"`
	GoogleDrive   GoogleDriveConfig   `mapstructure:"google_drive"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	BodyLimitMB int    `mapstructure:"body_limit_mb"`
	Version     string `mapstructure:"version"`
	// PublicURL prefixes generated links; empty uses the request host.
	PublicURL string `mapstructure:"public_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WorkersConfig sizes the two bounded pools.
type WorkersConfig struct {
	Count              int `mapstructure:"count"`
	TranscriptionCount int `mapstructure:"transcription_count"`
}

type StorageConfig struct {
	TempDir       string        `mapstructure:"temp_dir"`
	Database      string        `mapstructure:"database"`
	ResourceTTL   time.Duration `mapstructure:"resource_ttl"`
	TaskTTL       time.Duration `mapstructure:"task_ttl"`
	TranscriptTTL time.Duration `mapstructure:"transcript_ttl"`
}

type CleanupConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StrayFileMaxAge time.Duration `mapstructure:"stray_file_max_age"`
}

type AcquireConfig struct {
	StrategiesFile string        `mapstructure:"strategies_file"`
	YtDlpBinary    string        `mapstructure:"ytdlp_binary"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type FFmpegConfig struct {
	BinaryPath  string        `mapstructure:"binary_path"`
	FFprobePath string        `mapstructure:"ffprobe_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TranscriptionConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
}

type BrowserConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Proxy     string        `mapstructure:"proxy"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GoogleDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	FolderName      string `mapstructure:"folder_name"`
}

// DefaultPath is used when neither -config nor CONFIG_PATH is given.
const DefaultPath = "config/config.yaml"

// PathFromEnv returns CONFIG_PATH, falling back to DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads configPath (if present), applies defaults and AUDIO_RELAY_*
// environment overrides. Every key has a default so that AutomaticEnv can
// see it during Unmarshal.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("AUDIO_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing file means defaults only
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.normalize()
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.body_limit_mb", 1)
	v.SetDefault("server.version", "1.1.0")
	v.SetDefault("server.public_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.transcription_count", 4)
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.database", "data/history.db")
	v.SetDefault("storage.resource_ttl", time.Hour)
	v.SetDefault("storage.task_ttl", 2*time.Hour)
	v.SetDefault("storage.transcript_ttl", 2*time.Hour)
	v.SetDefault("cleanup.interval", 15*time.Minute)
	v.SetDefault("cleanup.stray_file_max_age", 3*time.Hour)
	v.SetDefault("acquire.strategies_file", "")
	v.SetDefault("acquire.ytdlp_binary", "")
	v.SetDefault("acquire.timeout", 10*time.Minute)
	v.SetDefault("ffmpeg.binary_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.timeout", 30*time.Minute)
	v.SetDefault("transcription.provider", "assemblyai")
	v.SetDefault("transcription.api_key", "")
	v.SetDefault("transcription.base_url", "")
	v.SetDefault("transcription.model", "")
	v.SetDefault("transcription.poll_interval", 3*time.Second)
	v.SetDefault("transcription.max_poll_attempts", 100)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.timeout", 45*time.Second)
	v.SetDefault("google_drive.credentials_file", "")
	v.SetDefault("google_drive.token_file", "token.json")
	v.SetDefault("google_drive.folder_name", "Transcripts")
}

// normalize fills values that defaults cannot express or that were zeroed
// by an override.
func (c *Config) normalize() {
	if c.Workers.Count <= 0 {
		c.Workers.Count = 2
	}
	if c.Workers.TranscriptionCount <= 0 {
		c.Workers.TranscriptionCount = c.Workers.Count * 2
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.ResourceTTL <= 0 {
		c.Storage.ResourceTTL = time.Hour
	}
	if c.Storage.TaskTTL <= 0 {
		c.Storage.TaskTTL = 2 * time.Hour
	}
	if c.Storage.TranscriptTTL <= 0 {
		c.Storage.TranscriptTTL = c.Storage.TaskTTL
	}
	if c.Cleanup.Interval <= 0 {
		c.Cleanup.Interval = 15 * time.Minute
	}
	if c.Cleanup.StrayFileMaxAge <= 0 {
		c.Cleanup.StrayFileMaxAge = c.Storage.TaskTTL + time.Hour
	}
	if c.Transcription.PollInterval <= 0 {
		c.Transcription.PollInterval = 3 * time.Second
	}
	if c.Transcription.MaxPollAttempts <= 0 {
		c.Transcription.MaxPollAttempts = 100
	}
	if c.Transcription.APIKey == "" {
		c.Transcription.APIKey = apiKeyFromEnv(c.Transcription.Provider)
	}
	c.Transcription.Provider = strings.ToLower(strings.TrimSpace(c.Transcription.Provider))
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
}

func apiKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "assemblyai":
		return os.Getenv("ASSEMBLYAI_API_KEY")
	}
	return ""
}
