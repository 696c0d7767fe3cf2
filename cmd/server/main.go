package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
	"github.com/codebuildervaibhav/audio-relay/internal/cleanup"
	"github.com/codebuildervaibhav/audio-relay/internal/config"
	"github.com/codebuildervaibhav/audio-relay/internal/handlers"
	"github.com/codebuildervaibhav/audio-relay/internal/logging"
	"github.com/codebuildervaibhav/audio-relay/internal/pipeline"
	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/scraper"
	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/transcription"
)

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "path to the YAML config file (env CONFIG_PATH)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logBuffer := logging.NewLogBuffer(1000)
	logging.Setup(cfg.Log.Level, cfg.Log.Format, logBuffer)
	logrus.Info("Initializing components...")

	files, err := storage.NewLocalStorage(cfg.Storage.TempDir)
	if err != nil {
		logrus.Fatalf("Failed to prepare temp directory: %v", err)
	}

	registry := storage.NewRegistry(storage.TTLs{
		Task:       cfg.Storage.TaskTTL,
		Resource:   cfg.Storage.ResourceTTL,
		Transcript: cfg.Storage.TranscriptTTL,
	})

	db, err := storage.NewMetadataDB(cfg.Storage.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	roster, err := acquire.LoadRoster(cfg.Acquire.StrategiesFile)
	if err != nil {
		logrus.Fatalf("Failed to load strategy roster: %v", err)
	}
	roster.Executable = cfg.Acquire.YtDlpBinary
	chain, err := roster.Build(cfg.Acquire.Timeout)
	if err != nil {
		logrus.Fatalf("Failed to build strategy chain: %v", err)
	}
	logrus.Infof("Acquisition chain: %v", chain.Names())

	resolver := acquire.NewMetadataResolver(cfg.Browser.Proxy, cfg.Browser.Timeout)
	resolver.Executable = cfg.Acquire.YtDlpBinary
	converter := transcription.NewConverter(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.FFprobePath, cfg.FFmpeg.Timeout)

	workers := queue.NewScheduler("convert", cfg.Workers.Count)
	schedulers := []*queue.Scheduler{workers}

	deps := pipeline.Deps{
		Registry:  registry,
		Files:     files,
		Acquirer:  chain,
		Converter: converter,
		Resolver:  resolver,
		History:   db,
		Workers:   workers,
	}

	if provider := newProvider(cfg.Transcription); provider != nil {
		transcriptionWorkers := queue.NewScheduler("transcribe", cfg.Workers.TranscriptionCount)
		schedulers = append(schedulers, transcriptionWorkers)

		var archiver transcription.Archiver
		if driveClient := newDriveClient(cfg.GoogleDrive); driveClient != nil {
			archiver = driveClient
		}
		deps.Transcriber = transcription.NewWorkflow(registry.Tasks, registry.Transcripts, provider, transcription.WorkflowOptions{
			PollInterval:    cfg.Transcription.PollInterval,
			MaxPollAttempts: cfg.Transcription.MaxPollAttempts,
			Archiver:        archiver,
		})
		deps.TranscriptionWorkers = transcriptionWorkers
		logrus.Infof("Transcription enabled (provider: %s)", provider.Name())
	} else {
		logrus.Warn("Transcription disabled: no provider or API key configured")
	}
	pipe := pipeline.New(deps)

	sweeper := cleanup.NewSweeper(registry, files.Dir(), cfg.Cleanup.Interval, cfg.Cleanup.StrayFileMaxAge)
	sweeper.Start()
	defer sweeper.Stop()

	collector := scraper.NewCollector(scraper.Options{
		Enabled:   cfg.Browser.Enabled,
		Proxy:     cfg.Browser.Proxy,
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.Browser.Timeout,
	}, resolver)

	app := fiber.New(fiber.Config{
		AppName:      "audio-relay " + cfg.Server.Version,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${latency} ${method} ${path}\n",
		Output: logrus.StandardLogger().Writer(),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.New(handlers.Deps{
		Pipeline:   pipe,
		Registry:   registry,
		Stats:      collector,
		History:    db,
		Logs:       logBuffer,
		Schedulers: schedulers,
		Version:    cfg.Server.Version,
		PublicURL:  cfg.Server.PublicURL,
	}).Register(app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logrus.Infof("Server starting on %s", addr)
	logrus.Info("Endpoints:")
	logrus.Info("   POST /convert                - Submit a URL for audio conversion")
	logrus.Info("   GET  /status/:taskId         - Task progress")
	logrus.Info("   GET  /download/:fileId       - Download converted audio")
	logrus.Info("   GET  /transcription/:fileId  - Transcript (text or json)")
	logrus.Info("   GET  /stats                  - Source view and like counts")
	logrus.Info("   GET  /history                - Conversion ledger")
	logrus.Info("   GET  /ws/status/:taskId      - WebSocket status feed")
	logrus.Info("   GET  /logs                   - Server logs")
	logrus.Info("   GET  /status                 - Health check")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logrus.Info("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.Errorf("HTTP shutdown: %v", err)
		}
	}()

	if err := app.Listen(addr); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range schedulers {
		if err := s.Shutdown(ctx); err != nil {
			logrus.Warnf("Scheduler shutdown: %v", err)
		}
	}
}

// newProvider picks the speech-to-text backend; nil disables transcription.
func newProvider(cfg config.TranscriptionConfig) transcription.Provider {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil
	}
	if cfg.APIKey == "" {
		logrus.Warnf("Transcription provider %s has no API key", cfg.Provider)
		return nil
	}
	switch cfg.Provider {
	case "assemblyai":
		return transcription.NewAssemblyAIProvider(cfg.APIKey, cfg.BaseURL, nil)
	case "openai":
		return transcription.NewWhisperProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		logrus.Warnf("Unknown transcription provider %q", cfg.Provider)
		return nil
	}
}

// newDriveClient enables transcript archiving when credentials are present.
func newDriveClient(cfg config.GoogleDriveConfig) *storage.DriveClient {
	if cfg.CredentialsFile == "" {
		logrus.Info("Google Drive archive not configured - transcripts stay in memory only")
		return nil
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		logrus.Infof("Google Drive credentials not found at %s - archive disabled", cfg.CredentialsFile)
		return nil
	}

	// the client keeps this context for token refreshes
	client, err := storage.NewDriveClient(context.Background(), cfg.CredentialsFile, cfg.TokenFile, cfg.FolderName)
	if err != nil {
		logrus.Warnf("Google Drive not available: %v", err)
		return nil
	}
	logrus.Info("Google Drive archive enabled")
	return client
}
