package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/pipeline"
	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/scraper"
	"github.com/codebuildervaibhav/audio-relay/internal/storage"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// StatsCollector fetches public engagement data for a source URL.
type StatsCollector interface {
	Collect(ctx context.Context, url string) (scraper.Stats, error)
}

// HistoryLister reads the conversion ledger.
type HistoryLister interface {
	List(limit int) ([]storage.HistoryEntry, error)
}

// LogSource exposes recent log lines.
type LogSource interface {
	GetLogs() []string
}

// Deps wires the handlers to the rest of the service. Stats, History and
// Logs are optional; their routes answer 503 when unset.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Registry   *storage.Registry
	Stats      StatsCollector
	History    HistoryLister
	Logs       LogSource
	Schedulers []*queue.Scheduler
	Version    string
	// PublicURL prefixes generated links; the request host is used when empty.
	PublicURL string
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Register mounts every route on app.
func (h *Handler) Register(app *fiber.App) {
	app.Post("/convert", h.Convert)
	app.Get("/status", h.ServiceStatus)
	app.Get("/status/:taskId", h.TaskStatus)
	app.Get("/download/:fileId", h.Download)
	app.Get("/transcription/:fileId", h.Transcription)
	app.Get("/stats", h.SourceStats)
	app.Get("/history", h.ListHistory)
	app.Get("/logs", h.RecentLogs)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("baseURL", h.baseURL(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status/:taskId", websocket.New(h.StreamStatus))
}

// baseURL is the scheme and host links are built from.
func (h *Handler) baseURL(c *fiber.Ctx) string {
	if h.PublicURL != "" {
		return h.PublicURL
	}
	return c.BaseURL()
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

// writeError maps the error taxonomy onto status codes.
func writeError(c *fiber.Ctx, err error) error {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		return errorJSON(c, fiber.StatusBadRequest, "ERR_VALIDATION", ve.Error())
	case types.IsNotFound(err):
		return errorJSON(c, fiber.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	default:
		logrus.WithField("path", c.Path()).Errorf("Request failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "ERR_INTERNAL", "Internal server error")
	}
}

// ErrorHandler renders errors that escape a handler, including fiber's own
// routing errors, as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return errorJSON(c, fe.Code, "ERR_HTTP", fe.Message)
	}
	return writeError(c, err)
}
