package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// Transcription returns the transcript as plain text (default) or as a
// JSON envelope. 202 means it was requested and is still on its way.
func (h *Handler) Transcription(c *fiber.Ctx) error {
	id := c.Params("fileId")
	format := c.Query("format", "text")
	if format != "text" && format != "json" {
		return errorJSON(c, fiber.StatusBadRequest, "ERR_INVALID_FORMAT", "format must be text or json")
	}

	tr, err := h.Registry.Transcripts.Get(id)
	if err != nil {
		if !types.IsNotFound(err) {
			return writeError(c, err)
		}
		if task, terr := h.Registry.Tasks.Get(id); terr == nil && task.Status != types.StatusFailed &&
			task.Transcription.Requested && !task.Transcription.Status.IsTerminal() {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"message": "Transcription is still being processed",
				"status":  task.Transcription.Status,
			})
		}
		return errorJSON(c, fiber.StatusNotFound, "ERR_NOT_FOUND", "Transcription not found or expired")
	}

	if format == "json" {
		raw := tr.Raw
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		resp := fiber.Map{
			"taskId":    tr.ID,
			"text":      tr.Text,
			"language":  tr.DetectedLanguage,
			"createdAt": tr.CreatedAt.UTC().Format(time.RFC3339),
			"raw":       raw,
		}
		if tr.ArchiveURL != "" {
			resp["archiveUrl"] = tr.ArchiveURL
		}
		return c.JSON(resp)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(tr.Text)
}
