package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/pipeline"
)

// ConvertRequest is the POST /convert body. URL is accepted as an alias
// for SourceURL.
type ConvertRequest struct {
	SourceURL  string `json:"sourceUrl"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	Transcribe bool   `json:"transcribe"`
}

// Convert accepts a conversion task and returns its links immediately.
func (h *Handler) Convert(c *fiber.Ctx) error {
	var req ConvertRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "ERR_INVALID_BODY", "Invalid request body")
	}
	if req.SourceURL == "" {
		req.SourceURL = req.URL
	}
	if req.SourceURL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "ERR_NO_URL", "sourceUrl is required")
	}

	task, err := h.Pipeline.Submit(pipeline.SubmitRequest{
		SourceURL:  req.SourceURL,
		Format:     req.Format,
		Transcribe: req.Transcribe,
	})
	if err != nil {
		return writeError(c, err)
	}

	base := h.baseURL(c)
	resp := fiber.Map{
		"taskId":      task.ID,
		"status":      task.Status,
		"format":      task.Format,
		"statusUrl":   base + "/status/" + task.ID,
		"downloadUrl": base + "/download/" + task.ID,
		"message":     "Conversion started",
	}
	if task.Transcription.Requested {
		resp["transcriptionUrl"] = base + "/transcription/" + task.ID
	}
	return c.JSON(resp)
}
