package handlers

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/queue"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// TaskStatus reports a task's progress and, when asked, its transcript.
func (h *Handler) TaskStatus(c *fiber.Ctx) error {
	task, err := h.Registry.Tasks.Get(c.Params("taskId"))
	if err != nil {
		return writeError(c, err)
	}
	include := c.QueryBool("includeTranscription", false)
	return c.JSON(h.statusPayload(h.baseURL(c), task, include))
}

func (h *Handler) statusPayload(base string, task types.Task, includeTranscription bool) fiber.Map {
	resp := fiber.Map{
		"taskId":          task.ID,
		"status":          task.Status,
		"title":           task.Title,
		"sourceUrl":       task.SourceURL,
		"format":          task.Format,
		"created":         task.CreatedAt.UTC().Format(time.RFC3339),
		"progressPercent": task.Progress,
		"downloadUrl":     nil,
		"error":           nil,
	}
	if task.Status == types.StatusCompleted {
		if _, err := h.Registry.Resources.Get(task.ID); err == nil {
			resp["downloadUrl"] = base + "/download/" + task.ID
		}
	}
	if task.Error != "" {
		resp["error"] = task.Error
	}
	if task.Strategy != "" {
		resp["strategy"] = task.Strategy
	}

	tr := task.Transcription
	if !tr.Requested {
		return resp
	}

	url := base + "/transcription/" + task.ID
	sub := fiber.Map{
		"requested":        true,
		"status":           tr.Status,
		"detectedLanguage": nil,
		"error":            nil,
		"url":              url,
	}
	if tr.DetectedLanguage != "" {
		sub["detectedLanguage"] = tr.DetectedLanguage
	}
	if tr.Error != "" {
		sub["error"] = tr.Error
		resp["transcriptionError"] = tr.Error
	}
	if includeTranscription && tr.Status == types.TranscriptionCompleted {
		if transcript, err := h.Registry.Transcripts.Get(task.ID); err == nil {
			sub["text"] = transcript.Text
			sub["completedAt"] = tr.CompletedAt.UTC().Format(time.RFC3339)
		}
	}

	resp["transcription"] = sub
	resp["transcriptionRequested"] = true
	resp["transcriptionStatus"] = tr.Status
	resp["transcriptionUrl"] = url
	return resp
}

// ServiceStatus is the liveness probe.
func (h *Handler) ServiceStatus(c *fiber.Ctx) error {
	pools := make([]queue.Stats, 0, len(h.Schedulers))
	for _, s := range h.Schedulers {
		pools = append(pools, s.Stats())
	}
	return c.JSON(fiber.Map{
		"status":     "online",
		"version":    h.Version,
		"message":    "API running normally",
		"workers":    pools,
		"goroutines": runtime.NumGoroutine(),
	})
}
