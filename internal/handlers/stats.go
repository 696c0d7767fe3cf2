package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/acquire"
)

// SourceStats fetches view and like counts for a source URL.
func (h *Handler) SourceStats(c *fiber.Ctx) error {
	url := strings.TrimSpace(c.Query("sourceUrl", c.Query("url")))
	if !acquire.ValidateURL(url) {
		return errorJSON(c, fiber.StatusBadRequest, "ERR_NO_URL", "a valid sourceUrl query parameter is required")
	}
	if h.Stats == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "ERR_UNAVAILABLE", "stats collection is disabled")
	}

	stats, err := h.Stats.Collect(c.UserContext(), url)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "ERR_STATS", err.Error())
	}
	return c.JSON(stats)
}

// ListHistory returns the most recent ledger rows.
func (h *Handler) ListHistory(c *fiber.Ctx) error {
	if h.History == nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "ERR_UNAVAILABLE", "history is disabled")
	}
	entries, err := h.History.List(c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// RecentLogs returns the in-memory log tail.
func (h *Handler) RecentLogs(c *fiber.Ctx) error {
	if h.Logs == nil {
		return c.JSON(fiber.Map{"logs": []string{}})
	}
	return c.JSON(fiber.Map{"logs": h.Logs.GetLogs()})
}
