package handlers

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/audio-relay/internal/transcription"
	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// Download streams a completed artifact as an attachment. Missing or
// expired files are cleaned up by the resource store before the 404.
func (h *Handler) Download(c *fiber.Ctx) error {
	id := c.Params("fileId")
	res, err := h.Registry.Resources.Get(id)
	if err != nil {
		return writeError(c, err)
	}

	f, err := os.Open(res.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			h.Registry.Resources.Remove(id)
			return writeError(c, &types.NotFoundError{Kind: "resource", ID: id})
		}
		return writeError(c, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return writeError(c, err)
	}

	c.Attachment(res.Filename)
	c.Set(fiber.HeaderContentType, transcription.ContentType(res.Format))
	return c.SendStream(f, int(info.Size()))
}
