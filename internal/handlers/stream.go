package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/audio-relay/internal/types"
)

// streamInterval is how often a watched task is re-read.
var streamInterval = time.Second

// StreamStatus pushes a task's status payload over a websocket whenever it
// changes and closes once the task and its transcription are settled.
func (h *Handler) StreamStatus(c *websocket.Conn) {
	defer c.Close()

	id := c.Params("taskId")
	base, _ := c.Locals("baseURL").(string)
	logrus.Debugf("Status stream opened for task %s", id)

	// the read loop only exists to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var last []byte
	for {
		task, err := h.Registry.Tasks.Get(id)
		if err != nil {
			msg, _ := json.Marshal(map[string]string{"error": err.Error(), "code": "ERR_NOT_FOUND"})
			c.WriteMessage(websocket.TextMessage, msg)
			return
		}

		payload, err := json.Marshal(h.statusPayload(base, task, false))
		if err != nil {
			logrus.Errorf("Encode status for %s: %v", id, err)
			return
		}
		if string(payload) != string(last) {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if settled(task) {
			return
		}

		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}

func settled(task types.Task) bool {
	if !task.Status.IsTerminal() {
		return false
	}
	if task.Status == types.StatusCompleted && task.Transcription.Requested {
		return task.Transcription.Status.IsTerminal()
	}
	return true
}
