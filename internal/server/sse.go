package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/taskd/internal/task"
)

// heartbeatInterval keeps proxies from timing out idle SSE streams.
const heartbeatInterval = 30 * time.Second

// snapshotEvent is the first event on every SSE stream: the task's current
// state, so late subscribers do not start blind.
type snapshotEvent struct {
	TaskID      string      `json:"task_id"`
	Status      task.Status `json:"status"`
	ResumeStage task.Stage  `json:"stage,omitempty"`
	Error       string      `json:"error,omitempty"`
	PRURL       string      `json:"pr_url,omitempty"`
}

// handleEvents streams task progress via Server-Sent Events. The stream
// carries an initial snapshot event, then live progress events until the
// task reaches a terminal state or the client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	id := c.Param("id")
	t, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return taskError(err)
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)

	if err := writeSSE(c, "snapshot", snapshotEvent{
		TaskID:      t.ID,
		Status:      t.Status,
		ResumeStage: t.ResumeStage,
		Error:       t.Error,
		PRURL:       t.PRURL,
	}); err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return nil
	}

	events, cancel := s.broadcaster.Subscribe(id)
	defer cancel()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeSSE(c, "progress", ev); err != nil {
				return err
			}
			if ev.ProgressPct >= 100 {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// writeSSE writes one named SSE event with a JSON payload and flushes.
func writeSSE(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Response(), "event: %s\n", event)
	fmt.Fprintf(c.Response(), "data: %s\n\n", data)
	c.Response().Flush()
	return nil
}
