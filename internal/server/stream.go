package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mgpai22/captioner/internal/failure"
	"github.com/mgpai22/captioner/internal/jobs"
	"github.com/mgpai22/captioner/internal/progress"
)

// timeoutFrame tells a listener that nothing happened for a while. The job
// keeps running and the stream stays open.
type timeoutFrame struct {
	Type    string         `json:"type"`
	JobID   string         `json:"job_id"`
	State   progress.Stage `json:"state"`
	Message string         `json:"message"`
}

func newTimeoutFrame(job *jobs.Job, err error) timeoutFrame {
	return timeoutFrame{Type: "timeout", JobID: job.ID, State: job.State(), Message: failure.Message(err)}
}

// streamEvents replays the job's events as server-sent events and ends
// after the terminal one.
func (s *Server) streamEvents(c echo.Context) error {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return err
	}

	l := job.Subscribe()
	defer l.Detach()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		e, err := l.NextTimeout(ctx, s.idleTimeout)
		if errors.Is(err, failure.ErrTimedOut) {
			if err := writeSSE(w, "timeout", -1, newTimeoutFrame(job, err)); err != nil {
				return nil
			}
			continue
		}
		if err != nil {
			// client went away
			return nil
		}
		if err := writeSSE(w, "", e.Seq, e); err != nil {
			return nil
		}
		if e.Terminal() {
			return nil
		}
	}
}

func writeSSE(w *echo.Response, event string, id int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id >= 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

// streamWebSocket sends the same events as JSON text messages and closes
// normally after the terminal one.
func (s *Server) streamWebSocket(c echo.Context) error {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		return err
	}

	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered the request
		s.log.Warnw("websocket upgrade failed", "job_id", job.ID, "error", err)
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	// a hijacked connection's close is only seen by reading
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	l := job.Subscribe()
	defer l.Detach()

	for {
		e, err := l.NextTimeout(ctx, s.idleTimeout)
		if errors.Is(err, failure.ErrTimedOut) {
			if err := ws.WriteJSON(newTimeoutFrame(job, err)); err != nil {
				return nil
			}
			continue
		}
		if err != nil {
			return nil
		}
		if err := ws.WriteJSON(e); err != nil {
			s.log.Debugw("websocket write failed", "job_id", job.ID, "error", err)
			return nil
		}
		if e.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(e.Stage))
			_ = ws.WriteMessage(websocket.CloseMessage, msg)
			return nil
		}
	}
}
