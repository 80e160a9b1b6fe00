package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/loomhq/loom/internal/fault"
	"github.com/loomhq/loom/internal/runner"
	"github.com/loomhq/loom/pkg/models"
)

// chatFrame is what the client sends to start a run on the stream socket.
type chatFrame struct {
	ProjectID string `json:"projectId"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// handleChatStream upgrades to a WebSocket and runs one agent run per inbound
// frame, streaming the run's events back in order. The connection stays open
// for follow-up messages on the same session.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var frame chatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.cfg.Logger.Debug("chat stream closed", "error", err)
			}
			return
		}
		if frame.ProjectID == "" || frame.Message == "" {
			s.writeStreamError(conn, "", fault.New(fault.CodeValidation,
				"projectId and message are required"))
			continue
		}

		// Events arrive on the runner's goroutine synchronously with the
		// run, so writes never interleave.
		var writeErr error
		result, runErr := s.cfg.Host.RunChat(r.Context(), &runner.ChatRequest{
			ProjectID: frame.ProjectID,
			SessionID: frame.SessionID,
			Message:   frame.Message,
			OnEvent: func(ev models.AgentStreamEvent) {
				if writeErr != nil {
					return
				}
				writeErr = conn.WriteJSON(ev)
			},
		})
		if writeErr != nil {
			s.cfg.Logger.Warn("chat stream write failed", "error", writeErr)
			return
		}
		if runErr != nil && (result == nil || result.Trace == nil) {
			// Failures before the run starts produce no stream events;
			// surface them as a terminal error frame.
			s.writeStreamError(conn, frame.SessionID, runErr)
		}
	}
}

func (s *Server) writeStreamError(conn *websocket.Conn, traceID string, err error) {
	code := fault.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	ev := models.AgentStreamEvent{
		Type:         models.StreamError,
		TraceID:      traceID,
		ErrorCode:    string(code),
		ErrorMessage: err.Error(),
	}
	if werr := conn.WriteJSON(ev); werr != nil {
		s.cfg.Logger.Warn("chat stream error write failed", "error", werr)
	}
}
