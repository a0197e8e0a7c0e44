package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argos-io/argos/internal/api/middleware"
)

const wsWriteTimeout = 10 * time.Second

// handleExecutionProgress handles GET /api/v1/executions/{id}/ws. It
// upgrades the connection and relays the execution's progress stream as
// JSON text frames, closing the socket after the terminal message.
func (s *Server) handleExecutionProgress(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	progress, cancel, err := s.coordinator.Subscribe(executionID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("execution_id", executionID),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		return
	}
	defer func() { _ = conn.Close() }()

	// Drain client frames so close messages are processed; any read error
	// means the client went away.
	clientGone := make(chan struct{})

	go func() {
		defer close(clientGone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-progress:
			if !ok {
				s.closeSocket(conn, clientGone, executionID)

				return
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := conn.WriteJSON(msg); err != nil {
				return
			}

			if msg.Stage.Terminal() {
				s.closeSocket(conn, clientGone, executionID)

				return
			}
		case <-clientGone:
			return
		}
	}
}

// closeSocket performs the server side of the close handshake: send a
// normal closure and give the client a moment to answer before the deferred
// Close tears the connection down.
func (s *Server) closeSocket(conn *websocket.Conn, clientGone <-chan struct{}, executionID string) {
	deadline := time.Now().Add(wsWriteTimeout)

	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished"),
		deadline)
	if err != nil {
		s.logger.Debug("WebSocket close failed",
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()),
		)

		return
	}

	select {
	case <-clientGone:
	case <-time.After(wsWriteTimeout):
	}
}
