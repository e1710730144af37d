package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"moderator/api/internal/updates"
)

const (
	socketReadLimit    = 4096
	closeFrameDeadline = time.Second
)

// handleUpdatesSocket serves /services/updates/summary. The socket is push
// only: inbound frames are read and dropped so that pings and close frames
// are processed.
func (s *HTTPServer) handleUpdatesSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.identify(r)
	if err != nil {
		s.logger.Error("identify update socket", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("update socket upgrade failed", zap.Error(err))
		return
	}

	conn, err := s.service.updates.Accept(r.Context(), identity, &socketTransport{ws: ws})
	if err != nil {
		if !errors.Is(err, updates.ErrUnauthenticated) {
			s.logger.Warn("update socket rejected", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		}
		return
	}

	ws.SetReadLimit(socketReadLimit)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.Close()
			} else {
				conn.CloseWithReason(updates.CloseTransportError, fmt.Errorf("%w: %w", updates.ErrTransport, err))
			}
			break
		}
	}
	<-conn.Released()
}

// socketTransport adapts a gorilla websocket to updates.Transport.
type socketTransport struct {
	ws *websocket.Conn
}

func (t *socketTransport) WriteMessage(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *socketTransport) Close(reason updates.CloseReason) error {
	code, text := closeFrame(reason)
	_ = t.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeFrameDeadline))
	return t.ws.Close()
}

func closeFrame(reason updates.CloseReason) (int, string) {
	switch reason {
	case updates.CloseUnauthenticated:
		return websocket.ClosePolicyViolation, "unauthenticated"
	case updates.CloseSlowConsumer:
		return websocket.ClosePolicyViolation, "too slow"
	case updates.CloseGoingAway:
		return websocket.CloseGoingAway, "server going away"
	case updates.CloseSnapshotFailed, updates.CloseTransportError:
		return websocket.CloseInternalServerErr, reason.String()
	default:
		return websocket.CloseNormalClosure, ""
	}
}
