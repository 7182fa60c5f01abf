package app

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"parley/api/internal/realtime"
)

const wsWriteTimeout = 5 * time.Second

// handleStream subscribes the caller to the conference's events until either
// side closes. Clients send nothing; reads only detect the close.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "Stream unavailable", nil)
		return
	}
	code := mux.Vars(r)["code"]
	actor, err := s.service.Me(r.Context(), code, identity(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	opts := &websocket.AcceptOptions{}
	if s.corsOrigin != "" && s.corsOrigin != "*" {
		opts.OriginPatterns = []string{s.corsOrigin}
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Debug("WebSocket accept failed", zap.String("tenant", code), zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.hub.Subscribe(code, actor.ID, actor.Role)
	defer s.hub.Unsubscribe(sub)

	ready := realtime.NewEvent(code, realtime.KindReady, map[string]any{
		"participantId": actor.ID,
		"role":          actor.Role,
	})
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
		return
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub.C():
			if !ok {
				if sub.Reason() == realtime.ReasonRevoked {
					// The client reconnects and subscribes with its current role.
					_ = conn.Close(websocket.StatusPolicyViolation, "participant changed")
					return
				}
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
