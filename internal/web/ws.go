package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wsPushInterval is how often the live feed pushes a state snapshot to each
// connected client.
const wsPushInterval = 500 * time.Millisecond

// handleWS upgrades the connection and streams engine snapshots as JSON
// text messages until the client disconnects or the server shuts down. Each
// client gets a UUID for log correlation.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("web: websocket accept failed", "err", err)
		return
	}
	clientID := uuid.NewString()
	slog.Info("web: live feed client connected", "client_id", clientID, "remote", r.RemoteAddr)

	defer func() {
		conn.Close(websocket.StatusNormalClosure, "server closing")
		slog.Info("web: live feed client disconnected", "client_id", clientID)
	}()

	ctx := r.Context()

	// Discard inbound messages so pings and client close frames are
	// processed; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeSnapshot(ctx, conn); err != nil {
				slog.Debug("web: live feed write failed", "client_id", clientID, "err", err)
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(s.engine.Snapshot())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsPushInterval)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
