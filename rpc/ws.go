package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"deedescrow/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// handleEventsWS streams committed events. The optional cursor query
// parameter replays retained events newer than it; type filters by prefix.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.limiter.allow(s.limiter.clientSource(r)) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	prefix := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, prefix); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor, prefix string) error {
	updates, cancel, backlog, err := s.node.Events().Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, entry := range backlog {
		if err := writeEventEntry(ctx, conn, entry, prefix); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventEntry(ctx, conn, entry, prefix); err != nil {
				return err
			}
		}
	}
}

func writeEventEntry(ctx context.Context, conn *websocket.Conn, entry events.StreamEntry, prefix string) error {
	if prefix != "" && !strings.HasPrefix(entry.Event.Type, prefix) {
		return nil
	}
	data, err := json.Marshal(formatEventJSON(entry))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
