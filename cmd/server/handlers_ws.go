package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"localchat/internal/orchestrator"
)

// handleWS accepts send requests as text frames and writes every event back
// as its own JSON frame. Requests on one connection run one at a time.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req orchestrator.SendRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if conn.WriteJSON(orchestrator.Event{Type: orchestrator.EventError, Text: "Invalid request body"}) != nil {
				return
			}
			continue
		}

		events, err := s.orc.Send(ctx, req)
		if err != nil {
			if conn.WriteJSON(orchestrator.Event{Type: orchestrator.EventError, Text: err.Error()}) != nil {
				return
			}
			continue
		}
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				// stop relaying; generation still completes and persists
				cancel()
				return
			}
		}
	}
}
