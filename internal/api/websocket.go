package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trendline-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams audit records, optionally filtered by ?bot_id=.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	botID := c.Query("bot_id")
	stream, unsub := s.Bus.Subscribe(events.EventBotAudit, 100)
	defer unsub()

	// reader goroutine notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if a, isAudit := msg.(events.Audit); isAudit && botID != "" && a.BotID != botID {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.Log.Debugf("ws write error: %v", err)
				return
			}
		}
	}
}
