package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is bearer-token protected; origin checks add nothing for
	// a non-browser control plane.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents upgrades the connection and forwards broker events as
// JSON until the client disconnects or the server stops. Events
// published before the upgrade are not replayed; GET /events covers
// history.
func (s *Server) streamEvents(c *gin.Context) {
	if s.broker == nil {
		abortUnavailable(c, "event streaming is disabled")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its error response.
		s.logger.Warn().Str("error", err.Error()).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	s.logger.Debug().Str("client", c.ClientIP()).Msg("event stream connected")

	// The read pump discards client frames but surfaces disconnects,
	// and it is what makes close handshakes work.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := ws.WriteJSON(event); err != nil {
				s.logger.Debug().Str("error", err.Error()).Msg("event stream write failed")
				return
			}
		case <-clientGone:
			s.logger.Debug().Str("client", c.ClientIP()).Msg("event stream disconnected")
			return
		case <-s.stopCh:
			deadline := time.Now().Add(time.Second)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
			return
		}
	}
}
