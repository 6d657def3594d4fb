package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/models"
)

const (
	streamPushInterval = 30 * time.Second
	streamWriteTimeout = 5 * time.Second
	streamBuffer       = 64
)

// streamMessage is one frame on the status stream.
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleStatusStream pushes a full snapshot on connect and every
// streamPushInterval, plus each probe result as it lands.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var (
		probed <-chan *models.Event
		cancel = func() {}
	)
	if s.deps.Publisher != nil {
		probed, cancel, err = s.deps.Publisher.SubscribeChan(
			"status-stream-"+uuid.NewString(),
			events.Filter{EventTypes: []models.EventType{
				models.EventTypeStatusProbed,
				models.EventTypeSessionClosed,
			}},
			streamBuffer,
		)
		if err != nil {
			s.logger.Warn().Err(err).Msg("subscribe status stream")
			return
		}
	}
	defer cancel()

	if err := writeStream(conn, streamMessage{Type: "snapshot", Data: s.snapshot()}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := writeStream(conn, streamMessage{Type: "snapshot", Data: s.snapshot()}); err != nil {
				return
			}
		case event, ok := <-probed:
			if !ok {
				return
			}
			if err := writeStream(conn, eventMessage(event)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) snapshot() []models.ServerStatus {
	if s.deps.Status == nil {
		return []models.ServerStatus{}
	}
	return s.deps.Status.Snapshot()
}

func eventMessage(event *models.Event) streamMessage {
	if event.Type == models.EventTypeSessionClosed {
		return streamMessage{Type: "disconnected", Data: map[string]string{"id": event.EntityID}}
	}
	return streamMessage{Type: "status", Data: json.RawMessage(event.Payload)}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}
