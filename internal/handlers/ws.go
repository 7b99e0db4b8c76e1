package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"crewdash/internal/event"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsStream adapts a websocket connection to the operator's Stream
// interface. Writes are serialized; gorilla allows one writer at a
// time.
type wsStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsStream) Send(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *wsStream) Close() {
	s.conn.Close()
}

// HandleWS attaches a device's event stream over a websocket instead
// of SSE. Inbound messages on the same socket are treated as do-widget
// and config requests, so a device can play over one connection.
func (c *Context) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	deviceID := chi.URLParam(r, "deviceID")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.Log.Warnw("websocket upgrade failed", "session", sessionID, "err", err)
		return
	}

	stream := &wsStream{conn: conn}
	if err := c.Operator.AddDevice(sessionID, deviceID, "", stream); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(wsWriteTimeout))
		conn.Close()
		return
	}
	c.Log.Debugw("websocket stream attached", "session", sessionID, "device", deviceID)

	for {
		var ev event.Event
		if err := conn.ReadJSON(&ev); err != nil {
			c.Log.Debugw("websocket client disconnected", "session", sessionID, "device", deviceID, "err", err)
			c.Operator.RemoveDevice(sessionID, deviceID, true)
			return
		}
		ev.GameID = sessionID
		ev.DeviceID = deviceID

		switch ev.Type {
		case event.TypeDoWidget:
			if err := c.Operator.DoWidget(ev); err != nil {
				c.Log.Warnw("do-widget over websocket failed", "session", sessionID, "err", err)
			}
		case event.TypeConfig:
			if err := c.Operator.ApplyConfig(ev); err != nil {
				c.Log.Warnw("config over websocket failed", "session", sessionID, "err", err)
			}
		default:
			c.Log.Debugw("ignoring websocket message", "session", sessionID, "type", ev.Type)
		}
	}
}
