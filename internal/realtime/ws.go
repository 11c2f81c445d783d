package realtime

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin than the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is a hub connection backed by a gorilla WebSocket. Frames are queued
// by Send and written by a single write pump.
type wsConn struct {
	outbox
	id string
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		outbox: newOutbox(sendQueueSize),
		id:     uuid.NewString(),
		ws:     ws,
	}
}

func (c *wsConn) ID() string { return c.id }

// ServeWS upgrades the request and attaches the connection to the hub until
// either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(ws)
	h.logger.Info("websocket client connected", "conn", c.id, "remote", r.RemoteAddr)

	go h.writePump(c)
	h.Open(c)
	h.readPump(c)
}

// readPump handles frames sequentially, so handlers for one connection never
// overlap.
func (h *Hub) readPump(c *wsConn) {
	defer h.Drop(c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Warn("websocket read error", "conn", c.id, "error", err)
			} else {
				h.logger.Info("websocket client disconnected", "conn", c.id)
			}
			return
		}
		h.HandleMessage(c, frame)
	}
}

func (h *Hub) writePump(c *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Warn("websocket write error", "conn", c.id, "error", err)
				h.Drop(c)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Drop(c)
				return
			}
		}
	}
}
