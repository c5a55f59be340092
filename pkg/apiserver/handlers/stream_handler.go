package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/superlogger/superlogger/pkg/model"
	"github.com/superlogger/superlogger/pkg/sink"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	// same origin policy as the CORS middleware
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type streamMessage struct {
	Type  string          `json:"type"`
	Log   *model.Document `json:"log,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Stream upgrades to a websocket and forwards stream events until either
// side goes away.
func (h *LogHandler) Stream(c *gin.Context) {
	start, err := parseOffset(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeIDs, err := parseBool(c.Query("ids"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ids flag"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	st := h.logs.Stream(c.Request.Context(), sink.StreamOptions{Start: start, IncludeIDs: includeIDs})
	defer st.Destroy()

	go h.readPump(conn, st)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toMessage(ev)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump records client messages as websocket events and destroys the
// stream once the peer disconnects.
func (h *LogHandler) readPump(conn *websocket.Conn, st *sink.Stream) {
	defer st.Destroy()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if h.events != nil {
			event, data := decodeEvent(payload)
			h.events.LogEvent(event, data)
		}
	}
}

// decodeEvent names a client message by its "type" member when it is a JSON
// object, and falls back to "message" with the raw text as data.
func decodeEvent(payload []byte) (string, any) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err == nil {
		if name, ok := obj["type"].(string); ok && name != "" {
			delete(obj, "type")
			return name, obj
		}
		return "message", obj
	}
	return "message", string(payload)
}

func toMessage(ev sink.Event) streamMessage {
	if ev.Kind == sink.EventError {
		return streamMessage{Type: ev.Kind.String(), Error: ev.Err.Error()}
	}
	doc := ev.Doc
	return streamMessage{Type: ev.Kind.String(), Log: &doc}
}
