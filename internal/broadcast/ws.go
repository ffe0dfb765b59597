package broadcast

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

type clientMsg struct {
	Type string `json:"type"`
}

type pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func parseTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ServeWS upgrades the request and streams published envelopes to the
// client. ?topics=state,vote narrows the feed. A {"type":"ping"} message is
// answered with a pong carrying the server time in milliseconds.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.Subscribe(parseTopics(r.URL.Query().Get("topics"))...)
	defer h.Unsubscribe(sub)

	replies := make(chan []byte, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(conn, replies)
	}()

	for {
		select {
		case data, ok := <-sub.C:
			if !ok {
				return
			}
			if err := write(conn, data); err != nil {
				return
			}
		case data := <-replies:
			if err := write(conn, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, replies chan<- []byte) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m clientMsg
		if json.Unmarshal(data, &m) != nil || m.Type != "ping" {
			continue
		}
		b, _ := json.Marshal(pong{Type: "pong", Timestamp: h.now().UnixMilli()})
		select {
		case replies <- b:
		default:
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
