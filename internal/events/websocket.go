package events

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is one control frame sent by a connected client.
type clientMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Handler upgrades the request to a websocket connection and serves
// subscribe/unsubscribe frames until the client disconnects.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	sub := h.subscribe()
	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

func (h *Hub) readPump(conn *websocket.Conn, sub *subscriber) {
	defer func() {
		h.unsubscribe(sub)
		conn.Close()
	}()
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		switch msg.Action {
		case "subscribe":
			if msg.Topic != "" {
				sub.add(msg.Topic)
				h.confirm(sub, "subscribed", msg.Topic)
			}
		case "unsubscribe":
			if msg.Topic != "" {
				sub.remove(msg.Topic)
				h.confirm(sub, "unsubscribed", msg.Topic)
			}
		}
	}
}

// confirm acknowledges a subscription change on the subscriber's own
// channel so it arrives in order with subsequent events.
func (h *Hub) confirm(sub *subscriber, kind, topic string) {
	select {
	case sub.ch <- Event{Type: kind, Topic: topic, Time: time.Now()}:
	default:
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
