package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	Date string `json:"date"`
}

// EventsWSHandler handles GET /v1/dispatch/ws: a lightweight subscription
// protocol over WebSocket. The client sends connection_init, then subscribe
// messages carrying a date; dispatch events for that date stream back as
// next messages tagged with the subscription id.
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		date string
		ch   chan SSEEvent
		done chan struct{}
	}
	subs := map[string]*sub{}
	defer func() {
		for _, sb := range subs {
			close(sb.done)
			s.Broker.Unsubscribe(sb.date, sb.ch)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	connDone := make(chan struct{})
	defer close(connDone)
	writeCh := make(chan any, 16)
	go func() {
		for {
			select {
			case <-connDone:
				return
			case v := <-writeCh:
				if err := conn.WriteJSON(v); err != nil {
					return
				}
			}
		}
	}()

	send := func(v any) {
		select {
		case writeCh <- v:
		case <-connDone:
		default:
		}
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "connection_init":
			send(wsMessage{Type: "connection_ack"})
		case "ping":
			send(wsMessage{Type: "pong"})
		case "subscribe":
			var pl wsSubscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || !validDate(pl.Date) || msg.ID == "" {
				send(wsMessage{Type: "error", ID: msg.ID})
				continue
			}
			if _, dup := subs[msg.ID]; dup {
				send(wsMessage{Type: "error", ID: msg.ID})
				continue
			}
			sb := &sub{date: pl.Date, ch: s.Broker.Subscribe(pl.Date), done: make(chan struct{})}
			subs[msg.ID] = sb
			go func(id string, sb *sub) {
				for {
					select {
					case <-sb.done:
						return
					case evt, ok := <-sb.ch:
						if !ok {
							return
						}
						data, _ := json.Marshal(map[string]any{"type": evt.Type, "data": evt.Data})
						send(wsMessage{Type: "next", ID: id, Payload: data})
					}
				}
			}(msg.ID, sb)
		case "complete":
			if sb, ok := subs[msg.ID]; ok {
				close(sb.done)
				s.Broker.Unsubscribe(sb.date, sb.ch)
				delete(subs, msg.ID)
			}
		}
	}
}
