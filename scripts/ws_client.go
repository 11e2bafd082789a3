//go:build ignore

// Demo WebSocket client: subscribes to dispatch events for a date, triggers
// an assignment run over HTTP, and prints the events it receives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	date := os.Getenv("DATE")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/dispatch/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	must := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			log.Fatal(err)
		}
	}
	must(wsMessage{Type: "connection_init"})
	payload, _ := json.Marshal(map[string]string{"date": date})
	must(wsMessage{Type: "subscribe", ID: "1", Payload: payload})

	go func() {
		body := []byte(fmt.Sprintf(`{"date":%q}`, date))
		req, _ := http.NewRequest(http.MethodPost, "http://localhost:"+port+"/v1/assignments/run", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Role", "dispatcher")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("run request: %v", err)
			return
		}
		resp.Body.Close()
	}()

	deadline := time.After(30 * time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fmt.Printf("<- %s %s %s\n", msg.Type, msg.ID, string(msg.Payload))
		}
	}()
	select {
	case <-deadline:
	case <-done:
	}
}
