package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base URL")
	pairCount = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

type authResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var (
	sent     atomic.Int64
	received atomic.Int64
	failures atomic.Int64
	log      = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

func main() {
	flag.Parse()
	log.Info("Starting load test", "users", *pairCount*2, "messages_per_user", *msgCount)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Info("Load test complete",
		"elapsed", time.Since(start),
		"sent", sent.Load(),
		"received", received.Load(),
		"failures", failures.Load(),
	)
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	a, okA := authenticate(userA, pass)
	b, okB := authenticate(userB, pass)
	if !okA || !okB {
		failures.Add(1)
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go chat(&wsWg, a, b.ID, userA)
	go chat(&wsWg, b, a.ID, userB)
	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password string) (authResponse, bool) {
	if resp, err := postJSON("/api/users/register", map[string]string{"username": username, "password": password}); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/api/users/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Error("Login failed", "user", username, "error", err)
		return authResponse{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Error("Login rejected", "user", username, "status", resp.StatusCode)
		return authResponse{}, false
	}

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return authResponse{}, false
	}
	return data, true
}

// chat joins as self, sends msgCount messages to peer and counts what comes back.
// Each side expects its own echoes plus the peer's messages.
func chat(wg *sync.WaitGroup, self authResponse, peerID, name string) {
	defer wg.Done()

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + self.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error("Websocket connect failed", "user", name, "error", err)
		failures.Add(1)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		expected := *msgCount * 2
		for got := 0; got < expected; {
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				log.Warn("Read ended early", "user", name, "got", got, "error", err)
				return
			}
			if env.Event == "receive_message" {
				got++
				received.Add(1)
			}
		}
	}()

	if err := writeEvent(conn, "join", self.ID); err != nil {
		failures.Add(1)
		return
	}
	for i := 0; i < *msgCount; i++ {
		err := writeEvent(conn, "send_message", map[string]string{
			"senderId":   self.ID,
			"receiverId": peerID,
			"message":    fmt.Sprintf("LoadTest Msg %d from %s", i, name),
		})
		if err != nil {
			log.Error("Send failed", "user", name, "error", err)
			failures.Add(1)
			break
		}
		sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	<-done
}

func writeEvent(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(envelope{Event: event, Data: raw})
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
