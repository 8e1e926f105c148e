package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Standalone load generator: registers users, has each of them join a shared
// public room and spam messages through the REST API while listening on the
// gateway websocket, then prints latency percentiles.

var (
	baseURL   = flag.String("base", "http://localhost:8080", "core server base URL")
	wsURL     = flag.String("ws", "ws://localhost:8081/ws", "gateway websocket URL")
	adminUser = flag.String("admin", "admin", "admin username")
	userCount = flag.Int("users", 100, "number of users")
	msgCount  = flag.Int("messages", 20, "messages per user")
)

type tokenResponse struct {
	Token struct {
		Value string `json:"token"`
	} `json:"token"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

type roomResponse struct {
	Room struct {
		ID string `json:"id"`
	} `json:"room"`
}

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages each", *userCount, *msgCount)

	adminToken := createUser(*adminUser)
	if adminToken == "" {
		log.Fatal("could not obtain admin token; is the server fresh?")
	}
	roomID := createRoom(adminToken, fmt.Sprintf("load-%d", time.Now().Unix()))
	if roomID == "" {
		log.Fatal("could not create room")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
		failures  int
	)
	for i := 0; i < *userCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("loaduser%d", id)
			tok := createUser(name)
			if tok == "" {
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			go listen(name, tok, roomID)

			for m := 0; m < *msgCount; m++ {
				start := time.Now()
				ok := sendMessage(name, tok, roomID, fmt.Sprintf("message %d from %s", m, name))
				mu.Lock()
				if ok {
					latencies = append(latencies, time.Since(start))
				} else {
					failures++
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		if len(latencies) == 0 {
			return 0
		}
		return latencies[int(float64(len(latencies)-1)*p)]
	}
	log.Printf("done: %d sends, %d failures", len(latencies), failures)
	log.Printf("latency p50=%v p95=%v p99=%v", pct(0.50), pct(0.95), pct(0.99))
}

func createUser(name string) string {
	resp, err := postJSON("/api?action=createUser", "", "", map[string]string{"username": name})
	if err != nil {
		log.Printf("createUser %s: %v", name, err)
		return ""
	}
	defer resp.Body.Close()
	var data tokenResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token.Value
}

func createRoom(adminToken, name string) string {
	resp, err := postJSON("/api?action=createRoom", *adminUser, adminToken,
		map[string]string{"type": "public", "name": name})
	if err != nil {
		log.Printf("createRoom: %v", err)
		return ""
	}
	defer resp.Body.Close()
	var data roomResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Room.ID
}

func sendMessage(name, tok, roomID, content string) bool {
	resp, err := postJSON("/api?action=sendMessage", name, tok,
		map[string]string{"username": name, "roomId": roomID, "content": content})
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// 409 means the dedup guard caught a retry; count it as delivered.
	return resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict
}

// listen keeps a gateway connection open, joined to the room, and drains it.
func listen(name, tok, roomID string) {
	url := fmt.Sprintf("%s?username=%s&token=%s", *wsURL, name, tok)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return // gateway not running; latency numbers still stand
	}
	defer conn.Close()
	conn.WriteJSON(map[string]string{"action": "join", "roomId": roomID})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func postJSON(path, username, tok string, payload any) (*http.Response, error) {
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Username", username)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("server error: %s", resp.Status)
	}
	return resp, nil
}
