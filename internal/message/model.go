package message

import (
	"encoding/json"
	"strings"
	"time"
)

type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// decode turns one raw list entry into a Message. Entries have gone through
// two schema generations: current ones are JSON records, the oldest are
// bare "username: content" lines. Both decode to the same shape; anything
// else reports ok=false and is skipped by the callers.
func decode(raw string) (*Message, bool) {
	m := &Message{}
	if err := json.Unmarshal([]byte(raw), m); err == nil && m.Username != "" {
		return m, true
	}
	name, content, found := strings.Cut(raw, ": ")
	if !found || name == "" {
		return nil, false
	}
	return &Message{Username: name, Content: content}, true
}
