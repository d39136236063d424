package changefeed

import (
	"encoding/json"
	"errors"
	"time"
)

// Message announces that a process committed a write at Path.
type Message struct {
	Origin    string    `json:"origin"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a change message stamped with the current time.
func NewMessage(origin, path string) *Message {
	return &Message{
		Origin:    origin,
		Path:      path,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON parses a message. Messages without an origin are rejected.
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Origin == "" {
		return nil, errors.New("change message has no origin")
	}
	return &msg, nil
}
