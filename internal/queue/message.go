package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageVersion is the payload version written by this build. Payloads
// without a version field predate versioning and read as version 1.
const MessageVersion = 1

// Message asks a worker to run one analysis job.
type Message struct {
	JobID      string `json:"jobId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt,omitempty"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the wire form of msg, defaulting the version.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a wire payload. Unknown fields are ignored.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	if msg.Version == 0 {
		msg.Version = 1
	}
	return msg, nil
}

// QueuedFor reports how long the message waited since it was published.
func (m Message) QueuedFor(now time.Time) (time.Duration, bool) {
	at, err := time.Parse(time.RFC3339, m.EnqueuedAt)
	if err != nil {
		return 0, false
	}
	if wait := now.Sub(at); wait > 0 {
		return wait, true
	}
	return 0, true
}
