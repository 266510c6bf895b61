package duel

import "time"

// Server to client event names.
const (
	EventUpdate = "update"
	EventWinner = "winner"
	EventError  = "error"
)

// Client to server event names.
const (
	EventConnect = "connect"
	EventJoin    = "join"
	EventAttack  = "attack"
)

// Envelope frames every server to client message.
type Envelope struct {
	Type      string `json:"type"`
	DuelID    string `json:"duelId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewEnvelope stamps an outgoing event with the current time.
func NewEnvelope(eventType, duelID string, data any) Envelope {
	return Envelope{
		Type:      eventType,
		DuelID:    duelID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}
