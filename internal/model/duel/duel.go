package duel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParticipantID identifies a combatant as supplied by the host platform.
// Platform launch payloads carry numeric ids, so both JSON strings and
// integers are accepted. Integers are stored in canonical decimal form.
type ParticipantID string

// UnmarshalJSON accepts `"42"` and `42` alike.
func (p *ParticipantID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ParticipantID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("participant id must be a string or integer: %w", err)
	}
	id, err := n.Int64()
	if err != nil {
		return fmt.Errorf("participant id %s is not an integer: %w", n, err)
	}
	*p = ParticipantID(strconv.FormatInt(id, 10))
	return nil
}

func (p ParticipantID) String() string { return string(p) }

// Phase is the lifecycle stage of a duel.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// Stats is the per-participant view rendered by clients.
type Stats struct {
	Health int `json:"health"`
}

// Snapshot maps every participant of a duel to its current stats.
type Snapshot map[ParticipantID]Stats

// State is the full read model of a duel.
type State struct {
	ID        string        `json:"id"`
	Phase     Phase         `json:"phase"`
	Players   Snapshot      `json:"players"`
	Winner    ParticipantID `json:"winner,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// WinnerNotice is the payload of the terminal winner event.
type WinnerNotice struct {
	Winner ParticipantID `json:"winner"`
}
