package duel

import (
	"sync"
	"time"

	"github.com/samber/lo"

	model "github.com/zhouzirui/duel-arena/backend/internal/model/duel"
)

// MaxHealth is the ceiling of the health scale rendered by clients.
const MaxHealth = 100

// Rules holds the tunable combat constants.
type Rules struct {
	StartHealth int
	Damage      int
}

// DefaultRules returns full health and ten damage per attack.
func DefaultRules() Rules {
	return Rules{StartHealth: MaxHealth, Damage: 10}
}

func (r Rules) normalized() Rules {
	def := DefaultRules()
	if r.StartHealth <= 0 || r.StartHealth > MaxHealth {
		r.StartHealth = def.StartHealth
	}
	if r.Damage <= 0 {
		r.Damage = def.Damage
	}
	return r
}

type participant struct {
	id     model.ParticipantID
	health int
}

// Outcome describes the effect of an accepted attack.
type Outcome struct {
	Snapshot model.Snapshot
	Finished bool
	Winner   model.ParticipantID
}

// Session is the state machine of a single duel. Every mutation happens
// under mu, and events are handed to the notifier before mu is released.
type Session struct {
	id        string
	rules     Rules
	notifier  model.Notifier
	now       func() time.Time
	createdAt time.Time

	mu         sync.Mutex
	phase      model.Phase
	slots      [2]*participant
	winner     model.ParticipantID
	members    map[model.ParticipantID]model.Peer
	lastActive time.Time
	evicted    bool
}

func newSession(id string, rules Rules, notifier model.Notifier, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	created := now()
	return &Session{
		id:         id,
		rules:      rules.normalized(),
		notifier:   notifier,
		now:        now,
		createdAt:  created,
		phase:      model.PhaseWaiting,
		members:    make(map[model.ParticipantID]model.Peer, 2),
		lastActive: created,
	}
}

// ID returns the externally supplied duel identifier.
func (s *Session) ID() string { return s.id }

// Join places participantID in the first free slot, or rebinds peer when the
// participant already holds a slot. A nil peer joins without attaching a
// connection. The returned slot is 0 or 1.
func (s *Session) Join(participantID model.ParticipantID, peer model.Peer) (int, error) {
	if participantID == "" {
		return -1, ErrInvalidParticipant
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return -1, ErrEvicted
	}
	if s.phase == model.PhaseFinished {
		return -1, ErrFinished
	}

	slot := s.slotOfLocked(participantID)
	if slot < 0 {
		switch {
		case s.slots[0] == nil:
			slot = 0
		case s.slots[1] == nil:
			slot = 1
		default:
			return -1, ErrSessionFull
		}
		s.slots[slot] = &participant{id: participantID, health: s.rules.StartHealth}
	}

	if peer != nil {
		if previous, ok := s.members[participantID]; ok && previous != peer {
			previous.Close()
		}
		s.members[participantID] = peer
	}

	if s.phase == model.PhaseWaiting && s.slots[0] != nil && s.slots[1] != nil {
		s.phase = model.PhaseActive
	}
	s.lastActive = s.now()

	s.notifyUpdateLocked()
	return slot, nil
}

// Attack resolves one attack by participantID against its opponent.
// ErrNotActive is returned outside the active phase and for participants that
// hold no slot; callers are expected to ignore it.
func (s *Session) Attack(participantID model.ParticipantID) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted || s.phase != model.PhaseActive {
		return Outcome{}, ErrNotActive
	}
	attacker := s.slotOfLocked(participantID)
	if attacker < 0 {
		return Outcome{}, ErrNotActive
	}

	opponent := s.slots[1-attacker]
	opponent.health = max(opponent.health-s.rules.Damage, 0)
	s.lastActive = s.now()

	if opponent.health == 0 {
		s.phase = model.PhaseFinished
		s.winner = participantID
	}

	outcome := Outcome{
		Snapshot: s.snapshotLocked(),
		Finished: s.phase == model.PhaseFinished,
		Winner:   s.winner,
	}

	peers := s.peersLocked()
	if s.notifier != nil {
		s.notifier.Update(s.id, peers, outcome.Snapshot)
		if outcome.Finished {
			s.notifier.Winner(s.id, peers, s.winner)
		}
	}
	if outcome.Finished {
		// The notifier closes the peers after the winner frame.
		clear(s.members)
	}

	return outcome, nil
}

// Leave detaches peer from participantID if it is still the bound
// connection. The participant keeps its slot and health.
func (s *Session) Leave(participantID model.ParticipantID, peer model.Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.members[participantID]
	if !ok || current != peer {
		return false
	}
	delete(s.members, participantID)
	s.lastActive = s.now()
	return true
}

// Snapshot returns the health of every participant.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the full read model.
func (s *Session) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.State{
		ID:        s.id,
		Phase:     s.phase,
		Players:   s.snapshotLocked(),
		Winner:    s.winner,
		CreatedAt: s.createdAt,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() model.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) removableLocked() bool {
	return s.phase == model.PhaseFinished || (s.slots[0] == nil && s.slots[1] == nil)
}

func (s *Session) expiredLocked(now time.Time, grace time.Duration) bool {
	if s.phase == model.PhaseFinished {
		return true
	}
	idle := now.Sub(s.lastActive) >= grace
	if s.phase == model.PhaseWaiting {
		return idle
	}
	return idle && len(s.members) == 0
}

// evictLocked marks the session dead and returns the peers to close.
func (s *Session) evictLocked() []model.Peer {
	s.evicted = true
	peers := s.peersLocked()
	clear(s.members)
	return peers
}

func (s *Session) notifyUpdateLocked() {
	if s.notifier == nil {
		return
	}
	s.notifier.Update(s.id, s.peersLocked(), s.snapshotLocked())
}

func (s *Session) slotOfLocked(participantID model.ParticipantID) int {
	for i, p := range s.slots {
		if p != nil && p.id == participantID {
			return i
		}
	}
	return -1
}

func (s *Session) snapshotLocked() model.Snapshot {
	snapshot := make(model.Snapshot, 2)
	for _, p := range s.slots {
		if p != nil {
			snapshot[p.id] = model.Stats{Health: p.health}
		}
	}
	return snapshot
}

func (s *Session) peersLocked() []model.Peer {
	return lo.Values(s.members)
}
