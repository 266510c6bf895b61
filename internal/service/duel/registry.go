package duel

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	model "github.com/zhouzirui/duel-arena/backend/internal/model/duel"
)

const (
	// MaxIDLength bounds duel ids accepted from clients.
	MaxIDLength = 128

	DefaultIdleGrace     = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRules overrides the combat constants used for new duels.
func WithRules(rules Rules) RegistryOption {
	return func(r *Registry) { r.rules = rules.normalized() }
}

// WithIdleGrace sets how long a waiting or abandoned duel survives.
func WithIdleGrace(grace time.Duration) RegistryOption {
	return func(r *Registry) {
		if grace > 0 {
			r.grace = grace
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry owns every live duel of the process.
type Registry struct {
	notifier model.Notifier
	rules    Rules
	grace    time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions report to notifier.
func NewRegistry(notifier model.Notifier, opts ...RegistryOption) *Registry {
	r := &Registry{
		notifier: notifier,
		rules:    DefaultRules(),
		grace:    DefaultIdleGrace,
		log:      zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeID trims id and checks it is usable as a duel identifier.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Wrap(ErrInvalidSession, "duel id is empty")
	}
	if len(id) > MaxIDLength {
		return "", errors.Wrapf(ErrInvalidSession, "duel id longer than %d bytes", MaxIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsControl(r) || unicode.IsSpace(r) }) >= 0 {
		return "", errors.Wrapf(ErrInvalidSession, "duel id %q contains whitespace or control characters", id)
	}
	return id, nil
}

// GetOrCreate returns the duel registered under id, creating a waiting duel
// when none exists. Concurrent callers for the same id observe one instance.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok {
		return session, nil
	}

	session := newSession(id, r.rules, r.notifier, r.now)
	r.sessions[id] = session
	r.log.Info("duel created", zap.String("duel", id))
	return session, nil
}

// Get looks up a duel without creating it.
func (r *Registry) Get(id string) (*Session, bool) {
	id, err := NormalizeID(id)
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

// Remove evicts the duel under id if it is finished or has no participants.
// It reports whether a session was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	session.mu.Lock()
	if !session.removableLocked() {
		session.mu.Unlock()
		r.mu.Unlock()
		return false
	}
	peers := session.evictLocked()
	session.mu.Unlock()

	delete(r.sessions, id)
	r.mu.Unlock()

	closePeers(peers)
	r.log.Info("duel removed", zap.String("duel", id))
	return true
}

// Len returns the number of live duels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts finished duels and duels idle beyond the grace period.
func (r *Registry) Sweep(now time.Time) int {
	var (
		evicted []string
		peers   []model.Peer
	)

	r.mu.Lock()
	for id, session := range r.sessions {
		session.mu.Lock()
		if session.expiredLocked(now, r.grace) {
			peers = append(peers, session.evictLocked()...)
			evicted = append(evicted, id)
			delete(r.sessions, id)
		}
		session.mu.Unlock()
	}
	r.mu.Unlock()

	closePeers(peers)
	for _, id := range evicted {
		r.log.Info("duel evicted", zap.String("duel", id))
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				r.log.Debug("sweep finished", zap.Int("evicted", n), zap.Int("live", r.Len()))
			}
		}
	}
}

func closePeers(peers []model.Peer) {
	for _, peer := range peers {
		peer.Close()
	}
}
