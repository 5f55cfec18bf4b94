package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/grounded/internal/log"
)

// Store holds sessions in memory. Sessions are created on first Acquire and
// die only through Expire or an idle sweep; an expired ID stays known so
// reuse fails with ErrExpired instead of silently starting a fresh history.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
	expired  map[uuid.UUID]struct{}
	logger   log.Logger
	now      func() time.Time
}

type entry struct {
	// sem admits one in-flight turn. Buffered channel instead of a mutex
	// so Acquire can honor context cancellation while waiting.
	sem chan struct{}

	mu         sync.Mutex
	title      string
	turns      []Turn
	createdAt  time.Time
	lastActive time.Time
}

// NewStore creates an empty session store.
func NewStore(logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		sessions: make(map[uuid.UUID]*entry),
		expired:  make(map[uuid.UUID]struct{}),
		logger:   logger.With("component", "session"),
		now:      time.Now,
	}
}

// Create registers a new session and returns its ID.
func (s *Store) Create() uuid.UUID {
	id := uuid.New()

	s.mu.Lock()
	s.sessions[id] = newEntry(s.now())
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", id)
	return id
}

func newEntry(now time.Time) *entry {
	return &entry{sem: make(chan struct{}, 1), createdAt: now, lastActive: now}
}

// Acquire claims the session's turn slot, creating the session if the ID is
// new. It blocks while another turn is in flight and respects ctx while
// waiting. The returned release function must be called exactly once.
func (s *Store) Acquire(ctx context.Context, id uuid.UUID) (release func(), err error) {
	s.mu.Lock()
	if _, gone := s.expired[id]; gone {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", id, ErrExpired)
	}
	e, ok := s.sessions[id]
	if !ok {
		e = newEntry(s.now())
		s.sessions[id] = e
	}
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// The session may have expired while this caller waited.
	s.mu.Lock()
	_, gone := s.expired[id]
	s.mu.Unlock()
	if gone {
		<-e.sem
		return nil, fmt.Errorf("session %s: %w", id, ErrExpired)
	}

	e.mu.Lock()
	e.lastActive = s.now()
	e.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { <-e.sem }) }, nil
}

// AppendTurn adds a turn to the session history. The caller is expected to
// hold the session's turn slot.
func (s *Store) AppendTurn(id uuid.UUID, turn Turn) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}

	e.mu.Lock()
	if e.title == "" && turn.Role == RoleUser {
		e.title = deriveTitle(turn.Text)
	}
	e.turns = append(e.turns, turn)
	e.lastActive = s.now()
	e.mu.Unlock()
	return nil
}

// titleLimit bounds derived titles to a listing-friendly length.
const titleLimit = 60

func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit-1]) + "…"
}

// Get returns a snapshot of the session. The returned turns are a copy;
// mutating them does not affect the store.
func (s *Store) Get(id uuid.UUID) (Info, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		ID:         id,
		Title:      e.title,
		Turns:      slices.Clone(e.turns),
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
	}, nil
}

// Expire terminates the session. Expiration is terminal: every later
// operation on the ID fails with ErrExpired. Expiring an unknown ID returns
// ErrNotFound; expiring twice is idempotent.
func (s *Store) Expire(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.expired[id]; gone {
		return nil
	}
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	delete(s.sessions, id)
	s.expired[id] = struct{}{}
	s.logger.Debug("session expired", "session_id", id)
	return nil
}

// SweepIdle expires every session idle since before the cutoff and returns
// the expired IDs. Sessions with a turn in flight are left alone; their
// lastActive is fresh by definition of Acquire.
func (s *Store) SweepIdle(cutoff time.Time) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []uuid.UUID
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()
		if !idle {
			continue
		}
		delete(s.sessions, id)
		s.expired[id] = struct{}{}
		swept = append(swept, id)
	}

	if len(swept) > 0 {
		s.logger.Info("idle sessions swept", "count", len(swept))
	}
	return swept
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) lookup(id uuid.UUID) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.expired[id]; gone {
		return nil, fmt.Errorf("session %s: %w", id, ErrExpired)
	}
	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return e, nil
}
