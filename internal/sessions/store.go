package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/screening-engine/internal/models"
)

// Common errors
var (
	ErrNoSession = errors.New("no session for user")

	// Drop is returned by a Mutate callback to remove the session atomically
	// with the mutation.
	Drop = errors.New("drop session")
)

// Persister snapshots sessions outside the process
type Persister interface {
	Save(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, userID int64) error
	Load(ctx context.Context) ([]*models.Session, error)
}

type entry struct {
	mu      sync.Mutex
	session *models.Session
	removed bool
}

// Store holds at most one session per user.
// The store lock only guards the map; each entry has its own lock, so
// mutations of different users never wait on each other. Lock order is
// entry then store.
type Store struct {
	mu        sync.RWMutex
	entries   map[int64]*entry
	persister Persister
	now       func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithPersister snapshots every mutation through p
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty session store
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[int64]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lookup(userID int64) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userID]
}

// GetOrCreate returns a copy of the user's session, creating an idle one if
// none exists.
func (s *Store) GetOrCreate(ctx context.Context, userID int64) *models.Session {
	for {
		s.mu.Lock()
		e, ok := s.entries[userID]
		if !ok {
			e = &entry{session: models.NewSession(userID, s.now())}
			s.entries[userID] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if !ok {
			s.save(ctx, e.session)
		}
		out := e.session.Clone()
		e.mu.Unlock()
		return out
	}
}

// Get returns a copy of the user's session
func (s *Store) Get(userID int64) (*models.Session, bool) {
	e := s.lookup(userID)
	if e == nil {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	return e.session.Clone(), true
}

// Mutate applies fn to the user's session. Calls for the same user are
// serialized; fn works on a copy that replaces the stored session only when
// fn returns nil. Returning Drop removes the session instead.
func (s *Store) Mutate(ctx context.Context, userID int64, fn func(*models.Session) error) error {
	for {
		e := s.lookup(userID)
		if e == nil {
			return ErrNoSession
		}

		e.mu.Lock()
		if e.removed {
			// lost a race with a removal; the map has moved on
			e.mu.Unlock()
			continue
		}

		work := e.session.Clone()
		err := fn(work)
		switch {
		case errors.Is(err, Drop):
			s.drop(ctx, userID, e)
			e.mu.Unlock()
			return nil
		case err != nil:
			e.mu.Unlock()
			return err
		}

		work.UpdatedAt = s.now()
		e.session = work
		s.save(ctx, work)
		e.mu.Unlock()
		return nil
	}
}

// Remove deletes the user's session. Removing an absent session is a no-op.
func (s *Store) Remove(ctx context.Context, userID int64) {
	e := s.lookup(userID)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removed {
		s.drop(ctx, userID, e)
	}
}

// RemoveIdle removes sessions that have not been mutated within horizon.
// Sessions holding a result awaiting persistence are kept.
func (s *Store) RemoveIdle(ctx context.Context, horizon time.Duration) []int64 {
	now := s.now()
	var removed []int64

	for userID, e := range s.snapshot() {
		e.mu.Lock()
		if !e.removed && !e.session.HasPending() && e.session.IdleFor(now) > horizon {
			s.drop(ctx, userID, e)
			removed = append(removed, userID)
		}
		e.mu.Unlock()
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

// Pending returns the users whose completed result is not yet persisted
func (s *Store) Pending() []int64 {
	var users []int64
	for userID, e := range s.snapshot() {
		e.mu.Lock()
		if !e.removed && e.session.HasPending() {
			users = append(users, userID)
		}
		e.mu.Unlock()
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// List returns copies of all sessions ordered by user id
func (s *Store) List() []*models.Session {
	var out []*models.Session
	for _, e := range s.snapshot() {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Restore loads persisted sessions into the store. Sessions already present
// in memory win over their snapshots.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}

	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, session := range loaded {
		if err := session.CheckInvariants(); err != nil {
			slog.Warn("skipping inconsistent session snapshot", "user_id", session.UserID, "error", err)
			continue
		}
		if _, exists := s.entries[session.UserID]; exists {
			continue
		}
		if session.Answers == nil {
			session.Answers = make(map[int]int)
		}
		s.entries[session.UserID] = &entry{session: session}
		restored++
	}

	slog.Info("sessions restored", "count", restored)
	return restored, nil
}

func (s *Store) snapshot() map[int64]*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]*entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// drop must be called with e.mu held
func (s *Store) drop(ctx context.Context, userID int64, e *entry) {
	e.removed = true

	s.mu.Lock()
	if s.entries[userID] == e {
		delete(s.entries, userID)
	}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Delete(ctx, userID); err != nil {
			slog.Warn("failed to delete session snapshot", "user_id", userID, "error", err)
		}
	}
}

func (s *Store) save(ctx context.Context, session *models.Session) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(ctx, session); err != nil {
		slog.Warn("failed to save session snapshot", "user_id", session.UserID, "error", err)
	}
}
