package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ahrav/go-warden/internal/domain"
)

// Store defaults.
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepSchedule = "@every 5m"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("chat session not found")

// Store owns live sessions keyed by id. Calls on the same session are
// serialized; calls on different sessions run in parallel. Sessions idle
// for longer than the TTL are removed by Sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry

	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
	cron   *cron.Cron
}

type entry struct {
	mu      sync.Mutex
	session *domain.Session
}

// NewStore creates a Store. A non-positive ttl uses DefaultSessionTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With("component", "session_store"),
	}
}

// Create registers session under a fresh id and returns the id.
func (s *Store) Create(session *domain.Session) string {
	id := uuid.NewString()
	session.ID = id
	session.LastActive = s.now().UTC()

	s.mu.Lock()
	s.sessions[id] = &entry{session: session}
	s.mu.Unlock()
	return id
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (domain.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return domain.Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// With runs fn with exclusive access to the session. The session's last
// activity is refreshed when fn returns.
func (s *Store) With(ctx context.Context, id string, fn func(context.Context, *domain.Session) error) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err := fn(ctx, e.session)
	e.session.LastActive = s.now().UTC()
	return err
}

// Delete removes the session. Unknown ids are not an error.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed. Sessions busy in With are skipped.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		expired := e.session.LastActive.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Start schedules Sweep on a cron schedule ("@every 5m" when empty).
func (s *Store) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := s.Sweep(); n > 0 {
			s.logger.Info("expired chat sessions removed", "count", n, "remaining", s.Len())
		}
	}); err != nil {
		return err
	}
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	return nil
}

// Stop halts the sweep schedule and waits for a running sweep to finish.
func (s *Store) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	return e, ok
}
