package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/solvision/service/db"
	"github.com/brojonat/solvision/service/explorer"
	"github.com/brojonat/solvision/service/metrics"
	natspkg "github.com/brojonat/solvision/service/nats"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/google/uuid"
)

var ErrInvalidSessionID = errors.New("invalid session id")

// LookupStore persists the most recent lookup of each session.
type LookupStore interface {
	SaveLookup(ctx context.Context, sessionID string, data *wallet.Data) (*db.Lookup, error)
	GetLookup(ctx context.Context, sessionID string) (*db.Lookup, error)
	DeleteLookup(ctx context.Context, sessionID string) error
}

// Session is one analyst's explorer. Each session has its own controller, so searches in one
// session never supersede searches in another.
type Session struct {
	ID         string
	Controller *explorer.Controller
	CreatedAt  time.Time

	// persistMu serializes writes of this session's lookup; persisted is the newest
	// generation written so far.
	persistMu sync.Mutex
	persisted uint64
}

// SessionRegistry owns the live sessions of the server.
type SessionRegistry struct {
	fetcher   explorer.Fetcher
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry. Every session's controller fetches through
// fetcher. If publisher is nil, notifications are only logged.
func NewSessionRegistry(fetcher explorer.Fetcher, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		fetcher:   fetcher,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// Create starts a new session with a random id.
func (r *SessionRegistry) Create() *Session {
	session, _ := r.Open(uuid.NewString())
	return session
}

// Open returns the session with the given id, creating it if it is not live.
// Ids must be UUIDs.
func (r *SessionRegistry) Open(id string) (*Session, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	id = parsed.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok {
		return session, nil
	}

	logger := r.logger.With("session_id", id)
	var notifier explorer.Notifier
	if r.publisher != nil {
		notifier = natspkg.Notifier(r.publisher, id)
	}

	session := &Session{
		ID:         id,
		Controller: explorer.NewController(r.fetcher, notifier, r.metrics, logger),
		CreatedAt:  time.Now().UTC(),
	}
	r.sessions[id] = session

	if r.metrics != nil {
		r.metrics.RecordSessionChange(1)
	}
	logger.Debug("session opened")

	return session, nil
}

// Get returns a live session.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[parsed.String()]
	return session, ok
}

// Close forgets a session. It reports whether the session was live.
func (r *SessionRegistry) Close(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[parsed.String()]; !ok {
		return false
	}
	delete(r.sessions, parsed.String())

	if r.metrics != nil {
		r.metrics.RecordSessionChange(-1)
	}
	return true
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// persist writes the session's current outcome to store: the wallet data when ready, a
// deletion when the last search failed. Outcomes older than one already written are skipped,
// as are sessions still loading.
func (s *Session) persist(ctx context.Context, store LookupStore, logger *slog.Logger) error {
	if store == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.Controller.Snapshot()
	if snap.Generation <= s.persisted {
		return nil
	}

	switch snap.Status {
	case explorer.StatusReady:
		if _, err := store.SaveLookup(ctx, s.ID, snap.Wallet); err != nil {
			return fmt.Errorf("failed to save lookup: %w", err)
		}
	case explorer.StatusError:
		if err := store.DeleteLookup(ctx, s.ID); err != nil {
			return fmt.Errorf("failed to delete lookup: %w", err)
		}
	default:
		return nil
	}

	s.persisted = snap.Generation
	logger.DebugContext(ctx, "lookup persisted",
		"session_id", s.ID,
		"status", snap.Status,
		"generation", snap.Generation,
	)
	return nil
}

// restore loads the session's persisted lookup into an idle controller. It reports whether
// anything was restored; a session that has searched since keeps its own state.
func (s *Session) restore(ctx context.Context, store LookupStore) (bool, error) {
	if store == nil {
		return false, nil
	}

	lookup, err := store.GetLookup(ctx, s.ID)
	if errors.Is(err, db.ErrLookupNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get lookup: %w", err)
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.Controller.Restore(lookup.Data()) {
		return false, nil
	}
	s.persisted = s.Controller.Snapshot().Generation
	return true, nil
}
