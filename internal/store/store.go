// Package store provides storage backends for the helpdesk bot.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends for durable conversation state and admin sessions.
package store

import (
	"strings"
	"sync"

	"github.com/nocdesk/helpdeskbot/internal/models"
)

// Store is the durable keyed storage consumed by the state manager and the
// credential cache. Get methods return nil, nil when no record exists.
// Expiry is enforced by callers; backends are pure storage.
type Store interface {
	GetConversationState(userID string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error
	DeleteConversationState(userID string) error

	GetAdminSession(operator string) (*models.AdminSession, error)
	SaveAdminSession(session models.AdminSession) error
	DeleteAdminSession(operator string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use URL or key=value forms; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a simple in-memory store for conversation state and admin
// sessions. It is safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   map[string]models.ConversationState
	sessions map[string]models.AdminSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationState),
		sessions: make(map[string]models.AdminSession),
	}
}

func (s *InMemoryStore) GetConversationState(userID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.UserID] = state
	return nil
}

func (s *InMemoryStore) DeleteConversationState(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *InMemoryStore) GetAdminSession(operator string) (*models.AdminSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[operator]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *InMemoryStore) SaveAdminSession(session models.AdminSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Operator] = session
	return nil
}

func (s *InMemoryStore) DeleteAdminSession(operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, operator)
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
