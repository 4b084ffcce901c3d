// Package store provides storage backends for the helpdesk bot.
//
// This file implements a PostgreSQL-backed store for conversation state and
// admin sessions.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/nocdesk/helpdeskbot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveConversationState stores or updates conversation state for a user.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState JSON marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	query := `
		INSERT INTO conversation_states (user_id, step, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET step = EXCLUDED.step, state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, state.UserID, string(state.Step), string(stateJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

// GetConversationState retrieves conversation state for a user.
func (s *PostgresStore) GetConversationState(userID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_data FROM conversation_states WHERE user_id = $1`, userID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "userID", userID)
		return nil, err
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("PostgresStore GetConversationState JSON unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore GetConversationState found", "userID", userID, "step", state.Step)
	return &state, nil
}

// DeleteConversationState removes conversation state for a user.
func (s *PostgresStore) DeleteConversationState(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("PostgresStore DeleteConversationState succeeded", "userID", userID)
	return nil
}

// SaveAdminSession stores or updates a cached admin session token.
func (s *PostgresStore) SaveAdminSession(session models.AdminSession) error {
	query := `
		INSERT INTO admin_sessions (operator, token, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (operator) DO UPDATE
		SET token = EXCLUDED.token, created_at = EXCLUDED.created_at`
	_, err := s.db.Exec(query, session.Operator, session.Token, session.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAdminSession failed", "error", err, "operator", session.Operator)
		return fmt.Errorf("failed to save admin session for %s: %w", session.Operator, err)
	}
	slog.Debug("PostgresStore SaveAdminSession succeeded", "operator", session.Operator)
	return nil
}

// GetAdminSession retrieves a cached admin session token.
func (s *PostgresStore) GetAdminSession(operator string) (*models.AdminSession, error) {
	var session models.AdminSession
	err := s.db.QueryRow(`SELECT operator, token, created_at FROM admin_sessions WHERE operator = $1`, operator).
		Scan(&session.Operator, &session.Token, &session.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetAdminSession not found", "operator", operator)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAdminSession failed", "error", err, "operator", operator)
		return nil, err
	}
	slog.Debug("PostgresStore GetAdminSession found", "operator", operator)
	return &session, nil
}

// DeleteAdminSession removes a cached admin session token.
func (s *PostgresStore) DeleteAdminSession(operator string) error {
	_, err := s.db.Exec(`DELETE FROM admin_sessions WHERE operator = $1`, operator)
	if err != nil {
		slog.Error("PostgresStore DeleteAdminSession failed", "error", err, "operator", operator)
		return err
	}
	slog.Debug("PostgresStore DeleteAdminSession succeeded", "operator", operator)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
