// Package store provides storage backends for the helpdesk bot.
//
// This file implements an SQLite-backed store for conversation state and
// admin sessions.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/nocdesk/helpdeskbot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveConversationState stores or updates conversation state for a user.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState JSON marshal failed", "error", err, "userID", state.UserID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO conversation_states (user_id, step, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, state.UserID, string(state.Step), string(stateJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.UserID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

// GetConversationState retrieves conversation state for a user.
func (s *SQLiteStore) GetConversationState(userID string) (*models.ConversationState, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state_data FROM conversation_states WHERE user_id = ?`, userID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "userID", userID)
		return nil, err
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Error("SQLiteStore GetConversationState JSON unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to decode conversation state for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore GetConversationState found", "userID", userID, "step", state.Step)
	return &state, nil
}

// DeleteConversationState removes conversation state for a user.
func (s *SQLiteStore) DeleteConversationState(userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "userID", userID)
	return nil
}

// SaveAdminSession stores or updates a cached admin session token.
func (s *SQLiteStore) SaveAdminSession(session models.AdminSession) error {
	query := `
		INSERT OR REPLACE INTO admin_sessions (operator, token, created_at)
		VALUES (?, ?, ?)`
	_, err := s.db.Exec(query, session.Operator, session.Token, session.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAdminSession failed", "error", err, "operator", session.Operator)
		return fmt.Errorf("failed to save admin session for %s: %w", session.Operator, err)
	}
	slog.Debug("SQLiteStore SaveAdminSession succeeded", "operator", session.Operator)
	return nil
}

// GetAdminSession retrieves a cached admin session token.
func (s *SQLiteStore) GetAdminSession(operator string) (*models.AdminSession, error) {
	var session models.AdminSession
	err := s.db.QueryRow(`SELECT operator, token, created_at FROM admin_sessions WHERE operator = ?`, operator).
		Scan(&session.Operator, &session.Token, &session.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetAdminSession not found", "operator", operator)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAdminSession failed", "error", err, "operator", operator)
		return nil, err
	}
	slog.Debug("SQLiteStore GetAdminSession found", "operator", operator)
	return &session, nil
}

// DeleteAdminSession removes a cached admin session token.
func (s *SQLiteStore) DeleteAdminSession(operator string) error {
	_, err := s.db.Exec(`DELETE FROM admin_sessions WHERE operator = ?`, operator)
	if err != nil {
		slog.Error("SQLiteStore DeleteAdminSession failed", "error", err, "operator", operator)
		return err
	}
	slog.Debug("SQLiteStore DeleteAdminSession succeeded", "operator", operator)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
