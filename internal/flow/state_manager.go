// Package flow provides the conversation state manager.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/store"
)

// DefaultConversationTTL is the sliding inactivity window after which a
// conversation is treated as absent and any further input is redirected to
// restart.
const DefaultConversationTTL = 30 * time.Minute

// StateManager mediates all reads and writes of per-user conversation state,
// enforcing the sliding expiration above the store so backends stay pure
// storage.
type StateManager struct {
	store store.Store
	ttl   time.Duration
}

// NewStateManager creates a StateManager backed by a Store. A non-positive
// ttl falls back to DefaultConversationTTL.
func NewStateManager(st store.Store, ttl time.Duration) *StateManager {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	slog.Debug("Creating StateManager", "ttl", ttl)
	return &StateManager{store: st, ttl: ttl}
}

// Get retrieves the conversation state for a user. Expired state is deleted
// and reported as absent (nil, nil).
func (sm *StateManager) Get(ctx context.Context, userID string) (*models.ConversationState, error) {
	state, err := sm.store.GetConversationState(userID)
	if err != nil {
		slog.Error("StateManager Get failed", "error", err, "userID", userID)
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	if time.Since(state.UpdatedAt) > sm.ttl {
		slog.Info("StateManager conversation expired", "userID", userID, "step", state.Step, "idle", time.Since(state.UpdatedAt))
		if err := sm.store.DeleteConversationState(userID); err != nil {
			slog.Error("StateManager failed to delete expired state", "error", err, "userID", userID)
		}
		return nil, nil
	}
	return state, nil
}

// Save persists the state, refreshing the sliding-expiration timestamp.
func (sm *StateManager) Save(ctx context.Context, state models.ConversationState) error {
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	if err := sm.store.SaveConversationState(state); err != nil {
		slog.Error("StateManager Save failed", "error", err, "userID", state.UserID, "step", state.Step)
		return err
	}
	slog.Debug("StateManager Save succeeded", "userID", state.UserID, "step", state.Step)
	return nil
}

// ResetToMenu overwrites the user's state with a fresh menu-step record,
// discarding any collected fields or staged tickets.
func (sm *StateManager) ResetToMenu(ctx context.Context, userID string) error {
	return sm.Save(ctx, models.ConversationState{UserID: userID, Step: models.StepMenu})
}

// Delete removes the user's conversation state entirely.
func (sm *StateManager) Delete(ctx context.Context, userID string) error {
	if err := sm.store.DeleteConversationState(userID); err != nil {
		slog.Error("StateManager Delete failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("StateManager Delete succeeded", "userID", userID)
	return nil
}
