package messaging

import (
	"context"

	"github.com/nocdesk/helpdeskbot/internal/models"
)

// Button is one inline keyboard option: a label shown to the user and an
// opaque callback payload delivered back as a ChatEvent.
type Button struct {
	Label string
	Data  string
}

// Row builds a keyboard row from buttons.
func Row(buttons ...Button) []Button {
	return buttons
}

// Service defines a pluggable message delivery abstraction.
// It supports sending plain messages and inline menus, and provides a
// channel of normalized inbound chat events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendMenu sends a message with an inline keyboard.
	SendMenu(ctx context.Context, to string, body string, keyboard [][]Button) error

	// EditMenu replaces the text and keyboard of a previously sent menu
	// message, for in-place navigation.
	EditMenu(ctx context.Context, to string, messageID int, body string, keyboard [][]Button) error

	// AckCallback acknowledges a button press, optionally with a short
	// notice shown to the user. Safe to call for already-answered callbacks.
	AckCallback(ctx context.Context, callbackID string, notice string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of normalized inbound chat events.
	Events() <-chan models.ChatEvent
}
