// Package models defines the core data structures for the helpdesk bot.
//
// It includes types for tickets, comments, and chat events, which are shared
// across modules.
package models

import (
	"errors"
	"time"
)

// TicketStatus represents the lifecycle status of a ticket in the external store.
type TicketStatus string

const (
	// TicketStatusOpen marks a ticket waiting for an operator.
	TicketStatusOpen TicketStatus = "open"
	// TicketStatusInProgress marks a ticket claimed by an operator.
	TicketStatusInProgress TicketStatus = "in_progress"
	// TicketStatusCompleted marks a resolved ticket.
	TicketStatusCompleted TicketStatus = "completed"
)

// Error variables for better error handling and testability
var (
	ErrStaleState    = errors.New("no active conversation for this step")
	ErrUnknownChoice = errors.New("unknown menu choice")
	ErrClaimConflict = errors.New("ticket already claimed by another operator")
	ErrUnauthorized  = errors.New("unauthorized after token refresh")
	ErrTicketClosed  = errors.New("ticket is already completed")
)

// Ticket mirrors the ticket record returned by the external ticket API.
type Ticket struct {
	ID                string       `json:"id"`
	TicketNumber      string       `json:"ticket_number"`
	Category          string       `json:"category"`
	RequestType       string       `json:"permintaan,omitempty"`
	Description       string       `json:"description"`
	Status            TicketStatus `json:"status"`
	Wonum             string       `json:"wonum,omitempty"`
	ServiceNumber     string       `json:"nd_internet_voice,omitempty"`
	UserChatID        string       `json:"user_telegram_id,omitempty"`
	UserName          string       `json:"user_telegram_name,omitempty"`
	AssignedAgent     string       `json:"assigned_agent,omitempty"`
	AssignedAgentName string       `json:"assigned_agent_name,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// TicketCreate is the payload submitted to the external API when a user
// confirms a drafted request.
type TicketCreate struct {
	UserChatID  string            `json:"user_telegram_id"`
	UserName    string            `json:"user_telegram_name"`
	Category    string            `json:"category"`
	RequestType string            `json:"permintaan"`
	Description string            `json:"description"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// TicketUpdate is the partial-update payload for claim and close operations.
// Pointer fields are omitted when unset so the external API applies only the
// asserted changes.
type TicketUpdate struct {
	Status            *TicketStatus `json:"status,omitempty"`
	AssignedAgent     *string       `json:"assigned_agent,omitempty"`
	AssignedAgentName *string       `json:"assigned_agent_name,omitempty"`
}

// CommentCreate is the payload for forwarding a user chat reply to the
// external API as a ticket comment.
type CommentCreate struct {
	TicketNumber string `json:"ticket_number"`
	UserChatID   string `json:"user_telegram_id"`
	UserName     string `json:"user_telegram_name"`
	Comment      string `json:"comment"`
}

// PendingComment is an operator reply queued by the external API for chat
// delivery. The core only reads and acknowledges these records.
type PendingComment struct {
	CommentID     string `json:"comment_id"`
	TicketNumber  string `json:"ticket_number"`
	AgentUsername string `json:"agent_username"`
	UserChatID    string `json:"user_telegram_id,omitempty"`
	Comment       string `json:"comment"`
}

// EventKind identifies the type of an inbound chat event.
type EventKind string

const (
	// EventCommand is a slash command such as /start.
	EventCommand EventKind = "command"
	// EventText is a plain text message.
	EventText EventKind = "text"
	// EventCallback is an inline keyboard button press.
	EventCallback EventKind = "callback"
)

// ChatEvent is a normalized inbound chat interaction delivered by the
// messaging service.
type ChatEvent struct {
	Kind        EventKind
	UserID      string // canonical chat identity, used as the conversation state key
	Username    string // handle with @ prefix when available
	DisplayName string
	MessageID   int    // message carrying the pressed button, for in-place edits
	CallbackID  string // callback query identifier for acknowledgment
	Command     string
	Text        string
	Data        string // callback payload
	Time        int64
}
