// Package models defines state management structures for bot conversations.
package models

import "time"

// Step represents the current position of a user in the conversation flow.
type Step string

// Conversation steps. StepMenu is the initial step; an absent record is
// treated the same as StepMenu for menu selection and ignored everywhere else.
const (
	StepMenu             Step = "MENU"
	StepRequestMenu      Step = "REQUEST_MENU"
	StepAwaitingFreeText Step = "AWAITING_FREE_TEXT"
	StepAwaitingConfirm  Step = "AWAITING_CONFIRM"
	StepAwaitingReply    Step = "AWAITING_REPLY"
	StepConfirmClaim     Step = "CONFIRM_CLAIM"
	StepConfirmClose     Step = "CONFIRM_CLOSE"
)

// ConversationState is the persisted dialogue state for one user. It is
// owned exclusively by the store under key UserID: created on first
// interaction, overwritten on every transition, and deleted (or reset to
// StepMenu) on completion, error, or expiry.
type ConversationState struct {
	UserID       string            `json:"user_id"`
	Step         Step              `json:"step"`
	Category     string            `json:"category,omitempty"`
	RequestType  string            `json:"request_type,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	Draft        string            `json:"draft,omitempty"`         // canonical multi-line description text
	TicketID     string            `json:"ticket_id,omitempty"`     // staged ticket for claim/close confirmation
	TicketNumber string            `json:"ticket_number,omitempty"` // staged ticket for reply threads
	TicketUserID string            `json:"ticket_user_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// AdminSession is a cached privileged session against the external API,
// keyed by the operator identity used to authenticate. It is process-wide
// state: created on first privileged call, invalidated on a rejection,
// recreated on demand.
type AdminSession struct {
	Operator  string    `json:"operator"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
