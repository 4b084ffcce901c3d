// Package relay drains operator replies queued by the external ticket API and
// delivers them over chat.
//
// Delivery is at-least-once: a comment is acknowledged back to the API only
// after its primary delivery to the shared channel succeeded, so a failed
// delivery leaves the comment pending for the next poll.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nocdesk/helpdeskbot/internal/flow"
	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
)

// DefaultPollInterval is how often the relay drains the pending comment queue
// when RELAY_POLL_INTERVAL is not set.
const DefaultPollInterval = 10 * time.Second

// Gateway is the subset of the ticket gateway the relay needs.
type Gateway interface {
	PendingComments(ctx context.Context, operator string) ([]models.PendingComment, ticket.Outcome, error)
	MarkCommentSent(ctx context.Context, commentID, operator string) (ticket.Outcome, error)
}

// Scheduler registers a recurring task. Satisfied by scheduler.Scheduler.
type Scheduler interface {
	AddInterval(interval time.Duration, task func())
}

// NotificationRelay polls the external API for operator replies and forwards
// them to the shared channel and, when resolvable, to the submitting user.
type NotificationRelay struct {
	gateway     Gateway
	msg         messaging.Service
	groupChatID string
	operator    string
	interval    time.Duration
}

// NewNotificationRelay creates a relay that polls as the given service
// operator identity.
func NewNotificationRelay(gw Gateway, msg messaging.Service, groupChatID, operator string, interval time.Duration) *NotificationRelay {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &NotificationRelay{gateway: gw, msg: msg, groupChatID: groupChatID, operator: operator, interval: interval}
}

// Start registers the polling loop on the scheduler.
func (r *NotificationRelay) Start(ctx context.Context, sched Scheduler) {
	slog.Info("Starting notification relay", "interval", r.interval)
	sched.AddInterval(r.interval, func() {
		tickCtx, cancel := context.WithTimeout(ctx, r.interval)
		defer cancel()
		r.Tick(tickCtx)
	})
}

// Tick drains the pending comment queue once. Each comment is processed
// independently: one failed delivery never blocks the rest of the batch, and
// a failure only means the comment stays queued for the next tick.
func (r *NotificationRelay) Tick(ctx context.Context) {
	pending, _, err := r.gateway.PendingComments(ctx, r.operator)
	if err != nil {
		slog.Error("Relay failed to fetch pending comments", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	slog.Debug("Relay draining pending comments", "count", len(pending))

	for _, comment := range pending {
		r.deliver(ctx, comment)
	}
}

func (r *NotificationRelay) deliver(ctx context.Context, comment models.PendingComment) {
	body := fmt.Sprintf("💬 Balasan agent *%s* untuk tiket *%s*:\n\n%s", comment.AgentUsername, comment.TicketNumber, comment.Comment)

	if err := r.msg.SendMessage(ctx, r.groupChatID, body); err != nil {
		slog.Error("Relay group delivery failed", "error", err, "commentID", comment.CommentID, "ticket", comment.TicketNumber)
		return
	}

	// Direct delivery is best-effort and carries a reply button so the user
	// can answer without retyping the ticket number.
	if comment.UserChatID != "" {
		keyboard := [][]messaging.Button{
			messaging.Row(messaging.Button{Label: "Balas", Data: flow.CallbackReplyPrefix + comment.TicketNumber}),
		}
		if err := r.msg.SendMenu(ctx, comment.UserChatID, body, keyboard); err != nil {
			slog.Error("Relay direct delivery failed", "error", err, "commentID", comment.CommentID, "user", comment.UserChatID)
		}
	}

	if _, err := r.gateway.MarkCommentSent(ctx, comment.CommentID, r.operator); err != nil {
		slog.Error("Relay failed to acknowledge comment", "error", err, "commentID", comment.CommentID)
	}
}
