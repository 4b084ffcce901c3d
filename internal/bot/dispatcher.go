// Package bot routes inbound chat events to the conversation engine and the
// operator claim coordinator.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nocdesk/helpdeskbot/internal/claim"
	"github.com/nocdesk/helpdeskbot/internal/flow"
	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
)

// Dispatcher consumes the messaging event stream and invokes the matching
// handler. Events are processed one at a time so conversation state reads and
// writes for a user never race each other.
type Dispatcher struct {
	states      *flow.StateManager
	engine      *flow.Engine
	coordinator *claim.Coordinator
	msg         messaging.Service
	admins      map[string]bool
}

// NewDispatcher creates an event dispatcher. adminIDs are the chat IDs
// allowed to use operator commands.
func NewDispatcher(states *flow.StateManager, engine *flow.Engine, coordinator *claim.Coordinator, msg messaging.Service, adminIDs []string) *Dispatcher {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Dispatcher{states: states, engine: engine, coordinator: coordinator, msg: msg, admins: admins}
}

// Run consumes events until the context is cancelled or the event channel
// closes.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher started", "admins", len(d.admins))
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "reason", ctx.Err())
			return
		case ev, ok := <-d.msg.Events():
			if !ok {
				slog.Info("Dispatcher event channel closed")
				return
			}
			if err := d.Dispatch(ctx, ev); err != nil {
				slog.Error("Dispatcher event handling failed", "error", err, "kind", ev.Kind, "user", ev.UserID)
			}
		}
	}
}

// Dispatch routes a single event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.ChatEvent) error {
	switch ev.Kind {
	case models.EventCommand:
		return d.handleCommand(ctx, ev)
	case models.EventCallback:
		return d.handleCallback(ctx, ev)
	case models.EventText:
		return d.handleText(ctx, ev)
	default:
		slog.Debug("Dispatcher ignoring event", "kind", ev.Kind, "user", ev.UserID)
		return nil
	}
}

func (d *Dispatcher) handleCommand(ctx context.Context, ev models.ChatEvent) error {
	switch ev.Command {
	case "start":
		return d.engine.HandleStart(ctx, ev)
	case "admin":
		if !d.admins[ev.UserID] {
			slog.Warn("Dispatcher rejected admin command", "user", ev.UserID, "username", ev.Username)
			return nil
		}
		return d.coordinator.HandleAdminMenu(ctx, ev)
	default:
		slog.Debug("Dispatcher ignoring command", "command", ev.Command, "user", ev.UserID)
		return nil
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, ev models.ChatEvent) error {
	data := ev.Data

	// Operator callbacks are gated on the admin list regardless of payload.
	switch {
	case data == claim.CallbackOpenTickets,
		data == claim.CallbackMyTickets,
		data == claim.CallbackTake,
		data == claim.CallbackSkip,
		data == claim.CallbackClose,
		data == claim.CallbackCancelClose,
		strings.HasPrefix(data, claim.CallbackTicketPrefix),
		strings.HasPrefix(data, claim.CallbackMyTicketPrefix):
		if !d.admins[ev.UserID] {
			slog.Warn("Dispatcher rejected operator callback", "user", ev.UserID, "data", data)
			return d.msg.AckCallback(ctx, ev.CallbackID, "")
		}
	}

	switch {
	case strings.HasPrefix(data, flow.CallbackMainPrefix):
		return d.engine.HandleMenuSelect(ctx, ev, strings.TrimPrefix(data, flow.CallbackMainPrefix))
	case strings.HasPrefix(data, flow.CallbackRequestPrefix):
		return d.engine.HandleSubmenuSelect(ctx, ev, strings.TrimPrefix(data, flow.CallbackRequestPrefix))
	case data == flow.CallbackBackMain:
		return d.engine.HandleBackToMenu(ctx, ev)
	case data == flow.CallbackSubmit:
		return d.engine.HandleConfirm(ctx, ev)
	case data == flow.CallbackRetry:
		return d.engine.HandleRetry(ctx, ev)
	case strings.HasPrefix(data, flow.CallbackReplyPrefix):
		return d.engine.OpenReplyThread(ctx, ev, strings.TrimPrefix(data, flow.CallbackReplyPrefix))
	case data == claim.CallbackOpenTickets:
		return d.coordinator.HandleListOpen(ctx, ev)
	case data == claim.CallbackMyTickets:
		return d.coordinator.HandleMyTickets(ctx, ev)
	case strings.HasPrefix(data, claim.CallbackTicketPrefix):
		return d.coordinator.HandleView(ctx, ev, strings.TrimPrefix(data, claim.CallbackTicketPrefix))
	case data == claim.CallbackTake:
		return d.coordinator.HandleTake(ctx, ev)
	case data == claim.CallbackSkip:
		return d.coordinator.HandleAdminHome(ctx, ev)
	case strings.HasPrefix(data, claim.CallbackMyTicketPrefix):
		return d.coordinator.HandleViewMine(ctx, ev, strings.TrimPrefix(data, claim.CallbackMyTicketPrefix))
	case data == claim.CallbackClose:
		return d.coordinator.HandleClose(ctx, ev)
	case data == claim.CallbackCancelClose:
		return d.coordinator.HandleAdminHome(ctx, ev)
	default:
		slog.Debug("Dispatcher ignoring callback", "data", data, "user", ev.UserID)
		return d.msg.AckCallback(ctx, ev.CallbackID, "")
	}
}

// handleText routes free text by the persisted conversation step. Text that
// arrives outside an input-awaiting step is ignored.
func (d *Dispatcher) handleText(ctx context.Context, ev models.ChatEvent) error {
	state, err := d.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil {
		slog.Debug("Dispatcher ignoring text without conversation", "user", ev.UserID)
		return nil
	}

	switch state.Step {
	case models.StepAwaitingFreeText:
		return d.engine.HandleFreeText(ctx, ev)
	case models.StepAwaitingReply:
		return d.engine.HandleReplyText(ctx, ev)
	default:
		slog.Debug("Dispatcher ignoring text at step", "step", state.Step, "user", ev.UserID)
		return nil
	}
}
