// Package claim mediates operator actions on tickets: listing open work,
// claiming it, and closing it.
//
// Claim atomicity is delegated entirely to the external API; the coordinator
// only translates its success/conflict verdicts into chat outcomes and never
// infers a claim result locally.
package claim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nocdesk/helpdeskbot/internal/flow"
	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
)

// Callback payload encoding for the operator keyboards.
const (
	CallbackOpenTickets    = "open_tickets"
	CallbackMyTickets      = "my_tickets"
	CallbackTicketPrefix   = "ticket_"
	CallbackTake           = "take_ticket"
	CallbackSkip           = "skip_ticket"
	CallbackMyTicketPrefix = "myticket_"
	CallbackClose          = "close_ticket"
	CallbackCancelClose    = "cancel_close"
)

// Gateway is the subset of the ticket gateway the coordinator needs.
type Gateway interface {
	GetTicket(ctx context.Context, ticketID, operator string) (*models.Ticket, ticket.Outcome, error)
	ListTickets(ctx context.Context, operator string) ([]models.Ticket, ticket.Outcome, error)
	ListOpenTickets(ctx context.Context, operator string) ([]models.Ticket, ticket.Outcome, error)
	UpdateTicket(ctx context.Context, ticketID string, update models.TicketUpdate, operator string) (ticket.Outcome, error)
}

// Coordinator handles operator claim and close flows.
type Coordinator struct {
	states      *flow.StateManager
	gateway     Gateway
	msg         messaging.Service
	groupChatID string
}

// NewCoordinator creates the claim coordinator.
func NewCoordinator(states *flow.StateManager, gw Gateway, msg messaging.Service, groupChatID string) *Coordinator {
	slog.Debug("Creating claim Coordinator", "group_chat_set", groupChatID != "")
	return &Coordinator{states: states, gateway: gw, msg: msg, groupChatID: groupChatID}
}

func operatorKeyboard() [][]messaging.Button {
	return [][]messaging.Button{
		messaging.Row(
			messaging.Button{Label: "GET OPEN TICKET", Data: CallbackOpenTickets},
			messaging.Button{Label: "MY TICKET", Data: CallbackMyTickets},
		),
	}
}

func operatorGreeting(ev models.ChatEvent) string {
	return fmt.Sprintf("Hi %s (%s), User anda terdaftar sebagai Helpdesk. Semangat Pagi 💪 💪", ev.DisplayName, ev.Username)
}

// HandleAdminMenu greets a registered operator with the helpdesk keyboard.
func (c *Coordinator) HandleAdminMenu(ctx context.Context, ev models.ChatEvent) error {
	return c.msg.SendMenu(ctx, ev.UserID, operatorGreeting(ev), operatorKeyboard())
}

// HandleAdminHome re-renders the helpdesk keyboard in place (skip/cancel).
func (c *Coordinator) HandleAdminHome(ctx context.Context, ev models.ChatEvent) error {
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, operatorGreeting(ev), operatorKeyboard()); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleListOpen renders the open tickets available for claiming, grouped by
// category, with one button per ticket.
func (c *Coordinator) HandleListOpen(ctx context.Context, ev models.ChatEvent) error {
	open, _, err := c.gateway.ListOpenTickets(ctx, ev.UserID)
	if err != nil {
		slog.Error("Coordinator open ticket listing failed", "error", err, "operator", ev.UserID)
		if editErr := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Terjadi kesalahan saat mengambil data tiket._", nil); editErr != nil {
			return editErr
		}
		return c.msg.AckCallback(ctx, ev.CallbackID, "")
	}
	if len(open) == 0 {
		if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Tidak ada tiket aktif dengan status OPEN._", nil); err != nil {
			return err
		}
		return c.msg.AckCallback(ctx, ev.CallbackID, "")
	}

	body := "*Daftar tiket OPEN:*\n\n" + groupByCategory(open)
	keyboard := ticketKeyboard(open, CallbackTicketPrefix)
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, keyboard); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleView shows one open ticket and stages the claim confirmation.
func (c *Coordinator) HandleView(ctx context.Context, ev models.ChatEvent, ticketID string) error {
	t, _, err := c.gateway.GetTicket(ctx, ticketID, ev.UserID)
	if err != nil {
		slog.Error("Coordinator ticket fetch failed", "error", err, "ticketID", ticketID, "operator", ev.UserID)
		return c.msg.AckCallback(ctx, ev.CallbackID, "Data tiket tidak ditemukan.")
	}

	err = c.states.Save(ctx, models.ConversationState{
		UserID:       ev.UserID,
		Step:         models.StepConfirmClaim,
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
		TicketUserID: t.UserChatID,
	})
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Apakah anda ingin mengerjakan tiket ini?\n```\n%s```\nPelapor: %s", formatTicketView(t), t.UserName)
	keyboard := [][]messaging.Button{
		messaging.Row(
			messaging.Button{Label: "Ambil", Data: CallbackTake},
			messaging.Button{Label: "Skip", Data: CallbackSkip},
		),
	}
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, keyboard); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleTake claims the staged ticket for the operator. On success the claim
// is announced to the shared channel and, when resolvable, to the submitter.
// A conflict verdict from the external API is never announced and never
// treated as success: the operator gets a distinct "already taken" notice and
// a refreshed listing instead.
func (c *Coordinator) HandleTake(ctx context.Context, ev models.ChatEvent) error {
	state, err := c.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepConfirmClaim {
		return c.msg.AckCallback(ctx, ev.CallbackID, "Tidak ada tiket yang dipilih.")
	}

	status := models.TicketStatusInProgress
	agent := ev.UserID
	agentName := ev.Username
	update := models.TicketUpdate{
		Status:            &status,
		AssignedAgent:     &agent,
		AssignedAgentName: &agentName,
	}

	outcome, err := c.gateway.UpdateTicket(ctx, state.TicketID, update, ev.UserID)
	switch outcome {
	case ticket.OutcomeOK:
		// fall through below
	case ticket.OutcomeConflict:
		slog.Info("Coordinator claim conflict", "ticket", state.TicketNumber, "operator", ev.UserID)
		if err := c.msg.AckCallback(ctx, ev.CallbackID, "Tiket sudah diambil oleh agent lain."); err != nil {
			return err
		}
		if resetErr := c.states.ResetToMenu(ctx, ev.UserID); resetErr != nil {
			return resetErr
		}
		// Refresh the listing so the operator can pick another ticket.
		return c.HandleListOpen(ctx, ev)
	default:
		slog.Error("Coordinator claim failed", "error", err, "outcome", outcome, "ticket", state.TicketNumber, "operator", ev.UserID)
		return c.msg.AckCallback(ctx, ev.CallbackID, "Gagal mengambil tiket.")
	}

	announcement := fmt.Sprintf("Tiket *%s* sedang dikerjakan oleh agent kami *%s*. Mohon untuk ditunggu, Terimakasih...", state.TicketNumber, ev.DisplayName)
	if err := c.msg.SendMessage(ctx, c.groupChatID, announcement); err != nil {
		slog.Error("Coordinator failed to announce claim", "error", err, "ticket", state.TicketNumber)
	}

	if state.TicketUserID != "" {
		notice := fmt.Sprintf("Halo, Tiket Anda *%s* telah diambil oleh agent *%s* dan sedang dalam pengerjaan. Mohon ditunggu update selanjutnya.", state.TicketNumber, ev.DisplayName)
		if err := c.msg.SendMessage(ctx, state.TicketUserID, notice); err != nil {
			slog.Error("Coordinator failed to notify submitter", "error", err, "ticket", state.TicketNumber, "user", state.TicketUserID)
		}
	}

	if err := c.states.ResetToMenu(ctx, ev.UserID); err != nil {
		return err
	}
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Tiket berhasil diambil. Terima kasih._", nil); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleMyTickets lists tickets the operator is currently working on.
func (c *Coordinator) HandleMyTickets(ctx context.Context, ev models.ChatEvent) error {
	all, _, err := c.gateway.ListTickets(ctx, ev.UserID)
	if err != nil {
		slog.Error("Coordinator my ticket listing failed", "error", err, "operator", ev.UserID)
		if editErr := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Terjadi kesalahan._", nil); editErr != nil {
			return editErr
		}
		return c.msg.AckCallback(ctx, ev.CallbackID, "")
	}

	var mine []models.Ticket
	for _, t := range all {
		if t.Status == models.TicketStatusInProgress && strings.EqualFold(t.AssignedAgentName, ev.Username) {
			mine = append(mine, t)
		}
	}
	if len(mine) == 0 {
		if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Anda belum memiliki tiket yang sedang dikerjakan._", nil); err != nil {
			return err
		}
		return c.msg.AckCallback(ctx, ev.CallbackID, "")
	}

	body := "*Daftar tiket yang sedang Anda kerjakan:*\n\n" + groupByCategory(mine)
	keyboard := ticketKeyboard(mine, CallbackMyTicketPrefix)
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, keyboard); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleViewMine shows one claimed ticket and stages the close confirmation.
func (c *Coordinator) HandleViewMine(ctx context.Context, ev models.ChatEvent, ticketID string) error {
	t, _, err := c.gateway.GetTicket(ctx, ticketID, ev.UserID)
	if err != nil {
		slog.Error("Coordinator ticket fetch failed", "error", err, "ticketID", ticketID, "operator", ev.UserID)
		return c.msg.AckCallback(ctx, ev.CallbackID, "Data tiket tidak ditemukan.")
	}

	err = c.states.Save(ctx, models.ConversationState{
		UserID:       ev.UserID,
		Step:         models.StepConfirmClose,
		TicketID:     t.ID,
		TicketNumber: t.TicketNumber,
	})
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Apakah anda ingin menyelesaikan tiket ini?\n```\n%s```", formatTicketView(t))
	keyboard := [][]messaging.Button{
		messaging.Row(
			messaging.Button{Label: "YA", Data: CallbackClose},
			messaging.Button{Label: "TIDAK", Data: CallbackCancelClose},
		),
	}
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, keyboard); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleClose marks the staged ticket completed and sends a resolution
// notice to the shared channel. Naming the submitter in the notice is
// best-effort: it needs a re-fetch that may fail without failing the close.
func (c *Coordinator) HandleClose(ctx context.Context, ev models.ChatEvent) error {
	state, err := c.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepConfirmClose {
		return c.msg.AckCallback(ctx, ev.CallbackID, "Tidak ada tiket yang dipilih.")
	}

	status := models.TicketStatusCompleted
	outcome, err := c.gateway.UpdateTicket(ctx, state.TicketID, models.TicketUpdate{Status: &status}, ev.UserID)
	switch outcome {
	case ticket.OutcomeOK:
		// fall through below
	case ticket.OutcomeConflict:
		slog.Info("Coordinator close conflict", "ticket", state.TicketNumber, "operator", ev.UserID)
		return c.msg.AckCallback(ctx, ev.CallbackID, "Tiket sudah diambil oleh agent lain.")
	default:
		slog.Error("Coordinator close failed", "error", err, "outcome", outcome, "ticket", state.TicketNumber, "operator", ev.UserID)
		return c.msg.AckCallback(ctx, ev.CallbackID, "Gagal menyelesaikan tiket.")
	}

	notice := fmt.Sprintf("Tiket laporan *%s* sudah RESOLVED, silahkan diperiksa kembali", state.TicketNumber)
	if t, _, fetchErr := c.gateway.GetTicket(ctx, state.TicketID, ev.UserID); fetchErr == nil && t.UserName != "" {
		notice += " " + t.UserName
	}
	notice += ". Terimakasih..."
	if err := c.msg.SendMessage(ctx, c.groupChatID, notice); err != nil {
		slog.Error("Coordinator failed to announce resolution", "error", err, "ticket", state.TicketNumber)
	}

	if err := c.states.ResetToMenu(ctx, ev.UserID); err != nil {
		return err
	}
	if err := c.msg.EditMenu(ctx, ev.UserID, ev.MessageID, "_Tiket berhasil diselesaikan. Terima kasih._", nil); err != nil {
		return err
	}
	return c.msg.AckCallback(ctx, ev.CallbackID, "")
}

// formatTicketView renders a ticket for operator confirmation prompts.
func formatTicketView(t *models.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket Number: %s\n", t.TicketNumber)
	fmt.Fprintf(&b, "Category: %s\n", t.Category)
	if t.RequestType != "" {
		fmt.Fprintf(&b, "Permintaan: %s\n", t.RequestType)
	}
	if t.Wonum != "" {
		fmt.Fprintf(&b, "WONUM: %s\n", t.Wonum)
	}
	if t.ServiceNumber != "" {
		fmt.Fprintf(&b, "ND: %s\n", t.ServiceNumber)
	}
	fmt.Fprintf(&b, "Description: %s\n", t.Description)
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "User: %s\n", t.UserName)
	if t.AssignedAgentName != "" {
		fmt.Fprintf(&b, "Assigned Agent: %s\n", t.AssignedAgentName)
	}
	fmt.Fprintf(&b, "Created: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}

func groupByCategory(tickets []models.Ticket) string {
	grouped := make(map[string][]models.Ticket)
	var order []string
	for _, t := range tickets {
		if _, seen := grouped[t.Category]; !seen {
			order = append(order, t.Category)
		}
		grouped[t.Category] = append(grouped[t.Category], t)
	}
	var b strings.Builder
	for _, category := range order {
		fmt.Fprintf(&b, "*%s*\n", category)
		for _, t := range grouped[category] {
			fmt.Fprintf(&b, "- `%s`\n", t.TicketNumber)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func ticketKeyboard(tickets []models.Ticket, prefix string) [][]messaging.Button {
	keyboard := make([][]messaging.Button, 0, len(tickets))
	for _, t := range tickets {
		keyboard = append(keyboard, messaging.Row(messaging.Button{Label: t.TicketNumber, Data: prefix + t.ID}))
	}
	return keyboard
}
