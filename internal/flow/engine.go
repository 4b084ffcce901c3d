// Package flow implements the conversational intake engine.
//
// The engine drives one user's dialogue from menu selection through
// free-text capture to submission. Every handler re-reads persisted state
// and validates the expected step before acting, which makes stale button
// presses and duplicate event deliveries cheap no-ops instead of state
// corruption.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
)

// Callback payload encoding for the keyboards the engine renders.
const (
	CallbackMainPrefix    = "main_"
	CallbackRequestPrefix = "req_"
	CallbackSubmit        = "submit"
	CallbackRetry         = "retry"
	CallbackBackMain      = "back_main"
	CallbackReplyPrefix   = "reply_"
)

// MaxActiveTickets caps how many unresolved tickets one user may hold before
// new intakes are refused.
const MaxActiveTickets = 10

// Gateway is the subset of the ticket gateway the engine needs.
type Gateway interface {
	CreateTicket(ctx context.Context, create models.TicketCreate) (*models.Ticket, ticket.Outcome, error)
	CreateComment(ctx context.Context, comment models.CommentCreate, operator string) (ticket.Outcome, error)
	FindTicketByNumber(ctx context.Context, ticketNumber, operator string) (*models.Ticket, ticket.Outcome, error)
	ListTickets(ctx context.Context, operator string) ([]models.Ticket, ticket.Outcome, error)
}

// Engine is the per-user conversation state machine.
type Engine struct {
	states      *StateManager
	gateway     Gateway
	msg         messaging.Service
	groupChatID string
	apiOperator string // operator identity for privileged bot-side calls
}

// NewEngine creates the conversation engine.
func NewEngine(states *StateManager, gw Gateway, msg messaging.Service, groupChatID, apiOperator string) *Engine {
	slog.Debug("Creating conversation Engine", "group_chat_set", groupChatID != "")
	return &Engine{states: states, gateway: gw, msg: msg, groupChatID: groupChatID, apiOperator: apiOperator}
}

// HandleStart resets the user to the main menu and renders the category
// keyboard. Users holding too many unresolved tickets are refused a new
// intake until one is resolved.
func (e *Engine) HandleStart(ctx context.Context, ev models.ChatEvent) error {
	active := e.activeTickets(ctx, ev.Username)
	if len(active) >= MaxActiveTickets {
		body := fmt.Sprintf(
			"Anda sudah memiliki maksimal %d tiket aktif.\nTiket aktif Anda:\n%s\nSilahkan menunggu sampai tiket RESOLVED sebelum membuat tiket baru. Terimakasih.",
			MaxActiveTickets, ticketNumberList(active))
		return e.msg.SendMessage(ctx, ev.UserID, body)
	}

	if err := e.states.ResetToMenu(ctx, ev.UserID); err != nil {
		return err
	}

	if len(active) > 0 {
		notice := fmt.Sprintf("Attention: Anda masih mempunyai tiket laporan aktif:\n%s\nAnda tetap dapat membuat laporan baru.", ticketNumberList(active))
		if err := e.msg.SendMessage(ctx, ev.UserID, notice); err != nil {
			slog.Error("Engine failed to send active ticket notice", "error", err, "userID", ev.UserID)
		}
	}

	greeting := fmt.Sprintf("Hi %s, apa yang bisa saya bantu?", ev.DisplayName)
	return e.msg.SendMenu(ctx, ev.UserID, greeting, mainMenuKeyboard())
}

// HandleMenuSelect processes a category selection from the main menu.
// Unknown categories are acknowledged without mutating state.
func (e *Engine) HandleMenuSelect(ctx context.Context, ev models.ChatEvent, categoryName string) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state != nil && state.Step != models.StepMenu {
		slog.Debug("Engine menu select from stale step", "userID", ev.UserID, "step", state.Step)
		return e.msg.AckCallback(ctx, ev.CallbackID, "Silahkan mulai dengan perintah /start")
	}

	category, ok := CategoryByName(categoryName)
	if !ok {
		slog.Debug("Engine unknown category", "userID", ev.UserID, "category", categoryName)
		return e.msg.AckCallback(ctx, ev.CallbackID, "Fitur ini sedang dalam tahap pengembangan.")
	}

	err = e.states.Save(ctx, models.ConversationState{
		UserID:   ev.UserID,
		Step:     models.StepRequestMenu,
		Category: category.Name,
	})
	if err != nil {
		return err
	}

	body := fmt.Sprintf("Anda memilih *%s*. Silahkan pilih permintaan anda", category.Name)
	if err := e.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, requestKeyboard(category)); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleSubmenuSelect processes a request-type selection. The persisted step
// must still be the request submenu for the stored category; anything else is
// a stale press and only gets a restart hint.
func (e *Engine) HandleSubmenuSelect(ctx context.Context, ev models.ChatEvent, requestType string) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepRequestMenu {
		return e.msg.AckCallback(ctx, ev.CallbackID, "Silahkan mulai dengan perintah /start")
	}

	tmpl, ok := TemplateFor(state.Category, requestType)
	if !ok {
		slog.Warn("Engine no template for request", "userID", ev.UserID, "category", state.Category, "request", requestType)
		return e.msg.AckCallback(ctx, ev.CallbackID, "Silahkan mulai dengan perintah /start")
	}

	state.Step = models.StepAwaitingFreeText
	state.RequestType = requestType
	if err := e.states.Save(ctx, *state); err != nil {
		return err
	}

	body := fmt.Sprintf(
		"Anda memilih *%s - %s*. Silahkan salin dan sesuaikan format di bawah ini:\n\n```\n%s\n```\nSesuaikan format dan balas pesan ini dengan format yang sudah disesuaikan dengan permintaan anda.",
		state.Category, requestType, tmpl.Text())
	if err := e.msg.EditMenu(ctx, ev.UserID, ev.MessageID, body, nil); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleBackToMenu returns the user to the main menu from a submenu.
func (e *Engine) HandleBackToMenu(ctx context.Context, ev models.ChatEvent) error {
	if err := e.states.ResetToMenu(ctx, ev.UserID); err != nil {
		return err
	}
	greeting := fmt.Sprintf("Hi %s, apa yang bisa saya bantu?", ev.DisplayName)
	if err := e.msg.EditMenu(ctx, ev.UserID, ev.MessageID, greeting, mainMenuKeyboard()); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleFreeText parses and validates a filled-in template. A rejected
// submission resets the conversation to the menu with no partial draft
// retained; an accepted one moves to the confirmation step.
func (e *Engine) HandleFreeText(ctx context.Context, ev models.ChatEvent) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepAwaitingFreeText {
		slog.Debug("Engine free text outside input step, ignoring", "userID", ev.UserID)
		return nil
	}

	tmpl, ok := TemplateFor(state.Category, state.RequestType)
	if !ok {
		if err := e.states.ResetToMenu(ctx, ev.UserID); err != nil {
			return err
		}
		return e.msg.SendMessage(ctx, ev.UserID, "Terjadi kesalahan. Silahkan ulangi dengan /start.")
	}

	parsed := ParseFreeText(ev.Text)
	fields, draft, err := tmpl.Evaluate(parsed)
	if err != nil {
		slog.Info("Engine submission rejected", "userID", ev.UserID, "category", state.Category, "request", state.RequestType, "error", err)
		if resetErr := e.states.ResetToMenu(ctx, ev.UserID); resetErr != nil {
			return resetErr
		}
		body := fmt.Sprintf("*Format tidak sesuai.* Mohon isi field wajib (%s, %s) dengan benar.\nSilahkan ulangi dengan /start.", FieldTransactionType, FieldWonum)
		return e.msg.SendMessage(ctx, ev.UserID, body)
	}

	state.Step = models.StepAwaitingConfirm
	state.Fields = fields
	state.Draft = draft
	if err := e.states.Save(ctx, *state); err != nil {
		return err
	}

	body := fmt.Sprintf("Format anda diterima, pastikan data sudah benar sebelum melakukan permintaan.\n\n```\n%s\n```", draft)
	keyboard := [][]messaging.Button{
		messaging.Row(
			messaging.Button{Label: "SUBMIT", Data: CallbackSubmit},
			messaging.Button{Label: "ULANGI", Data: CallbackRetry},
		),
	}
	return e.msg.SendMenu(ctx, ev.UserID, body, keyboard)
}

// HandleConfirm submits the staged draft. A replayed confirm after the
// conversation has already reset is acknowledged without effect, so
// duplicate button presses never create duplicate tickets. The conversation
// returns to the menu regardless of submission outcome.
func (e *Engine) HandleConfirm(ctx context.Context, ev models.ChatEvent) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepAwaitingConfirm {
		return e.msg.AckCallback(ctx, ev.CallbackID, "Tidak ada data untuk disubmit.")
	}

	create := models.TicketCreate{
		UserChatID:  ev.UserID,
		UserName:    ev.Username,
		Category:    state.Category,
		RequestType: state.RequestType,
		Description: state.Draft,
		Fields:      state.Fields,
	}

	created, outcome, err := e.gateway.CreateTicket(ctx, create)
	if resetErr := e.states.ResetToMenu(ctx, ev.UserID); resetErr != nil {
		slog.Error("Engine failed to reset state after submit", "error", resetErr, "userID", ev.UserID)
	}
	if err != nil || outcome != ticket.OutcomeOK {
		slog.Error("Engine ticket submission failed", "error", err, "outcome", outcome, "userID", ev.UserID)
		if sendErr := e.msg.SendMessage(ctx, ev.UserID, "Gagal membuat tiket. Silahkan coba lagi."); sendErr != nil {
			slog.Error("Engine failed to send submission failure notice", "error", sendErr, "userID", ev.UserID)
		}
		return e.msg.AckCallback(ctx, ev.CallbackID, "")
	}

	announcement := fmt.Sprintf(
		"*PERMINTAAN %s - %s*\nTicket ID: `%s`\nUser: _%s_ (%s)\n\nDeskripsi:\n```\n%s\n```",
		state.Category, state.RequestType, created.TicketNumber, ev.DisplayName, ev.Username, state.Draft)
	if err := e.msg.SendMessage(ctx, e.groupChatID, announcement); err != nil {
		slog.Error("Engine failed to announce new ticket to group", "error", err, "ticket", created.TicketNumber)
	}

	confirmation := fmt.Sprintf("Data permintaan berhasil disubmit dan tiket telah dibuat dengan nomor tiket *%s*. Terima kasih.", created.TicketNumber)
	if err := e.msg.SendMessage(ctx, ev.UserID, confirmation); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleRetry discards the staged draft and returns to the main menu.
func (e *Engine) HandleRetry(ctx context.Context, ev models.ChatEvent) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepAwaitingConfirm {
		return e.msg.AckCallback(ctx, ev.CallbackID, "Tidak ada data untuk diulang.")
	}
	if err := e.states.ResetToMenu(ctx, ev.UserID); err != nil {
		return err
	}
	greeting := fmt.Sprintf("Hi %s, apa yang bisa saya bantu?", ev.DisplayName)
	if err := e.msg.EditMenu(ctx, ev.UserID, ev.MessageID, greeting, mainMenuKeyboard()); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// OpenReplyThread puts the user into the reply step for a relayed agent
// comment; the next text message is forwarded as a ticket comment.
func (e *Engine) OpenReplyThread(ctx context.Context, ev models.ChatEvent, ticketNumber string) error {
	err := e.states.Save(ctx, models.ConversationState{
		UserID:       ev.UserID,
		Step:         models.StepAwaitingReply,
		TicketNumber: ticketNumber,
	})
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Silahkan ketik balasan Anda untuk tiket *%s*.\nBalasan Anda akan dikirimkan ke agent yang menangani tiket ini.", ticketNumber)
	if err := e.msg.SendMessage(ctx, ev.UserID, body); err != nil {
		return err
	}
	return e.msg.AckCallback(ctx, ev.CallbackID, "")
}

// HandleReplyText forwards a user's reply as a ticket comment. Replies are
// accepted only while the ticket is not completed; a reply to a completed
// ticket is refused with an explanation and no comment is created. The
// conversation returns to the menu in all cases.
func (e *Engine) HandleReplyText(ctx context.Context, ev models.ChatEvent) error {
	state, err := e.states.Get(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if state == nil || state.Step != models.StepAwaitingReply {
		slog.Debug("Engine reply text outside reply step, ignoring", "userID", ev.UserID)
		return nil
	}
	ticketNumber := state.TicketNumber

	if resetErr := e.states.ResetToMenu(ctx, ev.UserID); resetErr != nil {
		return resetErr
	}

	found, _, err := e.gateway.FindTicketByNumber(ctx, ticketNumber, e.apiOperator)
	if err != nil {
		slog.Error("Engine ticket lookup for reply failed", "error", err, "ticket", ticketNumber)
		return e.msg.SendMessage(ctx, ev.UserID, "❌ Gagal mengirim balasan. Silahkan coba lagi nanti.")
	}
	if found.Status == models.TicketStatusCompleted {
		slog.Info("Engine refusing reply to completed ticket", "userID", ev.UserID, "ticket", ticketNumber)
		body := fmt.Sprintf("Tiket *%s* sudah RESOLVED dan tidak menerima balasan lagi. Silahkan buat tiket baru dengan /start bila masih ada kendala.", ticketNumber)
		return e.msg.SendMessage(ctx, ev.UserID, body)
	}

	comment := models.CommentCreate{
		TicketNumber: ticketNumber,
		UserChatID:   ev.UserID,
		UserName:     ev.Username,
		Comment:      ev.Text,
	}
	outcome, err := e.gateway.CreateComment(ctx, comment, e.apiOperator)
	if err != nil || outcome != ticket.OutcomeOK {
		slog.Error("Engine comment forward failed", "error", err, "outcome", outcome, "ticket", ticketNumber)
		return e.msg.SendMessage(ctx, ev.UserID, "❌ Gagal mengirim balasan. Silahkan coba lagi nanti.")
	}

	broadcast := fmt.Sprintf("*Balasan User untuk Tiket %s*\nDari: %s\n\n%s", ticketNumber, ev.Username, ev.Text)
	if err := e.msg.SendMessage(ctx, e.groupChatID, broadcast); err != nil {
		slog.Error("Engine failed to broadcast user reply", "error", err, "ticket", ticketNumber)
	}

	body := fmt.Sprintf("✅ Balasan Anda untuk tiket *%s* berhasil dikirim.", ticketNumber)
	return e.msg.SendMessage(ctx, ev.UserID, body)
}

// activeTickets lists the user's unresolved tickets. Lookup failures are
// logged and treated as no active tickets so intake stays available.
func (e *Engine) activeTickets(ctx context.Context, username string) []models.Ticket {
	if username == "" {
		return nil
	}
	tickets, _, err := e.gateway.ListTickets(ctx, "")
	if err != nil {
		slog.Error("Engine active ticket check failed", "error", err, "username", username)
		return nil
	}
	var active []models.Ticket
	for _, t := range tickets {
		if strings.EqualFold(t.UserName, username) && t.Status != models.TicketStatusCompleted {
			active = append(active, t)
		}
	}
	return active
}

func ticketNumberList(tickets []models.Ticket) string {
	var lines []string
	for _, t := range tickets {
		lines = append(lines, fmt.Sprintf("- *%s*", t.TicketNumber))
	}
	return strings.Join(lines, "\n")
}

func mainMenuKeyboard() [][]messaging.Button {
	keyboard := make([][]messaging.Button, 0, len(MainMenuRows))
	for _, row := range MainMenuRows {
		buttons := make([]messaging.Button, 0, len(row))
		for _, name := range row {
			buttons = append(buttons, messaging.Button{Label: name, Data: CallbackMainPrefix + name})
		}
		keyboard = append(keyboard, buttons)
	}
	return keyboard
}

func requestKeyboard(category *Category) [][]messaging.Button {
	var keyboard [][]messaging.Button
	var row []messaging.Button
	for _, req := range category.Requests {
		row = append(row, messaging.Button{Label: req, Data: CallbackRequestPrefix + req})
		if len(row) == 2 {
			keyboard = append(keyboard, row)
			row = nil
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}
	keyboard = append(keyboard, messaging.Row(messaging.Button{Label: "« Kembali", Data: CallbackBackMain}))
	return keyboard
}
