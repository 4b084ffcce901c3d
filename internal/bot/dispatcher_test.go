package bot

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nocdesk/helpdeskbot/internal/claim"
	"github.com/nocdesk/helpdeskbot/internal/flow"
	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/store"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
)

type sentMessage struct {
	To   string
	Body string
}

type fakeMessenger struct {
	messages []sentMessage
	menus    []sentMessage
	edits    []sentMessage
	acks     []string
	events   chan models.ChatEvent
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{events: make(chan models.ChatEvent, 16)}
}

func (f *fakeMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (f *fakeMessenger) SendMessage(ctx context.Context, to, body string) error {
	f.messages = append(f.messages, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeMessenger) SendMenu(ctx context.Context, to, body string, keyboard [][]messaging.Button) error {
	f.menus = append(f.menus, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeMessenger) EditMenu(ctx context.Context, to string, messageID int, body string, keyboard [][]messaging.Button) error {
	f.edits = append(f.edits, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeMessenger) AckCallback(ctx context.Context, callbackID, notice string) error {
	f.acks = append(f.acks, notice)
	return nil
}

func (f *fakeMessenger) Start(ctx context.Context) error { return nil }
func (f *fakeMessenger) Stop() error                     { return nil }
func (f *fakeMessenger) Events() <-chan models.ChatEvent { return f.events }

// fakeGateway covers both the engine and coordinator gateway interfaces.
type fakeGateway struct {
	tickets  []models.Ticket
	created  []models.TicketCreate
	comments []models.CommentCreate
}

func (f *fakeGateway) CreateTicket(ctx context.Context, create models.TicketCreate) (*models.Ticket, ticket.Outcome, error) {
	f.created = append(f.created, create)
	return &models.Ticket{ID: "1", TicketNumber: "TKT-001"}, ticket.OutcomeOK, nil
}

func (f *fakeGateway) CreateComment(ctx context.Context, comment models.CommentCreate, operator string) (ticket.Outcome, error) {
	f.comments = append(f.comments, comment)
	return ticket.OutcomeOK, nil
}

func (f *fakeGateway) FindTicketByNumber(ctx context.Context, ticketNumber, operator string) (*models.Ticket, ticket.Outcome, error) {
	for i := range f.tickets {
		if f.tickets[i].TicketNumber == ticketNumber {
			return &f.tickets[i], ticket.OutcomeOK, nil
		}
	}
	return nil, ticket.OutcomeNotFound, fmt.Errorf("ticket %s not found", ticketNumber)
}

func (f *fakeGateway) GetTicket(ctx context.Context, ticketID, operator string) (*models.Ticket, ticket.Outcome, error) {
	for i := range f.tickets {
		if f.tickets[i].ID == ticketID {
			return &f.tickets[i], ticket.OutcomeOK, nil
		}
	}
	return nil, ticket.OutcomeNotFound, fmt.Errorf("ticket %s not found", ticketID)
}

func (f *fakeGateway) ListTickets(ctx context.Context, operator string) ([]models.Ticket, ticket.Outcome, error) {
	return f.tickets, ticket.OutcomeOK, nil
}

func (f *fakeGateway) ListOpenTickets(ctx context.Context, operator string) ([]models.Ticket, ticket.Outcome, error) {
	var open []models.Ticket
	for _, t := range f.tickets {
		if t.Status == models.TicketStatusOpen {
			open = append(open, t)
		}
	}
	return open, ticket.OutcomeOK, nil
}

func (f *fakeGateway) UpdateTicket(ctx context.Context, ticketID string, update models.TicketUpdate, operator string) (ticket.Outcome, error) {
	for i := range f.tickets {
		if f.tickets[i].ID == ticketID {
			if update.Status != nil {
				f.tickets[i].Status = *update.Status
			}
			if update.AssignedAgent != nil {
				f.tickets[i].AssignedAgent = *update.AssignedAgent
			}
			if update.AssignedAgentName != nil {
				f.tickets[i].AssignedAgentName = *update.AssignedAgentName
			}
			return ticket.OutcomeOK, nil
		}
	}
	return ticket.OutcomeNotFound, fmt.Errorf("ticket %s not found", ticketID)
}

const adminID = "900"

func newTestDispatcher(gw *fakeGateway) (*Dispatcher, *flow.StateManager, *fakeMessenger) {
	sm := flow.NewStateManager(store.NewInMemoryStore(), time.Minute)
	msg := newFakeMessenger()
	engine := flow.NewEngine(sm, gw, msg, "-100200300", "relay")
	coordinator := claim.NewCoordinator(sm, gw, msg, "-100200300")
	return NewDispatcher(sm, engine, coordinator, msg, []string{adminID}), sm, msg
}

func TestDispatchStartCommand(t *testing.T) {
	dispatcher, _, msg := newTestDispatcher(&fakeGateway{})
	ev := models.ChatEvent{Kind: models.EventCommand, Command: "start", UserID: "12345", Username: "@budi", DisplayName: "Budi"}

	if err := dispatcher.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.menus) != 1 {
		t.Errorf("expected main menu rendered, got %v", msg.menus)
	}
}

func TestDispatchAdminCommandGated(t *testing.T) {
	dispatcher, _, msg := newTestDispatcher(&fakeGateway{})
	ctx := context.Background()

	outsider := models.ChatEvent{Kind: models.EventCommand, Command: "admin", UserID: "12345"}
	if err := dispatcher.Dispatch(ctx, outsider); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.menus) != 0 {
		t.Error("expected admin command from non-admin to be ignored")
	}

	admin := models.ChatEvent{Kind: models.EventCommand, Command: "admin", UserID: adminID, Username: "@agent_sari", DisplayName: "Sari"}
	if err := dispatcher.Dispatch(ctx, admin); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.menus) != 1 || !strings.Contains(msg.menus[0].Body, "Helpdesk") {
		t.Errorf("expected operator menu for admin, got %v", msg.menus)
	}
}

func TestDispatchOperatorCallbackGated(t *testing.T) {
	gw := &fakeGateway{tickets: []models.Ticket{
		{ID: "1", TicketNumber: "TKT-001", Status: models.TicketStatusOpen},
	}}
	dispatcher, _, msg := newTestDispatcher(gw)
	ctx := context.Background()

	outsider := models.ChatEvent{Kind: models.EventCallback, UserID: "12345", CallbackID: "cb", Data: claim.CallbackOpenTickets}
	if err := dispatcher.Dispatch(ctx, outsider); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.edits) != 0 {
		t.Error("expected operator callback from non-admin to only be acked")
	}

	admin := models.ChatEvent{Kind: models.EventCallback, UserID: adminID, CallbackID: "cb", Data: claim.CallbackOpenTickets}
	if err := dispatcher.Dispatch(ctx, admin); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.edits) != 1 || !strings.Contains(msg.edits[0].Body, "TKT-001") {
		t.Errorf("expected open ticket listing for admin, got %v", msg.edits)
	}
}

func TestDispatchTextRoutedByStep(t *testing.T) {
	gw := &fakeGateway{tickets: []models.Ticket{
		{ID: "1", TicketNumber: "TKT-001", Status: models.TicketStatusInProgress},
	}}
	dispatcher, sm, _ := newTestDispatcher(gw)
	ctx := context.Background()

	// Reply step routes text into a comment.
	err := sm.Save(ctx, models.ConversationState{
		UserID:       "12345",
		Step:         models.StepAwaitingReply,
		TicketNumber: "TKT-001",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := models.ChatEvent{Kind: models.EventText, UserID: "12345", Username: "@budi", Text: "Masih gangguan."}
	if err := dispatcher.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(gw.comments) != 1 {
		t.Fatalf("expected reply forwarded as comment, got %d", len(gw.comments))
	}

	// Free-text step routes text into template evaluation.
	err = sm.Save(ctx, models.ConversationState{
		UserID:      "12345",
		Step:        models.StepAwaitingFreeText,
		Category:    "HSI INDIBIZ",
		RequestType: "RECONFIG",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev.Text = "TIPE TRANSAKSI: AO\nWONUM: WO12345"
	if err := dispatcher.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	state, _ := sm.Get(ctx, "12345")
	if state.Step != models.StepAwaitingConfirm {
		t.Errorf("expected free text to advance to confirm, got %s", state.Step)
	}
}

func TestDispatchTextWithoutConversationIgnored(t *testing.T) {
	gw := &fakeGateway{}
	dispatcher, _, msg := newTestDispatcher(gw)

	ev := models.ChatEvent{Kind: models.EventText, UserID: "12345", Text: "halo"}
	if err := dispatcher.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.messages) != 0 || len(gw.comments) != 0 {
		t.Error("expected text without conversation to be ignored")
	}
}

func TestDispatchUnknownCallbackAcked(t *testing.T) {
	dispatcher, _, msg := newTestDispatcher(&fakeGateway{})

	ev := models.ChatEvent{Kind: models.EventCallback, UserID: "12345", CallbackID: "cb", Data: "bogus"}
	if err := dispatcher.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(msg.acks) != 1 {
		t.Errorf("expected unknown callback acked, got %v", msg.acks)
	}
}

func TestDispatchReplyCallbackOpensThread(t *testing.T) {
	dispatcher, sm, msg := newTestDispatcher(&fakeGateway{})
	ctx := context.Background()

	ev := models.ChatEvent{Kind: models.EventCallback, UserID: "12345", CallbackID: "cb", Data: flow.CallbackReplyPrefix + "TKT-001"}
	if err := dispatcher.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	state, _ := sm.Get(ctx, "12345")
	if state == nil || state.Step != models.StepAwaitingReply || state.TicketNumber != "TKT-001" {
		t.Errorf("expected reply thread opened, got %+v", state)
	}
	if len(msg.messages) != 1 || !strings.Contains(msg.messages[0].Body, "TKT-001") {
		t.Errorf("expected reply prompt, got %v", msg.messages)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	dispatcher, _, msg := newTestDispatcher(&fakeGateway{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()

	msg.events <- models.ChatEvent{Kind: models.EventCommand, Command: "start", UserID: "12345"}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to stop on context cancellation")
	}
}
