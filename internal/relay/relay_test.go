package relay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nocdesk/helpdeskbot/internal/messaging"
	"github.com/nocdesk/helpdeskbot/internal/models"
	"github.com/nocdesk/helpdeskbot/internal/ticket"
)

type sentMessage struct {
	To   string
	Body string
}

// fakeMessenger records deliveries and can fail sends to specific recipients.
type fakeMessenger struct {
	messages []sentMessage
	menus    []sentMessage
	failTo   map[string]bool
}

func (f *fakeMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (f *fakeMessenger) SendMessage(ctx context.Context, to, body string) error {
	if f.failTo[to] {
		return errors.New("send failed")
	}
	f.messages = append(f.messages, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeMessenger) SendMenu(ctx context.Context, to, body string, keyboard [][]messaging.Button) error {
	if f.failTo[to] {
		return errors.New("send failed")
	}
	f.menus = append(f.menus, sentMessage{To: to, Body: body})
	return nil
}

func (f *fakeMessenger) EditMenu(ctx context.Context, to string, messageID int, body string, keyboard [][]messaging.Button) error {
	return nil
}

func (f *fakeMessenger) AckCallback(ctx context.Context, callbackID, notice string) error {
	return nil
}

func (f *fakeMessenger) Start(ctx context.Context) error { return nil }
func (f *fakeMessenger) Stop() error                     { return nil }
func (f *fakeMessenger) Events() <-chan models.ChatEvent { return nil }

// fakeGateway serves a pending comment queue and records acknowledgments.
type fakeGateway struct {
	pending  []models.PendingComment
	fetchErr error
	acked    []string
}

func (f *fakeGateway) PendingComments(ctx context.Context, operator string) ([]models.PendingComment, ticket.Outcome, error) {
	if f.fetchErr != nil {
		return nil, ticket.OutcomeError, f.fetchErr
	}
	var unacked []models.PendingComment
	for _, c := range f.pending {
		sent := false
		for _, id := range f.acked {
			if id == c.CommentID {
				sent = true
			}
		}
		if !sent {
			unacked = append(unacked, c)
		}
	}
	return unacked, ticket.OutcomeOK, nil
}

func (f *fakeGateway) MarkCommentSent(ctx context.Context, commentID, operator string) (ticket.Outcome, error) {
	f.acked = append(f.acked, commentID)
	return ticket.OutcomeOK, nil
}

const testGroupChat = "-100200300"

func pendingComment(id string) models.PendingComment {
	return models.PendingComment{
		CommentID:     id,
		TicketNumber:  "TKT-" + id,
		AgentUsername: "@agent_sari",
		UserChatID:    "12345",
		Comment:       "Sudah kami perbaiki, mohon dicek.",
	}
}

func TestTickDeliversAndAcks(t *testing.T) {
	gw := &fakeGateway{pending: []models.PendingComment{pendingComment("c1")}}
	msg := &fakeMessenger{}
	relay := NewNotificationRelay(gw, msg, testGroupChat, "relay", 0)

	relay.Tick(context.Background())

	if len(msg.messages) != 1 || msg.messages[0].To != testGroupChat {
		t.Fatalf("expected one group delivery, got %v", msg.messages)
	}
	if !strings.Contains(msg.messages[0].Body, "TKT-c1") {
		t.Errorf("expected comment body with ticket number, got %q", msg.messages[0].Body)
	}
	if len(msg.menus) != 1 || msg.menus[0].To != "12345" {
		t.Errorf("expected direct delivery with reply button, got %v", msg.menus)
	}
	if len(gw.acked) != 1 || gw.acked[0] != "c1" {
		t.Errorf("expected comment acknowledged, got %v", gw.acked)
	}
}

func TestTickDoesNotAckOnPrimaryFailure(t *testing.T) {
	gw := &fakeGateway{pending: []models.PendingComment{pendingComment("c1")}}
	msg := &fakeMessenger{failTo: map[string]bool{testGroupChat: true}}
	relay := NewNotificationRelay(gw, msg, testGroupChat, "relay", 0)

	relay.Tick(context.Background())

	if len(gw.acked) != 0 {
		t.Errorf("expected no ack after failed group delivery, got %v", gw.acked)
	}
	if len(msg.menus) != 0 {
		t.Error("expected no direct delivery after failed group delivery")
	}

	// Once the group delivery works again, the comment is redelivered and
	// acknowledged.
	msg.failTo = nil
	relay.Tick(context.Background())
	if len(gw.acked) != 1 {
		t.Errorf("expected comment acknowledged after retry, got %v", gw.acked)
	}
}

func TestTickAcksDespiteDirectDeliveryFailure(t *testing.T) {
	gw := &fakeGateway{pending: []models.PendingComment{pendingComment("c1")}}
	msg := &fakeMessenger{failTo: map[string]bool{"12345": true}}
	relay := NewNotificationRelay(gw, msg, testGroupChat, "relay", 0)

	relay.Tick(context.Background())

	if len(msg.messages) != 1 {
		t.Fatalf("expected group delivery, got %v", msg.messages)
	}
	if len(gw.acked) != 1 {
		t.Errorf("direct delivery is best-effort, expected ack, got %v", gw.acked)
	}
}

func TestTickProcessesBatchIndependently(t *testing.T) {
	gw := &fakeGateway{pending: []models.PendingComment{
		pendingComment("c1"),
		{CommentID: "c2", TicketNumber: "TKT-c2", AgentUsername: "@agent_sari", Comment: "Update kedua."},
	}}
	msg := &fakeMessenger{}
	relay := NewNotificationRelay(gw, msg, testGroupChat, "relay", 0)

	relay.Tick(context.Background())

	if len(gw.acked) != 2 {
		t.Errorf("expected both comments acknowledged, got %v", gw.acked)
	}
	// c2 has no user chat ID, so only c1 gets a direct delivery.
	if len(msg.menus) != 1 {
		t.Errorf("expected one direct delivery, got %v", msg.menus)
	}
}

func TestTickFetchFailureIsSwallowed(t *testing.T) {
	gw := &fakeGateway{fetchErr: errors.New("api down")}
	msg := &fakeMessenger{}
	relay := NewNotificationRelay(gw, msg, testGroupChat, "relay", 0)

	relay.Tick(context.Background())

	if len(msg.messages) != 0 || len(gw.acked) != 0 {
		t.Error("expected fetch failure to be a quiet no-op")
	}
}
