package messaging

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nocdesk/helpdeskbot/internal/models"
)

func TestNormalizeUpdateCallback(t *testing.T) {
	update := tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "cb-1",
			From: &tgbotapi.User{ID: 12345, UserName: "budi", FirstName: "Budi"},
			Data: "main_VULA",
			Message: &tgbotapi.Message{
				MessageID: 7,
			},
		},
	}

	event, ok := normalizeUpdate(update)
	if !ok {
		t.Fatal("expected callback update normalized")
	}
	if event.Kind != models.EventCallback {
		t.Errorf("expected callback kind, got %s", event.Kind)
	}
	if event.UserID != "12345" || event.Username != "@budi" || event.Data != "main_VULA" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.MessageID != 7 || event.CallbackID != "cb-1" {
		t.Errorf("expected message and callback IDs carried, got %+v", event)
	}
}

func TestNormalizeUpdateCommand(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 3,
			From:      &tgbotapi.User{ID: 900, FirstName: "Sari", LastName: "Dewi"},
			Text:      "/start",
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		},
	}

	event, ok := normalizeUpdate(update)
	if !ok {
		t.Fatal("expected command update normalized")
	}
	if event.Kind != models.EventCommand || event.Command != "start" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.DisplayName != "Sari Dewi" {
		t.Errorf("expected full display name, got %q", event.DisplayName)
	}
	if event.Username != "Sari" {
		t.Errorf("expected first name fallback without username, got %q", event.Username)
	}
}

func TestNormalizeUpdateText(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 4,
			From:      &tgbotapi.User{ID: 12345, UserName: "budi", FirstName: "Budi"},
			Text:      "WONUM: WO12345",
		},
	}

	event, ok := normalizeUpdate(update)
	if !ok {
		t.Fatal("expected text update normalized")
	}
	if event.Kind != models.EventText || event.Text != "WONUM: WO12345" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestNormalizeUpdateSkipsUnsupported(t *testing.T) {
	if _, ok := normalizeUpdate(tgbotapi.Update{}); ok {
		t.Error("expected empty update skipped")
	}
	sticker := tgbotapi.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 1},
		Sticker: &tgbotapi.Sticker{},
	}}
	if _, ok := normalizeUpdate(sticker); ok {
		t.Error("expected non-text message skipped")
	}
}

func TestBuildInlineKeyboard(t *testing.T) {
	keyboard := buildInlineKeyboard([][]Button{
		Row(Button{Label: "SUBMIT", Data: "submit"}, Button{Label: "ULANGI", Data: "retry"}),
		Row(Button{Label: "« Kembali", Data: "back_main"}),
	})

	if len(keyboard.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(keyboard.InlineKeyboard))
	}
	first := keyboard.InlineKeyboard[0]
	if len(first) != 2 || first[0].Text != "SUBMIT" || *first[0].CallbackData != "submit" {
		t.Errorf("unexpected first row: %+v", first)
	}
}

func TestNewTelegramServiceRequiresToken(t *testing.T) {
	if _, err := NewTelegramService(); err == nil {
		t.Error("expected error for missing token")
	}
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	s := &TelegramService{}
	got, err := s.ValidateAndCanonicalizeRecipient("-100200300")
	if err != nil || got != "-100200300" {
		t.Errorf("expected group chat id accepted, got %q %v", got, err)
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("@channel"); err == nil {
		t.Error("expected non-numeric recipient rejected")
	}
}
