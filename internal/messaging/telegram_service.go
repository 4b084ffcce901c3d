package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nocdesk/helpdeskbot/internal/models"
)

// Constants for TelegramService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultUpdateTimeout is the long-polling timeout in seconds for Telegram updates
	DefaultUpdateTimeout = 30
)

// Opts holds configuration options for the Telegram service.
type Opts struct {
	Token string
	Debug bool
}

// Option defines a configuration option for the Telegram service.
type Option func(*Opts)

// WithToken sets the Telegram bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithDebug enables Telegram API debug logging.
func WithDebug() Option {
	return func(o *Opts) { o.Debug = true }
}

// TelegramService implements Service over the Telegram Bot API using long
// polling.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	events chan models.ChatEvent
	done   chan struct{}
}

// NewTelegramService creates a Telegram service from the provided options.
func NewTelegramService(opts ...Option) (*TelegramService, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("TelegramService failed to create bot client", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("TelegramService authorized", "username", bot.Self.UserName)

	return &TelegramService{
		bot:    bot,
		events: make(chan models.ChatEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates a Telegram chat identifier.
// Chat IDs are signed integers (negative for group chats).
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// SendMessage sends a plain Markdown message to a chat.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		slog.Error("TelegramService SendMessage failed", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("TelegramService message sent", "to", to, "body_length", len(body))
	return nil
}

// SendMenu sends a Markdown message with an inline keyboard.
func (s *TelegramService) SendMenu(ctx context.Context, to string, body string, keyboard [][]Button) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = buildInlineKeyboard(keyboard)
	if _, err := s.bot.Send(msg); err != nil {
		slog.Error("TelegramService SendMenu failed", "error", err, "to", to)
		return fmt.Errorf("failed to send menu to %s: %w", to, err)
	}
	slog.Debug("TelegramService menu sent", "to", to, "rows", len(keyboard))
	return nil
}

// EditMenu replaces a previously sent menu message in place.
func (s *TelegramService) EditMenu(ctx context.Context, to string, messageID int, body string, keyboard [][]Button) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}
	var edit tgbotapi.Chattable
	if len(keyboard) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, body, buildInlineKeyboard(keyboard))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, body)
	}
	if _, err := s.bot.Send(edit); err != nil {
		slog.Error("TelegramService EditMenu failed", "error", err, "to", to, "messageID", messageID)
		return fmt.Errorf("failed to edit message %d in %s: %w", messageID, to, err)
	}
	slog.Debug("TelegramService menu edited", "to", to, "messageID", messageID)
	return nil
}

// AckCallback answers a callback query. Errors are swallowed: Telegram
// rejects answers to expired callbacks and the user experience is unaffected.
func (s *TelegramService) AckCallback(ctx context.Context, callbackID string, notice string) error {
	if callbackID == "" {
		return nil
	}
	callback := tgbotapi.NewCallback(callbackID, notice)
	if _, err := s.bot.Request(callback); err != nil {
		slog.Debug("TelegramService AckCallback failed", "error", err, "callbackID", callbackID)
	}
	return nil
}

// Start begins long polling for Telegram updates.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = DefaultUpdateTimeout
	updates := s.bot.GetUpdatesChan(updateCfg)

	go s.handleUpdates(ctx, updates)
	slog.Info("TelegramService update polling started")
	return nil
}

// Stop stops background processing.
func (s *TelegramService) Stop() error {
	slog.Info("TelegramService Stop invoked")
	s.bot.StopReceivingUpdates()
	close(s.done)
	close(s.events)
	return nil
}

// Events returns a channel of normalized inbound chat events.
func (s *TelegramService) Events() <-chan models.ChatEvent {
	return s.events
}

// handleUpdates converts Telegram updates into ChatEvents.
func (s *TelegramService) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				slog.Debug("TelegramService updates channel closed")
				return
			}
			event, ok := normalizeUpdate(update)
			if !ok {
				continue
			}
			// Forward to events channel (non-blocking)
			select {
			case s.events <- event:
				slog.Debug("TelegramService event forwarded", "kind", event.Kind, "from", event.UserID)
			case <-time.After(DefaultChannelTimeout):
				slog.Warn("TelegramService events channel blocked, dropping event", "kind", event.Kind, "from", event.UserID)
			}
		case <-ctx.Done():
			slog.Debug("TelegramService handleUpdates stopping due to context cancellation")
			return
		case <-s.done:
			return
		}
	}
}

// normalizeUpdate maps a Telegram update to a ChatEvent. Non-text, non-callback
// updates are skipped.
func normalizeUpdate(update tgbotapi.Update) (models.ChatEvent, bool) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		event := models.ChatEvent{
			Kind:        models.EventCallback,
			UserID:      strconv.FormatInt(cb.From.ID, 10),
			Username:    handleOf(cb.From),
			DisplayName: displayNameOf(cb.From),
			CallbackID:  cb.ID,
			Data:        cb.Data,
			Time:        time.Now().Unix(),
		}
		if cb.Message != nil {
			event.MessageID = cb.Message.MessageID
		}
		return event, true
	case update.Message != nil && update.Message.IsCommand():
		msg := update.Message
		return models.ChatEvent{
			Kind:        models.EventCommand,
			UserID:      strconv.FormatInt(msg.From.ID, 10),
			Username:    handleOf(msg.From),
			DisplayName: displayNameOf(msg.From),
			MessageID:   msg.MessageID,
			Command:     msg.Command(),
			Text:        msg.Text,
			Time:        int64(msg.Date),
		}, true
	case update.Message != nil && update.Message.Text != "":
		msg := update.Message
		return models.ChatEvent{
			Kind:        models.EventText,
			UserID:      strconv.FormatInt(msg.From.ID, 10),
			Username:    handleOf(msg.From),
			DisplayName: displayNameOf(msg.From),
			MessageID:   msg.MessageID,
			Text:        msg.Text,
			Time:        int64(msg.Date),
		}, true
	default:
		return models.ChatEvent{}, false
	}
}

func buildInlineKeyboard(keyboard [][]Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func handleOf(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	return user.FirstName
}

func displayNameOf(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}
