package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"planengine/internal/model"
)

// ChatResolver maps a user to a Telegram chat. Zero means no chat.
type ChatResolver func(ctx context.Context, userID string) int64

// TelegramSink pushes notifications to users' Telegram chats.
type TelegramSink struct {
	bot   *tgbotapi.BotAPI
	chats ChatResolver
}

// NewTelegramSink connects to the bot API with token.
func NewTelegramSink(token string, chats ChatResolver) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSink{bot: bot, chats: chats}, nil
}

// Deliver sends n to the recipient's chat, if one is configured.
func (s *TelegramSink) Deliver(ctx context.Context, n model.Notification) error {
	chatID := s.chats(ctx, n.UserID)
	if chatID == 0 {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, FormatTelegram(n))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// FormatTelegram renders a notification as Telegram HTML.
func FormatTelegram(n model.Notification) string {
	icon := "🔔"
	switch n.Event {
	case EventApprove, EventCompleted:
		icon = "✅"
	case EventReject:
		icon = "❌"
	case EventDraftTimeout, EventApprovalTimeout:
		icon = "⚠️"
	case EventDailySummary, EventWeeklySummary, EventMonthlySummary:
		icon = "📊"
	}
	text := fmt.Sprintf("%s <b>%s</b>", icon, html.EscapeString(n.Title))
	if n.Content != "" {
		text += "\n\n" + html.EscapeString(n.Content)
	}
	return text
}
