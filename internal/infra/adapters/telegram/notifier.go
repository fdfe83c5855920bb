package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"endless-chat/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*Notifier)(nil)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier mirrors user notices into a Telegram chat.
type Notifier struct {
	bot    sender
	chatID int64
}

// NewNotifier authenticates the bot token against the Bot API.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("telegram: empty token")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID}, nil
}

func (n *Notifier) Notify(ctx context.Context, notice adapter.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, format(notice))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func format(n adapter.Notice) string {
	switch n.Level {
	case adapter.NoticeError:
		return "⛔ " + n.Text
	case adapter.NoticeWarning:
		return "⚠️ " + n.Text
	default:
		return "ℹ️ " + n.Text
	}
}
