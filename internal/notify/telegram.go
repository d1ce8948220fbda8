package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// Telegram sends messages to one chat through the Bot API.
type Telegram struct {
	bot    *tgbot.Bot
	chatID int64
	log    logrus.FieldLogger
}

// NewTelegram creates a notifier for chatID. Extra options are passed to the
// bot client. The token is not checked against the API here, so an unreachable
// Bot API only surfaces as Notify errors.
func NewTelegram(token string, chatID int64, logger logrus.FieldLogger, opts ...tgbot.Option) (*Telegram, error) {
	log := logger.WithField("component", "telegram")

	opts = append([]tgbot.Option{tgbot.WithSkipGetMe()}, opts...)
	b, err := tgbot.New(token, opts...)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Telegram{
		bot:    b,
		chatID: chatID,
		log:    log,
	}, nil
}

// Notify sends text to the configured chat.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	log := t.log.WithField("chat_id", t.chatID)

	_, err := t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		log.WithError(err).Error("Failed to send notification")
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	log.Debug("Notification sent")
	return nil
}
