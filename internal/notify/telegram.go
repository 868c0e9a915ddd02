package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender posts to a chat through the Telegram Bot API. The chat is
// a numeric ID or an @channel username.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID string
}

// NewTelegramSender creates a TelegramSender for a bot token and chat ID.
// It does not contact Telegram; a bad token shows up on the first Send.
func NewTelegramSender(token, chatID string) *TelegramSender {
	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: &http.Client{Timeout: 10 * time.Second},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(tgbotapi.APIEndpoint)
	return &TelegramSender{bot: bot, chatID: chatID}
}

// Send posts the message with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("*%s*\n%s", title, message)

	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(t.chatID, "@") {
		msg = tgbotapi.NewMessageToChannel(t.chatID, text)
	} else {
		id, err := strconv.ParseInt(t.chatID, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram: invalid chat id %q: %w", t.chatID, err)
		}
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }
