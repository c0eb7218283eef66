package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
)

const defaultTelegramAPI = "https://api.telegram.org"

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// TelegramSender delivers alerts through the Bot API sendMessage call.
// Text is sent as HTML so source ids and event names containing
// underscores survive intact.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender. An empty apiURL selects the
// public Bot API.
func NewTelegramSender(apiURL, token, chatID string) *TelegramSender {
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiURL, "/"), token),
		chatID:   chatID,
		client:   webhookClient,
	}
}

// Send posts the alert with a bold title line.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	msg := telegramMessage{
		ChatID:                t.chatID,
		Text:                  "<b>" + html.EscapeString(a.Title) + "</b>\n" + html.EscapeString(a.Message),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}
	if err := postJSON(ctx, t.client, t.endpoint, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
