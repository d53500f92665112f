package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Telegram Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through a Telegram bot.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender for the bot token and chat id.
// An empty apiBase selects DefaultTelegramAPI.
func NewTelegramSender(apiBase, token, chatID string) *TelegramSender {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(apiBase, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   newHTTPClient(),
	}
}

// Send calls sendMessage with a bold Markdown title.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, t.client, t.endpoint, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	})
	if err != nil {
		// The endpoint embeds the bot token; keep it out of logs.
		return fmt.Errorf("telegram: %w", redactToken(err, t.endpoint))
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }

// redactToken rewrites errors that quote the request URL, as *url.Error does.
func redactToken(err error, endpoint string) error {
	if !strings.Contains(err.Error(), endpoint) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), endpoint, "sendMessage"))
}
