package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	telegramAPI        = "https://api.telegram.org"
	telegramMaxMessage = 4096
)

// TelegramSender posts alerts to a chat through the Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a sender for the bot token and chat. An empty
// baseURL uses the public Bot API.
func NewTelegramSender(baseURL, token, chatID string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send uses sendMessage with the title in bold. Plain text is sent without a
// parse mode so round ids and error text cannot break Markdown parsing.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    truncate(title+"\n"+message, telegramMaxMessage),
		"entities": []map[string]any{
			{"type": "bold", "offset": 0, "length": utf16Len(title)},
		},
	}
	if err := postJSON(ctx, t.client, url, payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

// utf16Len counts UTF-16 code units, the unit Telegram entity offsets use.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
