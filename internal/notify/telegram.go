package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"market-alerts/internal/config"
)

// TelegramChannel sends notifications via a Telegram bot.
type TelegramChannel struct {
	apiBase       string
	botToken      string
	defaultChatID string
	client        *http.Client
}

// NewTelegramChannel creates a Telegram channel. cfg.ChatID is used for
// alerts that carry no destination of their own.
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramChannel{
		apiBase:       base,
		botToken:      cfg.BotToken,
		defaultChatID: cfg.ChatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Deliver sends n to the chat named by destination.
func (t *TelegramChannel) Deliver(ctx context.Context, destination string, n Notification) error {
	chatID := destination
	if chatID == "" {
		chatID = t.defaultChatID
	}
	if chatID == "" {
		return fmt.Errorf("telegram: no chat id")
	}

	// Format message for Telegram (using HTML parse mode)
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The url embeds the bot token; keep it out of the error.
		var ue *neturl.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
