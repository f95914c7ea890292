// Package notify delivers opt-in user notifications. Delivery is always
// best effort: a failed notification never fails the execution that
// requested it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notification event names pipelines can opt into via notify_events.
const (
	EventTradeExecuted     = "trade_executed"
	EventPositionClosed    = "position_closed"
	EventApprovalRequested = "approval_requested"
	EventExecutionFailed   = "execution_failed"
)

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    zerolog.Logger
}

// NewTelegram creates a Telegram notifier. Returns nil when no token is
// configured so callers can hold a nil notifier and skip delivery.
func NewTelegram(token, chatID string, log zerolog.Logger) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "telegram").Logger(),
	}
}

// Send delivers a message. Safe to call on a nil notifier.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram message: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	t.log.Debug().Msg("Notification sent")
	return nil
}

// SendQuiet sends and only logs delivery failures.
func (t *Telegram) SendQuiet(ctx context.Context, text string) {
	if t == nil {
		return
	}
	if err := t.Send(ctx, text); err != nil {
		t.log.Warn().Err(err).Msg("Failed to send notification")
	}
}
