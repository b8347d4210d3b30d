package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendRetries = 3

// Telegram pushes operator alerts (escalations, invariant violations) to a
// group or channel.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{BotToken: botToken, ChatID: chatID, Client: &http.Client{Timeout: 15 * time.Second}}
}

// SendText delivers one message, retrying transient failures with a short
// linear backoff. Alerts are rare; losing one to a flaky network is worse
// than blocking the caller for a few seconds.
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram notifier not configured")
	}
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("encoding telegram payload failed: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if lastErr = t.post(body); lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return lastErr
}

func (t *Telegram) post(body []byte) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Telegram reports API-level failures in the body even on HTTP 200.
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram rejected message (status=%d): %s", resp.StatusCode, result.Description)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}
