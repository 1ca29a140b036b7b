package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers notifications through the Telegram Bot API.
// Users without a linked chat id fail per item; the queue retries once
// they complete the account link.
type TelegramSender struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:   token,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSender) Channel() notification.Channel {
	return notification.ChannelTelegram
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, user *identity.User, n *notification.Notification) error {
	if s.token == "" {
		return fmt.Errorf("telegram bot is not configured")
	}
	if user == nil || user.TelegramChatID == nil || *user.TelegramChatID == "" {
		return fmt.Errorf("user has no linked telegram chat")
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID: *user.TelegramChatID,
		Text:   fmt.Sprintf("%s\n\n%s", n.Title, n.Message),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var apiResp sendMessageResponse
	if err := json.Unmarshal(payload, &apiResp); err != nil {
		return fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram api error (status %d): %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}
