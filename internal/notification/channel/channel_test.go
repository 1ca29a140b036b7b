package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/platform/config"
)

func testNotification() *notification.Notification {
	return &notification.Notification{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		EventType: notification.EventFindingCreated,
		Title:     "Новое несоответствие: audit-42",
		Message:   "Создано новое несоответствие",
	}
}

// =============================================================================
// Email Sender
// =============================================================================
// An unconfigured or misaddressed send must fail per item with a clear
// reason; the worker records the message on the queue row instead of
// aborting the batch.

func TestEmailSenderUnconfigured(t *testing.T) {
	sender := NewEmailSender(config.SMTPConfig{})
	assert.Equal(t, notification.ChannelEmail, sender.Channel())

	user := &identity.User{ID: uuid.New(), Email: "auditor@example.com"}
	err := sender.Send(context.Background(), user, testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp is not configured")
}

func TestEmailSenderMissingAddress(t *testing.T) {
	sender := NewEmailSender(config.SMTPConfig{Host: "smtp.example.com", Port: 587})

	t.Run("unknown recipient", func(t *testing.T) {
		err := sender.Send(context.Background(), nil, testNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no email address")
	})

	t.Run("recipient without email", func(t *testing.T) {
		err := sender.Send(context.Background(), &identity.User{ID: uuid.New()}, testNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no email address")
	})
}

// =============================================================================
// Telegram Sender
// =============================================================================

func telegramUser(chatID string) *identity.User {
	return &identity.User{ID: uuid.New(), TelegramChatID: &chatID}
}

func TestTelegramSenderUnconfigured(t *testing.T) {
	sender := NewTelegramSender("")
	assert.Equal(t, notification.ChannelTelegram, sender.Channel())

	err := sender.Send(context.Background(), telegramUser("100500"), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram bot is not configured")
}

func TestTelegramSenderMissingChat(t *testing.T) {
	sender := NewTelegramSender("test-token")

	t.Run("unknown recipient", func(t *testing.T) {
		err := sender.Send(context.Background(), nil, testNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no linked telegram chat")
	})

	t.Run("recipient without linked chat", func(t *testing.T) {
		err := sender.Send(context.Background(), &identity.User{ID: uuid.New()}, testNotification())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no linked telegram chat")
	})
}

func TestTelegramSenderSendsMessage(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	sender := &TelegramSender{
		token:   "test-token",
		baseURL: srv.URL,
		client:  &http.Client{Timeout: time.Second},
	}

	n := testNotification()
	require.NoError(t, sender.Send(context.Background(), telegramUser("100500"), n))
	assert.Equal(t, "100500", got.ChatID)
	assert.Contains(t, got.Text, n.Title)
	assert.Contains(t, got.Text, n.Message)
}

func TestTelegramSenderSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	sender := &TelegramSender{
		token:   "test-token",
		baseURL: srv.URL,
		client:  &http.Client{Timeout: time.Second},
	}

	err := sender.Send(context.Background(), telegramUser("100500"), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}
