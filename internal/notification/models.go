// Package notification implements the notification factory and the persisted,
// prioritized, retryable delivery queue behind it. Creation is synchronous
// and side-effect-free except for persistence; delivery happens exclusively
// through the queue workers.
package notification

import (
	"time"

	"github.com/google/uuid"

	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
)

// Channel is a closed delivery channel type. Validated once at ingestion;
// everything internal operates on the enum.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// ParseChannel validates a raw channel string from the API boundary.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelEmail, ChannelTelegram:
		return Channel(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown channel %q", raw)
	}
}

// QueueStatus is the lifecycle state of one queue row.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// ParseQueueStatus validates a raw queue status string from the API boundary.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	switch QueueStatus(raw) {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusSent, QueueStatusFailed:
		return QueueStatus(raw), nil
	default:
		return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown queue status %q", raw)
	}
}

// Event types the factory wrappers emit.
const (
	EventFindingCreated      = "finding_created"
	EventStatusChanged       = "status_changed"
	EventDeadlineApproaching = "deadline_approaching"
	EventDeadlineOverdue     = "deadline_overdue"
	EventDelegation          = "delegation"
	EventCommentAdded        = "comment_added"
)

// DefaultMaxRetries is the per-queue-row retry budget.
const DefaultMaxRetries = 3

// Notification is one message to one recipient about one event. The
// per-channel sent/error fields reflect the most recent delivery attempt on
// that channel, not cumulative success.
type Notification struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	EventType          string
	EntityType         string
	EntityID           uuid.UUID
	Title              string
	Message            string
	IsRead             bool
	SentEmail          bool
	SentTelegram       bool
	EmailSentAt        *time.Time
	TelegramSentAt     *time.Time
	EmailError         *string
	TelegramError      *string
	RetryCount         int
	LastRetryAt        *time.Time
	NotificationConfig map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// QueueItem is one independently retryable delivery attempt: one channel of
// one notification. Rows are owned by their notification and deleted with it.
type QueueItem struct {
	ID             uuid.UUID
	NotificationID uuid.UUID
	Channel        Channel
	Status         QueueStatus
	Priority       int
	ScheduledAt    time.Time
	SentAt         *time.Time
	ErrorMessage   *string
	RetryCount     int
	MaxRetries     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// ListFilter narrows notification listings.
type ListFilter struct {
	UserID     *uuid.UUID
	EventType  *string
	EntityType *string
	EntityID   *uuid.UUID
	IsRead     *bool
	Offset     int
	Limit      int
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	NotificationID *uuid.UUID
	Channel        *Channel
	Status         *QueueStatus
	Offset         int
	Limit          int
}

// Stats summarizes recent notification outcomes for one user or globally.
type Stats struct {
	Total          int            `json:"total_notifications"`
	Unread         int            `json:"unread_notifications"`
	EmailSent      int            `json:"email_sent"`
	TelegramSent   int            `json:"telegram_sent"`
	FailedEmail    int            `json:"failed_email"`
	FailedTelegram int            `json:"failed_telegram"`
	ByEventType    map[string]int `json:"by_event_type"`
}

// QueueStats is the operational view of the delivery queue. LagMinutes is
// nil when nothing is pending.
type QueueStats struct {
	Pending    int      `json:"pending"`
	Processing int      `json:"processing"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Size       int      `json:"size"`
	LagMinutes *float64 `json:"lag_minutes"`
}
