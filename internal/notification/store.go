package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChannelResult is what a delivery worker records after one attempt, mirrored
// onto the parent notification's per-channel fields.
type ChannelResult struct {
	Channel Channel
	Sent    bool
	SentAt  *time.Time
	Error   *string
}

// Store persists notifications. Deleting a notification cascades to its
// queue rows.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	ListFailed(ctx context.Context, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	RecordChannelResult(ctx context.Context, id uuid.UUID, result ChannelResult) error
	RecordRetry(ctx context.Context, id uuid.UUID, at time.Time) error
	Stats(ctx context.Context, userID *uuid.UUID, since time.Time) (*Stats, error)
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error
}

// QueueStore persists the delivery queue. DequeueDue is the scheduling
// contract: pending rows due at or before now, under their retry budget,
// ordered by priority descending then scheduled_at ascending. Dequeued rows
// are claimed, flipped to processing atomically, so concurrent workers on
// the same channel never receive the same row.
type QueueStore interface {
	Enqueue(ctx context.Context, item *QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*QueueItem, error)
	List(ctx context.Context, filter QueueFilter) ([]QueueItem, error)
	DequeueDue(ctx context.Context, channel Channel, limit int, now time.Time) ([]QueueItem, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, incrementRetry bool) error
	// RescheduleFailed flips failed rows still under their retry budget back
	// to pending, due at the given time. Returns the affected notification
	// IDs so the sweep can stamp their retry bookkeeping.
	RescheduleFailed(ctx context.Context, dueAt time.Time) ([]uuid.UUID, error)
	Stats(ctx context.Context, now time.Time) (*QueueStats, error)
}
