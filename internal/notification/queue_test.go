package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// =============================================================================
// Delivery Queue Test Suite
// =============================================================================
// The dequeue ordering, retry budget and terminal-sent guarantees are the
// core scheduling contract; they are pinned down here against the in-memory
// store, which mirrors the Postgres queries.

type QueueStoreSuite struct {
	suite.Suite
	queue *InMemoryQueueStore
	now   time.Time
}

func TestQueueStoreSuite(t *testing.T) {
	suite.Run(t, new(QueueStoreSuite))
}

func (s *QueueStoreSuite) SetupTest() {
	s.queue = NewInMemoryQueueStore()
	s.now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
}

func (s *QueueStoreSuite) enqueue(item QueueItem) *QueueItem {
	if item.NotificationID == uuid.Nil {
		item.NotificationID = uuid.New()
	}
	if item.Channel == "" {
		item.Channel = ChannelEmail
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = s.now
	}
	s.Require().NoError(s.queue.Enqueue(context.Background(), &item))
	return &item
}

func (s *QueueStoreSuite) TestDequeueDueOrdering() {
	ctx := context.Background()

	low := s.enqueue(QueueItem{Priority: 0, ScheduledAt: s.now.Add(-1 * time.Minute)})
	highLate := s.enqueue(QueueItem{Priority: 5, ScheduledAt: s.now.Add(-1 * time.Minute)})
	highEarly := s.enqueue(QueueItem{Priority: 5, ScheduledAt: s.now.Add(-10 * time.Minute)})
	s.enqueue(QueueItem{Priority: 9, ScheduledAt: s.now.Add(1 * time.Hour)}) // not yet due

	due, err := s.queue.DequeueDue(ctx, ChannelEmail, 10, s.now)
	s.Require().NoError(err)
	s.Require().Len(due, 3)
	s.Equal(highEarly.ID, due[0].ID)
	s.Equal(highLate.ID, due[1].ID)
	s.Equal(low.ID, due[2].ID)
}

func (s *QueueStoreSuite) TestDequeueDueFilters() {
	ctx := context.Background()

	email := s.enqueue(QueueItem{Channel: ChannelEmail})
	s.enqueue(QueueItem{Channel: ChannelTelegram})

	s.Run("channel filter applies", func() {
		due, err := s.queue.DequeueDue(ctx, ChannelEmail, 10, s.now)
		s.NoError(err)
		s.Require().Len(due, 1)
		s.Equal(email.ID, due[0].ID)
	})

	s.Run("limit caps the batch", func() {
		due, err := s.queue.DequeueDue(ctx, "", 1, s.now)
		s.NoError(err)
		s.Len(due, 1)
	})

	s.Run("pending rows at their retry budget are skipped", func() {
		exhausted := s.enqueue(QueueItem{Channel: ChannelEmail, RetryCount: 2, MaxRetries: 2})
		fresh := s.enqueue(QueueItem{Channel: ChannelEmail})

		due, err := s.queue.DequeueDue(ctx, ChannelEmail, 10, s.now)
		s.NoError(err)
		s.Require().Len(due, 1)
		s.Equal(fresh.ID, due[0].ID)
		s.NotEqual(exhausted.ID, due[0].ID)
	})
}

func (s *QueueStoreSuite) TestDequeueDueClaimsRows() {
	ctx := context.Background()
	item := s.enqueue(QueueItem{})

	due, err := s.queue.DequeueDue(ctx, ChannelEmail, 10, s.now)
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(QueueStatusProcessing, due[0].Status)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(QueueStatusProcessing, got.Status)

	s.Run("a competing dequeue cannot claim the same row", func() {
		again, err := s.queue.DequeueDue(ctx, ChannelEmail, 10, s.now)
		s.NoError(err)
		s.Empty(again)
	})
}

func (s *QueueStoreSuite) TestMarkSentIsTerminal() {
	ctx := context.Background()
	item := s.enqueue(QueueItem{})

	s.Require().NoError(s.queue.MarkSent(ctx, item.ID, s.now))

	s.Run("second send attempt is rejected", func() {
		err := s.queue.MarkSent(ctx, item.ID, s.now.Add(time.Minute))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("late failure cannot overwrite a sent row", func() {
		err := s.queue.MarkFailed(ctx, item.ID, "late failure", true)
		s.ErrorIs(err, sentinel.ErrNotFound)

		got, err := s.queue.Get(ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(QueueStatusSent, got.Status)
		s.Nil(got.ErrorMessage)
	})

	s.Run("sent rows are never dequeued again", func() {
		due, err := s.queue.DequeueDue(ctx, "", 10, s.now.Add(time.Hour))
		s.NoError(err)
		s.Empty(due)
	})
}

func (s *QueueStoreSuite) TestRescheduleFailed() {
	ctx := context.Background()

	retryable := s.enqueue(QueueItem{})
	exhausted := s.enqueue(QueueItem{MaxRetries: 1})
	s.Require().NoError(s.queue.MarkFailed(ctx, retryable.ID, "smtp timeout", true))
	s.Require().NoError(s.queue.MarkFailed(ctx, exhausted.ID, "smtp timeout", true))

	dueAt := s.now.Add(5 * time.Minute)
	ids, err := s.queue.RescheduleFailed(ctx, dueAt)
	s.Require().NoError(err)
	s.Require().Len(ids, 1)
	s.Equal(retryable.NotificationID, ids[0])

	got, err := s.queue.Get(ctx, retryable.ID)
	s.Require().NoError(err)
	s.Equal(QueueStatusPending, got.Status)
	s.True(got.ScheduledAt.Equal(dueAt))

	still, err := s.queue.Get(ctx, exhausted.ID)
	s.Require().NoError(err)
	s.Equal(QueueStatusFailed, still.Status)
}

func (s *QueueStoreSuite) TestStats() {
	ctx := context.Background()

	s.enqueue(QueueItem{ScheduledAt: s.now.Add(-30 * time.Minute)})
	s.enqueue(QueueItem{ScheduledAt: s.now.Add(-10 * time.Minute)})
	sent := s.enqueue(QueueItem{})
	failed := s.enqueue(QueueItem{})
	s.Require().NoError(s.queue.MarkSent(ctx, sent.ID, s.now))
	s.Require().NoError(s.queue.MarkFailed(ctx, failed.ID, "boom", true))

	stats, err := s.queue.Stats(ctx, s.now)
	s.Require().NoError(err)
	s.Equal(2, stats.Pending)
	s.Equal(1, stats.Sent)
	s.Equal(1, stats.Failed)
	s.Equal(4, stats.Size)
	s.Require().NotNil(stats.LagMinutes)
	s.InDelta(30.0, *stats.LagMinutes, 0.01)
}

func (s *QueueStoreSuite) TestStatsEmptyQueue() {
	stats, err := s.queue.Stats(context.Background(), s.now)
	s.Require().NoError(err)
	s.Zero(stats.Size)
	s.Zero(stats.Pending)
	s.Zero(stats.Processing)
	s.Zero(stats.Sent)
	s.Zero(stats.Failed)
	s.Nil(stats.LagMinutes)
}

// =============================================================================
// Cascade Delete
// =============================================================================

func TestSoftDeleteCascadesToQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewInMemoryQueueStore()
	store := NewInMemoryStore(queue)

	n := &Notification{UserID: uuid.New(), EventType: EventStatusChanged, Title: "t", Message: "m"}
	if err := store.Create(ctx, n); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	item := &QueueItem{NotificationID: n.ID, Channel: ChannelEmail, ScheduledAt: time.Now()}
	if err := queue.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := store.SoftDelete(ctx, n.ID, time.Now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := store.Get(ctx, n.ID); err != sentinel.ErrNotFound {
		t.Fatalf("expected deleted notification to be gone, got %v", err)
	}
	if _, err := queue.Get(ctx, item.ID); err != sentinel.ErrNotFound {
		t.Fatalf("expected queue row to be gone, got %v", err)
	}

	due, err := queue.DequeueDue(ctx, "", 10, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due rows after cascade, got %d", len(due))
	}
}
