package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
)

// fakeSender scripts per-notification outcomes and records what it was
// asked to deliver.
type fakeSender struct {
	channel  notification.Channel
	failWith map[uuid.UUID]error
	sent     []uuid.UUID
}

func newFakeSender(ch notification.Channel) *fakeSender {
	return &fakeSender{channel: ch, failWith: make(map[uuid.UUID]error)}
}

func (f *fakeSender) Channel() notification.Channel { return f.channel }

func (f *fakeSender) Send(_ context.Context, _ *identity.User, n *notification.Notification) error {
	if err, ok := f.failWith[n.ID]; ok {
		return err
	}
	f.sent = append(f.sent, n.ID)
	return nil
}

// =============================================================================
// Delivery Worker Test Suite
// =============================================================================

type DeliveryWorkerSuite struct {
	suite.Suite
	queue  *notification.InMemoryQueueStore
	store  *notification.InMemoryStore
	users  *identity.InMemoryStore
	sender *fakeSender
	worker *DeliveryWorker

	user uuid.UUID
	now  time.Time
}

func TestDeliveryWorkerSuite(t *testing.T) {
	suite.Run(t, new(DeliveryWorkerSuite))
}

func (s *DeliveryWorkerSuite) SetupTest() {
	s.queue = notification.NewInMemoryQueueStore()
	s.store = notification.NewInMemoryStore(s.queue)
	s.users = identity.NewInMemoryStore()
	s.sender = newFakeSender(notification.ChannelEmail)
	s.now = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	s.user = uuid.New()
	s.users.Put(identity.User{
		ID: s.user, Username: "auditor1", Email: "auditor1@example.com",
		NotifyEmail: true, NotifyTelegram: true,
	})

	var err error
	s.worker, err = NewDeliveryWorker(s.sender, s.queue, s.store, s.users, DeliveryConfig{
		BatchSize: 10,
		Now:       func() time.Time { return s.now },
	})
	s.Require().NoError(err)
}

func (s *DeliveryWorkerSuite) seed(ch notification.Channel, scheduledAt time.Time) (*notification.Notification, *notification.QueueItem) {
	ctx := context.Background()
	n := &notification.Notification{
		UserID:    s.user,
		EventType: notification.EventStatusChanged,
		Title:     "Изменен статус audit",
		Message:   "Статус изменен с 'draft' на 'in_review'",
	}
	s.Require().NoError(s.store.Create(ctx, n))

	item := &notification.QueueItem{
		NotificationID: n.ID,
		Channel:        ch,
		ScheduledAt:    scheduledAt,
	}
	s.Require().NoError(s.queue.Enqueue(ctx, item))
	return n, item
}

func (s *DeliveryWorkerSuite) TestRunOnceSendsDueItems() {
	ctx := context.Background()
	n, item := s.seed(notification.ChannelEmail, s.now.Add(-time.Minute))
	s.seed(notification.ChannelTelegram, s.now.Add(-time.Minute)) // other channel, untouched

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Dequeued)
	s.Equal(1, res.Sent)
	s.Zero(res.Failed)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusSent, got.Status)
	s.Require().NotNil(got.SentAt)
	s.True(got.SentAt.Equal(s.now))

	// Outcome is mirrored onto the parent notification.
	parent, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.True(parent.SentEmail)
	s.Nil(parent.EmailError)
}

func (s *DeliveryWorkerSuite) TestRunOnceRecordsFailures() {
	ctx := context.Background()
	n, item := s.seed(notification.ChannelEmail, s.now.Add(-time.Minute))
	s.sender.failWith[n.ID] = errors.New("smtp timeout")

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Failed)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusFailed, got.Status)
	s.Equal(1, got.RetryCount)
	s.Require().NotNil(got.ErrorMessage)
	s.Contains(*got.ErrorMessage, "smtp timeout")

	parent, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.False(parent.SentEmail)
	s.Require().NotNil(parent.EmailError)
	s.Contains(*parent.EmailError, "smtp timeout")
}

func (s *DeliveryWorkerSuite) TestFailureIsolation() {
	ctx := context.Background()
	bad, _ := s.seed(notification.ChannelEmail, s.now.Add(-2*time.Minute))
	good, goodItem := s.seed(notification.ChannelEmail, s.now.Add(-time.Minute))
	s.sender.failWith[bad.ID] = errors.New("boom")

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Dequeued)
	s.Equal(1, res.Sent)
	s.Equal(1, res.Failed)

	got, err := s.queue.Get(ctx, goodItem.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusSent, got.Status)
	s.Equal([]uuid.UUID{good.ID}, s.sender.sent)
}

func (s *DeliveryWorkerSuite) TestOrphanRowFailsWithoutRetryBudgetUse() {
	ctx := context.Background()

	item := &notification.QueueItem{
		NotificationID: uuid.New(), // no such notification
		Channel:        notification.ChannelEmail,
		ScheduledAt:    s.now.Add(-time.Minute),
	}
	s.Require().NoError(s.queue.Enqueue(ctx, item))

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Failed)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusFailed, got.Status)
	s.Zero(got.RetryCount)
}

func (s *DeliveryWorkerSuite) TestNotYetDueItemsStayQueued() {
	ctx := context.Background()
	_, item := s.seed(notification.ChannelEmail, s.now.Add(time.Hour))

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Zero(res.Dequeued)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusPending, got.Status)
}

// TestFailRetrySucceedCycle walks a delivery through failure, the retry
// sweep and a subsequent successful attempt.
func (s *DeliveryWorkerSuite) TestFailRetrySucceedCycle() {
	ctx := context.Background()
	n, item := s.seed(notification.ChannelEmail, s.now.Add(-time.Minute))
	s.sender.failWith[n.ID] = errors.New("connection refused")

	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Failed)

	sweep, err := NewRetrySweep(s.queue, s.store, nil, nil)
	s.Require().NoError(err)
	sweep.WithClock(func() time.Time { return s.now })

	rescheduled, err := sweep.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, rescheduled)

	// The sweep stamps retry bookkeeping on the parent notification.
	parent, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(1, parent.RetryCount)
	s.Require().NotNil(parent.LastRetryAt)

	// Transient fault clears; the next pass delivers.
	delete(s.sender.failWith, n.ID)
	res, err = s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.Sent)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusSent, got.Status)
	s.Equal(1, got.RetryCount)
}

// TestRetryBudgetExhaustion drives a permanently failing delivery through
// repeated sweeps until the budget pins it failed for good.
func (s *DeliveryWorkerSuite) TestRetryBudgetExhaustion() {
	ctx := context.Background()
	n, item := s.seed(notification.ChannelEmail, s.now.Add(-time.Minute))
	s.sender.failWith[n.ID] = errors.New("mailbox does not exist")

	sweep, err := NewRetrySweep(s.queue, s.store, nil, nil)
	s.Require().NoError(err)
	sweep.WithClock(func() time.Time { return s.now })

	for i := 0; i < notification.DefaultMaxRetries; i++ {
		res, err := s.worker.RunOnce(ctx)
		s.Require().NoError(err)
		s.Equal(1, res.Failed)
		if _, err := sweep.RunOnce(ctx); err != nil {
			s.Require().NoError(err)
		}
	}

	// Budget spent: the sweep leaves it failed and nothing dequeues it.
	res, err := s.worker.RunOnce(ctx)
	s.Require().NoError(err)
	s.Zero(res.Dequeued)

	got, err := s.queue.Get(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(notification.QueueStatusFailed, got.Status)
	s.Equal(notification.DefaultMaxRetries, got.RetryCount)
}
