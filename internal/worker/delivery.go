// Package worker runs the periodic jobs that drain the delivery queue,
// reschedule failed deliveries and expire stale auditor qualifications.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/notification/channel"
	"github.com/bintocher/mgc-audits-backend/internal/platform/metrics"
	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// DeliveryWorker drains due queue rows for one channel through its sender.
// One worker instance owns one channel; per-item failures never abort the
// batch.
type DeliveryWorker struct {
	sender      channel.Sender
	queue       notification.QueueStore
	store       notification.Store
	users       identity.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	batchSize   int
	sendTimeout time.Duration
	now         func() time.Time
}

// DeliveryConfig bundles the optional knobs for NewDeliveryWorker.
type DeliveryConfig struct {
	BatchSize   int
	SendTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// BatchResult summarizes one RunOnce pass.
type BatchResult struct {
	Dequeued int
	Sent     int
	Failed   int
}

func NewDeliveryWorker(sender channel.Sender, queue notification.QueueStore, store notification.Store, users identity.Store, cfg DeliveryConfig) (*DeliveryWorker, error) {
	if sender == nil || queue == nil || store == nil {
		return nil, fmt.Errorf("sender, queue store and notification store are required")
	}
	w := &DeliveryWorker{
		sender:      sender,
		queue:       queue,
		store:       store,
		users:       users,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		batchSize:   cfg.BatchSize,
		sendTimeout: cfg.SendTimeout,
		now:         cfg.Now,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.batchSize <= 0 {
		w.batchSize = 50
	}
	if w.sendTimeout <= 0 {
		w.sendTimeout = 5 * time.Second
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w, nil
}

// RunOnce dequeues one batch of due rows and attempts delivery for each.
func (w *DeliveryWorker) RunOnce(ctx context.Context) (BatchResult, error) {
	var res BatchResult

	items, err := w.queue.DequeueDue(ctx, w.sender.Channel(), w.batchSize, w.now())
	if err != nil {
		return res, fmt.Errorf("dequeue due items: %w", err)
	}
	res.Dequeued = len(items)

	for i := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if w.deliver(ctx, &items[i]) {
			res.Sent++
		} else {
			res.Failed++
		}
	}

	if res.Dequeued > 0 {
		w.logger.InfoContext(ctx, "delivery batch finished",
			"channel", w.sender.Channel(),
			"dequeued", res.Dequeued,
			"sent", res.Sent,
			"failed", res.Failed)
	}
	return res, nil
}

// deliver processes a single queue row and reports whether it was sent.
// The row arrives already claimed by DequeueDue, so no other worker holds it.
func (w *DeliveryWorker) deliver(ctx context.Context, item *notification.QueueItem) bool {
	log := w.logger.With("queue_id", item.ID, "notification_id", item.NotificationID, "channel", item.Channel)

	n, err := w.store.Get(ctx, item.NotificationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Orphan row. Retrying cannot help, so the retry counter
			// stays put and the budget check keeps it failed.
			w.fail(ctx, item, nil, "notification no longer exists", false)
			return false
		}
		log.ErrorContext(ctx, "failed to load notification", "error", err)
		w.fail(ctx, item, nil, fmt.Sprintf("load notification: %v", err), true)
		return false
	}

	var user *identity.User
	if w.users != nil {
		user, err = w.users.Get(ctx, n.UserID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				w.fail(ctx, item, n, "recipient no longer exists", false)
				return false
			}
			log.ErrorContext(ctx, "failed to load recipient", "error", err)
			w.fail(ctx, item, n, fmt.Sprintf("load recipient: %v", err), true)
			return false
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err = w.sender.Send(sendCtx, user, n)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "delivery failed", "error", err)
		w.fail(ctx, item, n, err.Error(), true)
		return false
	}

	sentAt := w.now()
	if err := w.queue.MarkSent(ctx, item.ID, sentAt); err != nil {
		log.ErrorContext(ctx, "failed to mark queue item sent", "error", err)
		return false
	}
	result := notification.ChannelResult{Channel: item.Channel, Sent: true, SentAt: &sentAt}
	if err := w.store.RecordChannelResult(ctx, item.NotificationID, result); err != nil {
		log.ErrorContext(ctx, "failed to record channel result", "error", err)
	}
	if w.metrics != nil {
		w.metrics.DeliveriesSent.WithLabelValues(string(item.Channel)).Inc()
	}
	return true
}

// fail records the failure on the queue row and mirrors it onto the parent
// notification when it still exists.
func (w *DeliveryWorker) fail(ctx context.Context, item *notification.QueueItem, n *notification.Notification, errMsg string, incrementRetry bool) {
	if err := w.queue.MarkFailed(ctx, item.ID, errMsg, incrementRetry); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark queue item failed",
			"queue_id", item.ID, "error", err)
	}
	if n != nil {
		result := notification.ChannelResult{Channel: item.Channel, Sent: false, Error: &errMsg}
		if err := w.store.RecordChannelResult(ctx, item.NotificationID, result); err != nil {
			w.logger.ErrorContext(ctx, "failed to record channel result",
				"notification_id", item.NotificationID, "error", err)
		}
	}
	if w.metrics != nil {
		w.metrics.DeliveriesFailed.WithLabelValues(string(item.Channel)).Inc()
	}
}
