package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/platform/metrics"
)

// RetrySweep is the single retry authority. It flips failed queue rows that
// still have retry budget back to pending and stamps the parent
// notifications' retry bookkeeping.
type RetrySweep struct {
	queue   notification.QueueStore
	store   notification.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRetrySweep(queue notification.QueueStore, store notification.Store, logger *slog.Logger, m *metrics.Metrics) (*RetrySweep, error) {
	if queue == nil || store == nil {
		return nil, fmt.Errorf("queue store and notification store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrySweep{
		queue:   queue,
		store:   store,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source for tests.
func (s *RetrySweep) WithClock(now func() time.Time) *RetrySweep {
	s.now = now
	return s
}

// RunOnce reschedules eligible failed rows and returns how many were flipped.
func (s *RetrySweep) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	notificationIDs, err := s.queue.RescheduleFailed(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("reschedule failed items: %w", err)
	}
	if len(notificationIDs) == 0 {
		return 0, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(notificationIDs))
	for _, id := range notificationIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if err := s.store.RecordRetry(ctx, id, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to record retry on notification",
				"notification_id", id, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.DeliveriesRetried.Add(float64(len(notificationIDs)))
	}
	s.logger.InfoContext(ctx, "retry sweep finished", "rescheduled", len(notificationIDs))
	return len(notificationIDs), nil
}
