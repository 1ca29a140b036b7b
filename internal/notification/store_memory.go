package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// InMemoryStore mirrors the Postgres notification store for unit tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]Notification
	queue         *InMemoryQueueStore
}

// NewInMemoryStore builds a memory store. Passing the queue store lets
// SoftDelete cascade the way the Postgres schema does with ON DELETE CASCADE.
func NewInMemoryStore(queue *InMemoryQueueStore) *InMemoryStore {
	return &InMemoryStore{
		notifications: make(map[uuid.UUID]Notification),
		queue:         queue,
	}
}

func (s *InMemoryStore) Create(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.notifications[n.ID] = *n
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok || n.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return &n, nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.DeletedAt != nil {
			continue
		}
		if filter.UserID != nil && n.UserID != *filter.UserID {
			continue
		}
		if filter.EventType != nil && n.EventType != *filter.EventType {
			continue
		}
		if filter.EntityType != nil && n.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != nil && n.EntityID != *filter.EntityID {
			continue
		}
		if filter.IsRead != nil && n.IsRead != *filter.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *InMemoryStore) ListFailed(_ context.Context, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, n := range s.notifications {
		if n.DeletedAt != nil {
			continue
		}
		if (n.EmailError != nil && !n.SentEmail) || (n.TelegramError != nil && !n.SentTelegram) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, 0, limit), nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	n.IsRead = true
	n.UpdatedAt = time.Now()
	s.notifications[id] = n
	return &n, nil
}

func (s *InMemoryStore) MarkAllRead(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, n := range s.notifications {
		if n.DeletedAt == nil && n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.UpdatedAt = time.Now()
			s.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) RecordChannelResult(_ context.Context, id uuid.UUID, result ChannelResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	switch result.Channel {
	case ChannelEmail:
		n.SentEmail = result.Sent
		n.EmailSentAt = result.SentAt
		n.EmailError = result.Error
	case ChannelTelegram:
		n.SentTelegram = result.Sent
		n.TelegramSentAt = result.SentAt
		n.TelegramError = result.Error
	}
	n.UpdatedAt = time.Now()
	s.notifications[id] = n
	return nil
}

func (s *InMemoryStore) RecordRetry(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	n.RetryCount++
	n.LastRetryAt = &at
	n.UpdatedAt = time.Now()
	s.notifications[id] = n
	return nil
}

func (s *InMemoryStore) Stats(_ context.Context, userID *uuid.UUID, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &Stats{ByEventType: make(map[string]int)}
	for _, n := range s.notifications {
		if n.DeletedAt != nil || n.CreatedAt.Before(since) {
			continue
		}
		if userID != nil && n.UserID != *userID {
			continue
		}
		stats.Total++
		if !n.IsRead {
			stats.Unread++
		}
		if n.SentEmail {
			stats.EmailSent++
		}
		if n.SentTelegram {
			stats.TelegramSent++
		}
		if n.EmailError != nil {
			stats.FailedEmail++
		}
		if n.TelegramError != nil {
			stats.FailedTelegram++
		}
		stats.ByEventType[n.EventType]++
	}
	return stats, nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, id uuid.UUID, deletedAt time.Time) error {
	s.mu.Lock()
	n, ok := s.notifications[id]
	if !ok || n.DeletedAt != nil {
		s.mu.Unlock()
		return sentinel.ErrNotFound
	}
	n.DeletedAt = &deletedAt
	s.notifications[id] = n
	s.mu.Unlock()

	if s.queue != nil {
		s.queue.deleteByNotification(id, deletedAt)
	}
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// InMemoryQueueStore mirrors the Postgres queue store.
type InMemoryQueueStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]QueueItem
}

func NewInMemoryQueueStore() *InMemoryQueueStore {
	return &InMemoryQueueStore{items: make(map[uuid.UUID]QueueItem)}
}

func (s *InMemoryQueueStore) Enqueue(_ context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = QueueStatusPending
	}
	if item.MaxRetries == 0 {
		item.MaxRetries = DefaultMaxRetries
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryQueueStore) Get(_ context.Context, id uuid.UUID) (*QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return &item, nil
}

func (s *InMemoryQueueStore) List(_ context.Context, filter QueueFilter) ([]QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []QueueItem
	for _, item := range s.items {
		if item.DeletedAt != nil {
			continue
		}
		if filter.NotificationID != nil && item.NotificationID != *filter.NotificationID {
			continue
		}
		if filter.Channel != nil && item.Channel != *filter.Channel {
			continue
		}
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

// DequeueDue claims the rows it returns, flipping them to processing under
// the write lock the way the Postgres store claims them in one statement.
func (s *InMemoryQueueStore) DequeueDue(_ context.Context, channel Channel, limit int, now time.Time) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []QueueItem
	for _, item := range s.items {
		if item.DeletedAt != nil || item.Status != QueueStatusPending {
			continue
		}
		if channel != "" && item.Channel != channel {
			continue
		}
		if item.ScheduledAt.After(now) {
			continue
		}
		if item.RetryCount >= item.MaxRetries {
			continue
		}
		due = append(due, item)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = QueueStatusProcessing
		due[i].UpdatedAt = time.Now()
		s.items[due[i].ID] = due[i]
	}
	return due, nil
}

// MarkSent is terminal: a row already sent is never mutated again, matching
// the Postgres store's status <> 'sent' guard.
func (s *InMemoryQueueStore) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	return s.mutateUnsent(id, func(item *QueueItem) {
		item.Status = QueueStatusSent
		item.SentAt = &sentAt
		item.ErrorMessage = nil
	})
}

func (s *InMemoryQueueStore) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, incrementRetry bool) error {
	return s.mutateUnsent(id, func(item *QueueItem) {
		item.Status = QueueStatusFailed
		item.ErrorMessage = &errMsg
		if incrementRetry {
			item.RetryCount++
		}
	})
}

func (s *InMemoryQueueStore) mutateUnsent(id uuid.UUID, fn func(*QueueItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.DeletedAt != nil || item.Status == QueueStatusSent {
		return sentinel.ErrNotFound
	}
	fn(&item)
	item.UpdatedAt = time.Now()
	s.items[id] = item
	return nil
}

func (s *InMemoryQueueStore) RescheduleFailed(_ context.Context, dueAt time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var notificationIDs []uuid.UUID
	for id, item := range s.items {
		if item.DeletedAt != nil || item.Status != QueueStatusFailed {
			continue
		}
		if item.RetryCount >= item.MaxRetries {
			continue
		}
		item.Status = QueueStatusPending
		item.ScheduledAt = dueAt
		item.UpdatedAt = time.Now()
		s.items[id] = item
		notificationIDs = append(notificationIDs, item.NotificationID)
	}
	return notificationIDs, nil
}

func (s *InMemoryQueueStore) Stats(_ context.Context, now time.Time) (*QueueStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &QueueStats{}
	var oldestPending *time.Time
	for _, item := range s.items {
		if item.DeletedAt != nil {
			continue
		}
		stats.Size++
		switch item.Status {
		case QueueStatusPending:
			stats.Pending++
			if oldestPending == nil || item.ScheduledAt.Before(*oldestPending) {
				scheduledAt := item.ScheduledAt
				oldestPending = &scheduledAt
			}
		case QueueStatusProcessing:
			stats.Processing++
		case QueueStatusSent:
			stats.Sent++
		case QueueStatusFailed:
			stats.Failed++
		}
	}
	if oldestPending != nil {
		lag := now.Sub(*oldestPending).Minutes()
		stats.LagMinutes = &lag
	}
	return stats, nil
}

func (s *InMemoryQueueStore) deleteByNotification(notificationID uuid.UUID, deletedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if item.NotificationID == notificationID && item.DeletedAt == nil {
			item.DeletedAt = &deletedAt
			s.items[id] = item
		}
	}
}
