package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/platform/metrics"
	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// Service is the notification factory. It persists notifications and fans
// them out into per-channel queue rows; it never touches a transport itself.
type Service struct {
	store   Store
	queue   QueueStore
	users   identity.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures optional service dependencies.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, queue QueueStore, users identity.Store, opts ...Option) (*Service, error) {
	if store == nil || queue == nil {
		return nil, fmt.Errorf("notification store and queue store are required")
	}
	s := &Service{
		store:  store,
		queue:  queue,
		users:  users,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateParams is the factory input. ScheduledAt defaults to now; Priority
// defaults to zero.
type CreateParams struct {
	UserID             uuid.UUID
	EventType          string
	EntityType         string
	EntityID           uuid.UUID
	Title              string
	Message            string
	Priority           int
	ScheduledAt        *time.Time
	NotificationConfig map[string]any
}

// Notify persists the notification and enqueues one pending queue row per
// enabled channel. A user whose record cannot be loaded gets both channels
// queued; the delivery workers surface the missing contact data per item.
func (s *Service) Notify(ctx context.Context, params CreateParams) (*Notification, error) {
	if params.UserID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}
	if params.EventType == "" || params.Title == "" || params.Message == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "event_type, title and message are required")
	}

	now := s.now()
	n := &Notification{
		ID:                 uuid.New(),
		UserID:             params.UserID,
		EventType:          params.EventType,
		EntityType:         params.EntityType,
		EntityID:           params.EntityID,
		Title:              params.Title,
		Message:            params.Message,
		NotificationConfig: params.NotificationConfig,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create notification")
	}
	if s.metrics != nil {
		s.metrics.NotificationsCreated.Inc()
	}

	scheduledAt := now
	if params.ScheduledAt != nil {
		scheduledAt = *params.ScheduledAt
	}

	for _, ch := range s.channelsFor(ctx, params.UserID) {
		item := &QueueItem{
			ID:             uuid.New(),
			NotificationID: n.ID,
			Channel:        ch,
			Status:         QueueStatusPending,
			Priority:       params.Priority,
			ScheduledAt:    scheduledAt,
			MaxRetries:     DefaultMaxRetries,
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue notification")
		}
	}

	s.logger.InfoContext(ctx, "notification created",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"event_type", n.EventType)
	return n, nil
}

// channelsFor applies the recipient's per-channel opt-outs. When the user
// cannot be loaded both channels are queued so nothing is silently dropped.
func (s *Service) channelsFor(ctx context.Context, userID uuid.UUID) []Channel {
	all := []Channel{ChannelEmail, ChannelTelegram}
	if s.users == nil {
		return all
	}
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to load recipient, queueing all channels",
				"user_id", userID, "error", err)
		}
		return all
	}

	var out []Channel
	if user.NotifyEmail {
		out = append(out, ChannelEmail)
	}
	if user.NotifyTelegram {
		out = append(out, ChannelTelegram)
	}
	return out
}

// NotifyFindingCreated notifies the assignee of a new finding.
func (s *Service) NotifyFindingCreated(ctx context.Context, userID, findingID uuid.UUID, title, description string) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventFindingCreated,
		EntityType: "finding",
		EntityID:   findingID,
		Title:      fmt.Sprintf("Новое несоответствие: %s", title),
		Message:    fmt.Sprintf("Вам назначено новое несоответствие:\n\n%s", description),
	})
}

// NotifyStatusChanged notifies a stakeholder that an entity changed status.
func (s *Service) NotifyStatusChanged(ctx context.Context, userID uuid.UUID, entityType string, entityID uuid.UUID, oldStatus, newStatus string) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventStatusChanged,
		EntityType: entityType,
		EntityID:   entityID,
		Title:      fmt.Sprintf("Изменен статус %s", entityType),
		Message:    fmt.Sprintf("Статус изменен с '%s' на '%s'", oldStatus, newStatus),
	})
}

// NotifyDeadlineApproaching warns the assignee ahead of a finding deadline.
func (s *Service) NotifyDeadlineApproaching(ctx context.Context, userID, findingID uuid.UUID, title string, deadline time.Time) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventDeadlineApproaching,
		EntityType: "finding",
		EntityID:   findingID,
		Title:      fmt.Sprintf("Приближается дедлайн: %s", title),
		Message:    fmt.Sprintf("Дедлайн для несоответствия '%s' наступает %s", title, deadline.Format("02.01.2006")),
	})
}

// NotifyDeadlineOverdue tells the assignee a finding deadline has passed.
func (s *Service) NotifyDeadlineOverdue(ctx context.Context, userID, findingID uuid.UUID, title string, deadline time.Time) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventDeadlineOverdue,
		EntityType: "finding",
		EntityID:   findingID,
		Title:      fmt.Sprintf("Просрочен дедлайн: %s", title),
		Message:    fmt.Sprintf("Дедлайн для несоответствия '%s' был %s", title, deadline.Format("02.01.2006")),
	})
}

// NotifyDelegation tells a user a finding was delegated to them.
func (s *Service) NotifyDelegation(ctx context.Context, userID, findingID uuid.UUID, title, reason string) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventDelegation,
		EntityType: "finding",
		EntityID:   findingID,
		Title:      fmt.Sprintf("Делегировано несоответствие: %s", title),
		Message:    fmt.Sprintf("Вам делегировано несоответствие '%s'\n\nПричина: %s", title, reason),
	})
}

// NotifyCommentAdded tells the finding owner about a new comment.
func (s *Service) NotifyCommentAdded(ctx context.Context, userID, findingID uuid.UUID, title, commenterName, commentText string) (*Notification, error) {
	return s.Notify(ctx, CreateParams{
		UserID:     userID,
		EventType:  EventCommentAdded,
		EntityType: "finding",
		EntityID:   findingID,
		Title:      fmt.Sprintf("Добавлен комментарий к: %s", title),
		Message:    fmt.Sprintf("%s добавил комментарий к несоответствию '%s':\n\n%s", commenterName, title, commentText),
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get notification")
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	return out, nil
}

// ListFailed returns recent notifications with at least one channel error.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	out, err := s.store.ListFailed(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list failed notifications")
	}
	return out, nil
}

// MarkRead marks one notification read. Only the recipient may do so.
func (s *Service) MarkRead(ctx context.Context, id, actorID uuid.UUID) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get notification")
	}
	if n.UserID != actorID {
		return nil, dErrors.New(dErrors.CodeForbidden, "notification belongs to another user")
	}
	updated, err := s.store.MarkRead(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notification read")
	}
	return updated, nil
}

// MarkAllRead marks every unread notification of the user read and returns
// the count.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notifications read")
	}
	return n, nil
}

// Stats summarizes notification outcomes over the trailing window.
func (s *Service) Stats(ctx context.Context, userID *uuid.UUID, days int) (*Stats, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)
	stats, err := s.store.Stats(ctx, userID, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute notification stats")
	}
	return stats, nil
}

// ListQueue exposes raw queue rows for operators.
func (s *Service) ListQueue(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	out, err := s.queue.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list queue")
	}
	return out, nil
}

// QueueStats returns the operational queue view and refreshes the depth and
// lag gauges.
func (s *Service) QueueStats(ctx context.Context) (*QueueStats, error) {
	stats, err := s.queue.Stats(ctx, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute queue stats")
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(stats.Pending))
		if stats.LagMinutes != nil {
			s.metrics.QueueLagMinutes.Set(*stats.LagMinutes)
		} else {
			s.metrics.QueueLagMinutes.Set(0)
		}
	}
	return stats, nil
}

// Delete soft-deletes a notification together with its queue rows.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SoftDelete(ctx, id, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete notification")
	}
	return nil
}
