package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// PostgresQueueStore persists the delivery queue in PostgreSQL. DequeueDue
// claims rows by flipping them to processing in the same statement that
// selects them with FOR UPDATE SKIP LOCKED, so concurrent worker processes
// never pick up the same row.
type PostgresQueueStore struct {
	db *sql.DB
}

func NewPostgresQueueStore(db *sql.DB) *PostgresQueueStore {
	return &PostgresQueueStore{db: db}
}

const queueColumns = `id, notification_id, channel, status, priority, scheduled_at, sent_at,
	error_message, retry_count, max_retries, created_at, updated_at, deleted_at`

func (s *PostgresQueueStore) Enqueue(ctx context.Context, item *QueueItem) error {
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

	query := `
		INSERT INTO notification_queue
			(id, notification_id, channel, status, priority, scheduled_at, retry_count, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, s.db).ExecContext(ctx, query,
		item.ID, item.NotificationID, item.Channel, item.Status, item.Priority,
		item.ScheduledAt, item.RetryCount, item.MaxRetries, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (s *PostgresQueueStore) Get(ctx context.Context, id uuid.UUID) (*QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM notification_queue WHERE id = $1 AND deleted_at IS NULL`
	item, err := scanQueueItem(querier(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *PostgresQueueStore) List(ctx context.Context, filter QueueFilter) ([]QueueItem, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.NotificationID != nil {
		conditions = append(conditions, "notification_id = "+arg(*filter.NotificationID))
	}
	if filter.Channel != nil {
		conditions = append(conditions, "channel = "+arg(*filter.Channel))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+arg(*filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + queueColumns + ` FROM notification_queue WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC OFFSET ` + arg(filter.Offset) + ` LIMIT ` + arg(limit)

	return s.listQuery(ctx, query, args...)
}

// DequeueDue claims pending rows due at or before now that still have retry
// budget, highest priority first, oldest due first. Claiming happens in one
// statement: the FOR UPDATE SKIP LOCKED selection and the flip to processing
// commit together, so a row returned here is owned by this caller and a
// concurrent dequeue on the same channel cannot return it again.
func (s *PostgresQueueStore) DequeueDue(ctx context.Context, channel Channel, limit int, now time.Time) ([]QueueItem, error) {
	conditions := `status = 'pending' AND scheduled_at <= $1 AND retry_count < max_retries AND deleted_at IS NULL`
	args := []any{now}
	if channel != "" {
		conditions += ` AND channel = $2`
		args = append(args, channel)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		WITH due AS (
			SELECT id
			FROM notification_queue
			WHERE %s
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT $%d
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE notification_queue q
			SET status = 'processing', updated_at = NOW()
			FROM due
			WHERE q.id = due.id
			RETURNING q.id, q.notification_id, q.channel, q.status, q.priority, q.scheduled_at,
				q.sent_at, q.error_message, q.retry_count, q.max_retries,
				q.created_at, q.updated_at, q.deleted_at
		)
		SELECT `+queueColumns+`
		FROM claimed
		ORDER BY priority DESC, scheduled_at ASC
	`, conditions, len(args))

	return s.listQuery(ctx, query, args...)
}

func (s *PostgresQueueStore) listQuery(ctx context.Context, query string, args ...any) ([]QueueItem, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return out, nil
}

// MarkSent is terminal: a row already sent is never mutated again.
func (s *PostgresQueueStore) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	result, err := querier(ctx, s.db).ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'sent' AND deleted_at IS NULL
	`, id, sentAt)
	if err != nil {
		return fmt.Errorf("mark queue item sent: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresQueueStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, incrementRetry bool) error {
	increment := 0
	if incrementRetry {
		increment = 1
	}
	result, err := querier(ctx, s.db).ExecContext(ctx, `
		UPDATE notification_queue
		SET status = 'failed', error_message = $2, retry_count = retry_count + $3, updated_at = NOW()
		WHERE id = $1 AND status <> 'sent' AND deleted_at IS NULL
	`, id, errMsg, increment)
	if err != nil {
		return fmt.Errorf("mark queue item failed: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresQueueStore) RescheduleFailed(ctx context.Context, dueAt time.Time) ([]uuid.UUID, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, `
		UPDATE notification_queue
		SET status = 'pending', scheduled_at = $1, updated_at = NOW()
		WHERE status = 'failed' AND retry_count < max_retries AND deleted_at IS NULL
		RETURNING notification_id
	`, dueAt)
	if err != nil {
		return nil, fmt.Errorf("reschedule failed queue items: %w", err)
	}
	defer rows.Close()

	var notificationIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rescheduled notification id: %w", err)
		}
		notificationIDs = append(notificationIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rescheduled rows: %w", err)
	}
	return notificationIDs, nil
}

func (s *PostgresQueueStore) Stats(ctx context.Context, now time.Time) (*QueueStats, error) {
	stats := &QueueStats{}
	var oldestPending sql.NullTime

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'processing'),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       MIN(scheduled_at) FILTER (WHERE status = 'pending')
		FROM notification_queue
		WHERE deleted_at IS NULL
	`
	if err := querier(ctx, s.db).QueryRowContext(ctx, query).Scan(
		&stats.Size, &stats.Pending, &stats.Processing, &stats.Sent, &stats.Failed, &oldestPending,
	); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	if oldestPending.Valid {
		lag := now.Sub(oldestPending.Time).Minutes()
		stats.LagMinutes = &lag
	}
	return stats, nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var sentAt, deletedAt sql.NullTime
	var errorMessage sql.NullString
	if err := row.Scan(
		&item.ID, &item.NotificationID, &item.Channel, &item.Status, &item.Priority,
		&item.ScheduledAt, &sentAt, &errorMessage, &item.RetryCount, &item.MaxRetries,
		&item.CreatedAt, &item.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if sentAt.Valid {
		item.SentAt = &sentAt.Time
	}
	if errorMessage.Valid {
		item.ErrorMessage = &errorMessage.String
	}
	if deletedAt.Valid {
		item.DeletedAt = &deletedAt.Time
	}
	return &item, nil
}
