package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
	txcontext "github.com/bintocher/mgc-audits-backend/pkg/tx"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func querier(ctx context.Context, db *sql.DB) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}

const notificationColumns = `id, user_id, event_type, entity_type, entity_id, title, message,
	is_read, sent_email, sent_telegram, email_sent_at, telegram_sent_at,
	email_error, telegram_error, retry_count, last_retry_at, notification_config,
	created_at, updated_at, deleted_at`

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now

	var config []byte
	if n.NotificationConfig != nil {
		var err error
		if config, err = json.Marshal(n.NotificationConfig); err != nil {
			return fmt.Errorf("marshal notification config: %w", err)
		}
	}

	query := `
		INSERT INTO notifications
			(id, user_id, event_type, entity_type, entity_id, title, message, notification_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, s.db).ExecContext(ctx, query,
		n.ID, n.UserID, n.EventType, n.EntityType, n.EntityID, n.Title, n.Message,
		config, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND deleted_at IS NULL`
	n, err := scanNotification(querier(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != nil {
		conditions = append(conditions, "user_id = "+arg(*filter.UserID))
	}
	if filter.EventType != nil {
		conditions = append(conditions, "event_type = "+arg(*filter.EventType))
	}
	if filter.EntityType != nil {
		conditions = append(conditions, "entity_type = "+arg(*filter.EntityType))
	}
	if filter.EntityID != nil {
		conditions = append(conditions, "entity_id = "+arg(*filter.EntityID))
	}
	if filter.IsRead != nil {
		conditions = append(conditions, "is_read = "+arg(*filter.IsRead))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` +
		strings.Join(conditions, " AND ") +
		` ORDER BY created_at DESC OFFSET ` + arg(filter.Offset) + ` LIMIT ` + arg(limit)

	return s.list(ctx, query, args...)
}

func (s *PostgresStore) ListFailed(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE deleted_at IS NULL
		  AND ((email_error IS NOT NULL AND NOT sent_email)
		    OR (telegram_error IS NOT NULL AND NOT sent_telegram))
		ORDER BY created_at DESC
		LIMIT $1
	`
	return s.list(ctx, query, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + notificationColumns + `
	`
	n, err := scanNotification(querier(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	result, err := querier(ctx, s.db).ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND NOT is_read AND deleted_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) RecordChannelResult(ctx context.Context, id uuid.UUID, result ChannelResult) error {
	var query string
	switch result.Channel {
	case ChannelEmail:
		query = `
			UPDATE notifications
			SET sent_email = $2, email_sent_at = $3, email_error = $4, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`
	case ChannelTelegram:
		query = `
			UPDATE notifications
			SET sent_telegram = $2, telegram_sent_at = $3, telegram_error = $4, updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`
	default:
		return fmt.Errorf("unknown channel %q", result.Channel)
	}

	res, err := querier(ctx, s.db).ExecContext(ctx, query, id, result.Sent, result.SentAt, result.Error)
	if err != nil {
		return fmt.Errorf("record channel result: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) RecordRetry(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := querier(ctx, s.db).ExecContext(ctx, `
		UPDATE notifications
		SET retry_count = retry_count + 1, last_retry_at = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("record notification retry: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) Stats(ctx context.Context, userID *uuid.UUID, since time.Time) (*Stats, error) {
	conditions := "created_at >= $1 AND deleted_at IS NULL"
	args := []any{since}
	if userID != nil {
		conditions += " AND user_id = $2"
		args = append(args, *userID)
	}

	stats := &Stats{ByEventType: make(map[string]int)}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT is_read),
		       COUNT(*) FILTER (WHERE sent_email),
		       COUNT(*) FILTER (WHERE sent_telegram),
		       COUNT(*) FILTER (WHERE email_error IS NOT NULL),
		       COUNT(*) FILTER (WHERE telegram_error IS NOT NULL)
		FROM notifications
		WHERE ` + conditions
	if err := querier(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.Unread, &stats.EmailSent, &stats.TelegramSent,
		&stats.FailedEmail, &stats.FailedTelegram,
	); err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}

	byEvent := `SELECT event_type, COUNT(*) FROM notifications WHERE ` + conditions + ` GROUP BY event_type`
	rows, err := querier(ctx, s.db).QueryContext(ctx, byEvent, args...)
	if err != nil {
		return nil, fmt.Errorf("notification stats by event: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event stats: %w", err)
		}
		stats.ByEventType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event stats: %w", err)
	}
	return stats, nil
}

// SoftDelete marks the notification deleted and cascades to its queue rows
// in one transaction.
func (s *PostgresStore) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete notification: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE notifications SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, deletedAt)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE notification_queue SET deleted_at = $2 WHERE notification_id = $1 AND deleted_at IS NULL`, id, deletedAt); err != nil {
		return fmt.Errorf("delete notification queue rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete notification: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var emailSentAt, telegramSentAt, lastRetryAt, deletedAt sql.NullTime
	var emailError, telegramError sql.NullString
	var config []byte
	if err := row.Scan(
		&n.ID, &n.UserID, &n.EventType, &n.EntityType, &n.EntityID, &n.Title, &n.Message,
		&n.IsRead, &n.SentEmail, &n.SentTelegram, &emailSentAt, &telegramSentAt,
		&emailError, &telegramError, &n.RetryCount, &lastRetryAt, &config,
		&n.CreatedAt, &n.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if emailSentAt.Valid {
		n.EmailSentAt = &emailSentAt.Time
	}
	if telegramSentAt.Valid {
		n.TelegramSentAt = &telegramSentAt.Time
	}
	if emailError.Valid {
		n.EmailError = &emailError.String
	}
	if telegramError.Valid {
		n.TelegramError = &telegramError.String
	}
	if lastRetryAt.Valid {
		n.LastRetryAt = &lastRetryAt.Time
	}
	if deletedAt.Valid {
		n.DeletedAt = &deletedAt.Time
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &n.NotificationConfig); err != nil {
			return nil, fmt.Errorf("unmarshal notification config: %w", err)
		}
	}
	return &n, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
