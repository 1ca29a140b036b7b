package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// PostgresStore reads users and role assignments from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, username, email, is_superuser, is_staff, telegram_chat_id,
		       notify_email, notify_telegram, created_at, updated_at, deleted_at
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`
	var user User
	var chatID sql.NullString
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.IsSuperuser, &user.IsStaff,
		&chatID, &user.NotifyEmail, &user.NotifyTelegram,
		&user.CreatedAt, &user.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if chatID.Valid {
		user.TelegramChatID = &chatID.String
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return &user, nil
}

// RoleIDs returns the flat set of role identifiers across all of the user's
// assignments. Enterprise/division/location scoping on the assignment rows
// is deliberately dropped here.
func (s *PostgresStore) RoleIDs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT role_id FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	var roleIDs []string
	for rows.Next() {
		var roleID string
		if err := rows.Scan(&roleID); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		roleIDs = append(roleIDs, roleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return roleIDs, nil
}

func (s *PostgresStore) SetTelegramChatID(ctx context.Context, userID uuid.UUID, chatID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET telegram_chat_id = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, userID, chatID)
	if err != nil {
		return fmt.Errorf("set telegram chat id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set telegram chat id rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
