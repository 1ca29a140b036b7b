package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
	txcontext "github.com/bintocher/mgc-audits-backend/pkg/tx"
)

// PostgresStatusStore persists statuses in PostgreSQL. The store is pure
// I/O; invariants like initial-status uniqueness belong to the service.
type PostgresStatusStore struct {
	db *sql.DB
}

func NewPostgresStatusStore(db *sql.DB) *PostgresStatusStore {
	return &PostgresStatusStore{db: db}
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

const statusColumns = `id, name, code, color, entity_type, "order", is_initial, is_final, created_at, updated_at, deleted_at`

func (s *PostgresStatusStore) Create(ctx context.Context, status *Status) error {
	if status.ID == uuid.Nil {
		status.ID = uuid.New()
	}
	now := time.Now()
	status.CreatedAt = now
	status.UpdatedAt = now

	query := `
		INSERT INTO statuses (id, name, code, color, entity_type, "order", is_initial, is_final, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, s.db).ExecContext(ctx, query,
		status.ID, status.Name, status.Code, status.Color, status.EntityType,
		status.Order, status.IsInitial, status.IsFinal, status.CreatedAt, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (s *PostgresStatusStore) Get(ctx context.Context, id uuid.UUID) (*Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE id = $1 AND deleted_at IS NULL`
	status, err := scanStatus(querier(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get status: %w", err)
	}
	return status, nil
}

func (s *PostgresStatusStore) GetByCode(ctx context.Context, entityType, code string) (*Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE entity_type = $1 AND code = $2 AND deleted_at IS NULL`
	status, err := scanStatus(querier(ctx, s.db).QueryRowContext(ctx, query, entityType, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get status by code: %w", err)
	}
	return status, nil
}

func (s *PostgresStatusStore) ListByEntityType(ctx context.Context, entityType string) ([]Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE entity_type = $1 AND deleted_at IS NULL ORDER BY "order"`
	return s.list(ctx, query, entityType)
}

func (s *PostgresStatusStore) GetInitial(ctx context.Context, entityType string) (*Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE entity_type = $1 AND is_initial AND deleted_at IS NULL LIMIT 1`
	status, err := scanStatus(querier(ctx, s.db).QueryRowContext(ctx, query, entityType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get initial status: %w", err)
	}
	return status, nil
}

func (s *PostgresStatusStore) ListFinal(ctx context.Context, entityType string) ([]Status, error) {
	query := `SELECT ` + statusColumns + ` FROM statuses WHERE entity_type = $1 AND is_final AND deleted_at IS NULL ORDER BY "order"`
	return s.list(ctx, query, entityType)
}

func (s *PostgresStatusStore) list(ctx context.Context, query string, args ...any) ([]Status, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	var out []Status
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		out = append(out, *status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

func (s *PostgresStatusStore) Update(ctx context.Context, status *Status) error {
	status.UpdatedAt = time.Now()
	query := `
		UPDATE statuses
		SET name = $2, code = $3, color = $4, entity_type = $5, "order" = $6,
		    is_initial = $7, is_final = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := querier(ctx, s.db).ExecContext(ctx, query,
		status.ID, status.Name, status.Code, status.Color, status.EntityType,
		status.Order, status.IsInitial, status.IsFinal, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStatusStore) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	result, err := querier(ctx, s.db).ExecContext(ctx,
		`UPDATE statuses SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, deletedAt)
	if err != nil {
		return fmt.Errorf("soft delete status: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatus(row rowScanner) (*Status, error) {
	var status Status
	var deletedAt sql.NullTime
	if err := row.Scan(
		&status.ID, &status.Name, &status.Code, &status.Color, &status.EntityType,
		&status.Order, &status.IsInitial, &status.IsFinal,
		&status.CreatedAt, &status.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		status.DeletedAt = &deletedAt.Time
	}
	return &status, nil
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

// PostgresTransitionStore persists transition rules in PostgreSQL. Guard
// sets and notification config are JSONB columns.
type PostgresTransitionStore struct {
	db *sql.DB
}

func NewPostgresTransitionStore(db *sql.DB) *PostgresTransitionStore {
	return &PostgresTransitionStore{db: db}
}

const transitionColumns = `id, from_status_id, to_status_id, required_roles, required_fields, require_comment, notification_config, color, created_at, updated_at, deleted_at`

func (s *PostgresTransitionStore) Create(ctx context.Context, transition *StatusTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	now := time.Now()
	transition.CreatedAt = now
	transition.UpdatedAt = now

	roles, fields, config, err := marshalTransitionJSON(transition)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO status_transitions
			(id, from_status_id, to_status_id, required_roles, required_fields, require_comment, notification_config, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = querier(ctx, s.db).ExecContext(ctx, query,
		transition.ID, transition.FromStatusID, transition.ToStatusID,
		roles, fields, transition.RequireComment, config, transition.Color,
		transition.CreatedAt, transition.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert status transition: %w", err)
	}
	return nil
}

func (s *PostgresTransitionStore) Get(ctx context.Context, id uuid.UUID) (*StatusTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM status_transitions WHERE id = $1 AND deleted_at IS NULL`
	transition, err := scanTransition(querier(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get status transition: %w", err)
	}
	return transition, nil
}

func (s *PostgresTransitionStore) GetBetween(ctx context.Context, fromStatusID, toStatusID uuid.UUID) (*StatusTransition, error) {
	query := `
		SELECT ` + transitionColumns + `
		FROM status_transitions
		WHERE from_status_id = $1 AND to_status_id = $2 AND deleted_at IS NULL
	`
	transition, err := scanTransition(querier(ctx, s.db).QueryRowContext(ctx, query, fromStatusID, toStatusID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get transition between statuses: %w", err)
	}
	return transition, nil
}

func (s *PostgresTransitionStore) ListFrom(ctx context.Context, fromStatusID uuid.UUID) ([]StatusTransition, error) {
	query := `
		SELECT ` + transitionColumns + `
		FROM status_transitions
		WHERE from_status_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`
	return s.list(ctx, query, fromStatusID)
}

func (s *PostgresTransitionStore) ListAll(ctx context.Context) ([]StatusTransition, error) {
	query := `SELECT ` + transitionColumns + ` FROM status_transitions WHERE deleted_at IS NULL ORDER BY created_at`
	return s.list(ctx, query)
}

func (s *PostgresTransitionStore) list(ctx context.Context, query string, args ...any) ([]StatusTransition, error) {
	rows, err := querier(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status transitions: %w", err)
	}
	defer rows.Close()

	var out []StatusTransition
	for rows.Next() {
		transition, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status transition: %w", err)
		}
		out = append(out, *transition)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status transitions: %w", err)
	}
	return out, nil
}

func (s *PostgresTransitionStore) Update(ctx context.Context, transition *StatusTransition) error {
	transition.UpdatedAt = time.Now()

	roles, fields, config, err := marshalTransitionJSON(transition)
	if err != nil {
		return err
	}

	query := `
		UPDATE status_transitions
		SET from_status_id = $2, to_status_id = $3, required_roles = $4, required_fields = $5,
		    require_comment = $6, notification_config = $7, color = $8, updated_at = $9
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := querier(ctx, s.db).ExecContext(ctx, query,
		transition.ID, transition.FromStatusID, transition.ToStatusID,
		roles, fields, transition.RequireComment, config, transition.Color,
		transition.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update status transition: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresTransitionStore) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	result, err := querier(ctx, s.db).ExecContext(ctx,
		`UPDATE status_transitions SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, deletedAt)
	if err != nil {
		return fmt.Errorf("soft delete status transition: %w", err)
	}
	return requireRow(result)
}

func marshalTransitionJSON(transition *StatusTransition) (roles, fields, config []byte, err error) {
	if roles, err = json.Marshal(transition.RequiredRoles); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal required roles: %w", err)
	}
	if fields, err = json.Marshal(transition.RequiredFields); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal required fields: %w", err)
	}
	if transition.NotificationConfig != nil {
		if config, err = json.Marshal(transition.NotificationConfig); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal notification config: %w", err)
		}
	}
	return roles, fields, config, nil
}

func scanTransition(row rowScanner) (*StatusTransition, error) {
	var transition StatusTransition
	var roles, fields, config []byte
	var deletedAt sql.NullTime
	if err := row.Scan(
		&transition.ID, &transition.FromStatusID, &transition.ToStatusID,
		&roles, &fields, &transition.RequireComment, &config, &transition.Color,
		&transition.CreatedAt, &transition.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &transition.RequiredRoles); err != nil {
			return nil, fmt.Errorf("unmarshal required roles: %w", err)
		}
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &transition.RequiredFields); err != nil {
			return nil, fmt.Errorf("unmarshal required fields: %w", err)
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &transition.NotificationConfig); err != nil {
			return nil, fmt.Errorf("unmarshal notification config: %w", err)
		}
	}
	if deletedAt.Valid {
		transition.DeletedAt = &deletedAt.Time
	}
	return &transition, nil
}
