package qualification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
	"github.com/bintocher/mgc-audits-backend/pkg/tx"
)

const qualificationColumns = `id, user_id, name, status_id, expiry_date, active, created_at, updated_at, deleted_at`

// PostgresStore persists auditor qualifications. Pure I/O; the expiry
// policy lives in the worker.
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

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, q *AuditorQualification) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	query := `
		INSERT INTO auditor_qualifications (id, user_id, name, status_id, expiry_date, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		q.ID, q.UserID, q.Name, q.StatusID, q.ExpiryDate, q.Active, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert qualification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*AuditorQualification, error) {
	query := `SELECT ` + qualificationColumns + ` FROM auditor_qualifications WHERE id = $1 AND deleted_at IS NULL`
	q, err := scanQualification(s.querier(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get qualification: %w", err)
	}
	return q, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*AuditorQualification, error) {
	query := `SELECT ` + qualificationColumns + `
		FROM auditor_qualifications
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`
	return s.list(ctx, query, userID)
}

func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time, excludeStatusID uuid.UUID) ([]*AuditorQualification, error) {
	query := `SELECT ` + qualificationColumns + `
		FROM auditor_qualifications
		WHERE active = TRUE
		  AND deleted_at IS NULL
		  AND expiry_date < $1
		  AND status_id <> $2
		ORDER BY expiry_date ASC`
	return s.list(ctx, query, cutoff, excludeStatusID)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, statusID uuid.UUID) error {
	query := `
		UPDATE auditor_qualifications
		SET status_id = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`
	res, err := s.querier(ctx).ExecContext(ctx, query, id, statusID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update qualification status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*AuditorQualification, error) {
	rows, err := s.querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list qualifications: %w", err)
	}
	defer rows.Close()

	var out []*AuditorQualification
	for rows.Next() {
		q, err := scanQualification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qualification: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQualification(row rowScanner) (*AuditorQualification, error) {
	var q AuditorQualification
	err := row.Scan(
		&q.ID, &q.UserID, &q.Name, &q.StatusID, &q.ExpiryDate,
		&q.Active, &q.CreatedAt, &q.UpdatedAt, &q.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
