package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusStore persists the status registry. All reads exclude soft-deleted
// rows; lookups that find nothing return sentinel.ErrNotFound.
type StatusStore interface {
	Create(ctx context.Context, status *Status) error
	Get(ctx context.Context, id uuid.UUID) (*Status, error)
	GetByCode(ctx context.Context, entityType, code string) (*Status, error)
	ListByEntityType(ctx context.Context, entityType string) ([]Status, error)
	GetInitial(ctx context.Context, entityType string) (*Status, error)
	ListFinal(ctx context.Context, entityType string) ([]Status, error)
	Update(ctx context.Context, status *Status) error
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error
}

// TransitionStore persists transition rules. Soft-deleted rows are invisible
// to every read, which makes a deleted transition behave exactly like one
// that never existed.
type TransitionStore interface {
	Create(ctx context.Context, transition *StatusTransition) error
	Get(ctx context.Context, id uuid.UUID) (*StatusTransition, error)
	GetBetween(ctx context.Context, fromStatusID, toStatusID uuid.UUID) (*StatusTransition, error)
	ListFrom(ctx context.Context, fromStatusID uuid.UUID) ([]StatusTransition, error)
	ListAll(ctx context.Context) ([]StatusTransition, error)
	Update(ctx context.Context, transition *StatusTransition) error
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error
}
