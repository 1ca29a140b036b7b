package qualification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is a pure persistence boundary for auditor qualifications.
// ListExpired returns active, non-deleted qualifications whose expiry date
// is strictly before the cutoff and whose status differs from excludeStatusID,
// so qualifications already marked expired are not touched again.
type Store interface {
	Create(ctx context.Context, q *AuditorQualification) error
	Get(ctx context.Context, id uuid.UUID) (*AuditorQualification, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*AuditorQualification, error)
	ListExpired(ctx context.Context, cutoff time.Time, excludeStatusID uuid.UUID) ([]*AuditorQualification, error)
	SetStatus(ctx context.Context, id, statusID uuid.UUID) error
}
