package qualification

import (
	"time"

	"github.com/google/uuid"
)

// AuditorQualification tracks a certification held by an auditor. The
// nightly expiry job flips overdue ones into the expired workflow status.
type AuditorQualification struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	StatusID   uuid.UUID  `json:"status_id"`
	ExpiryDate time.Time  `json:"expiry_date"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
