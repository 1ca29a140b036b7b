// Package workflow implements the configurable status machine: the status
// registry, administrator-managed transition rules, and the guard evaluation
// that gates entity status changes.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Well-known entity types. The set is open: administrators may register
// statuses for new entity types without code changes.
const (
	EntityTypeAudit         = "audit"
	EntityTypeFinding       = "finding"
	EntityTypeAuditPlan     = "audit_plan"
	EntityTypeQualification = "auditor_qualification"
)

// StatusCodeExpired is the code the qualification-expiry job resolves against
// the registry. The job fails its whole run when no such status exists.
const StatusCodeExpired = "expired"

// Status is one node in an entity type's status sequence. Order defines the
// display and logical sequence; at most one live status per entity type may
// be initial.
type Status struct {
	ID         uuid.UUID
	Name       string
	Code       string
	Color      string
	EntityType string
	Order      int
	IsInitial  bool
	IsFinal    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// StatusTransition is a directed edge between two statuses with its guards.
// RequiredRoles and RequiredFields are stored as JSON arrays; an empty set
// means the guard does not apply. A soft-deleted transition is treated as
// non-existent by the validator.
type StatusTransition struct {
	ID                 uuid.UUID
	FromStatusID       uuid.UUID
	ToStatusID         uuid.UUID
	RequiredRoles      []string
	RequiredFields     []string
	RequireComment     bool
	NotificationConfig map[string]any
	Color              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// Actor is the acting user as the validator sees it: a superuser flag and the
// flat set of role IDs the user holds across all assignments. Assignment
// scoping (enterprise/division/location) is collapsed before it reaches here.
type Actor struct {
	ID          uuid.UUID
	IsSuperuser bool
	RoleIDs     []string
}

// HoldsAnyRole reports whether the actor holds at least one of the required
// role IDs.
func (a Actor) HoldsAnyRole(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(a.RoleIDs))
	for _, r := range a.RoleIDs {
		held[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}
