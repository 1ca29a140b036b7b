package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/platform/metrics"
	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// Service owns workflow business rules: guard evaluation for transitions and
// write-time invariants on the registry. Stores are pure I/O.
type Service struct {
	statuses    StatusStore
	transitions TransitionStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(statuses StatusStore, transitions TransitionStore, opts ...Option) (*Service, error) {
	if statuses == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if transitions == nil {
		return nil, fmt.Errorf("transition store is required")
	}
	svc := &Service{
		statuses:    statuses,
		transitions: transitions,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// -----------------------------------------------------------------------------
// Registry reads
// -----------------------------------------------------------------------------

func (s *Service) ListStatuses(ctx context.Context, entityType string) ([]Status, error) {
	if entityType == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "entity_type is required")
	}
	statuses, err := s.statuses.ListByEntityType(ctx, entityType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list statuses")
	}
	return statuses, nil
}

func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*Status, error) {
	status, err := s.statuses.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "status not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get status")
	}
	return status, nil
}

// GetInitialStatus returns the entity type's initial status. Absence is a
// valid outcome and surfaces as not-found, not as a fault.
func (s *Service) GetInitialStatus(ctx context.Context, entityType string) (*Status, error) {
	status, err := s.statuses.GetInitial(ctx, entityType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no initial status configured for entity type")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get initial status")
	}
	return status, nil
}

func (s *Service) GetFinalStatuses(ctx context.Context, entityType string) ([]Status, error) {
	statuses, err := s.statuses.ListFinal(ctx, entityType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list final statuses")
	}
	return statuses, nil
}

func (s *Service) GetTransition(ctx context.Context, id uuid.UUID) (*StatusTransition, error) {
	transition, err := s.transitions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "transition not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get transition")
	}
	return transition, nil
}

func (s *Service) ListTransitions(ctx context.Context) ([]StatusTransition, error) {
	transitions, err := s.transitions.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transitions")
	}
	return transitions, nil
}

// -----------------------------------------------------------------------------
// Registry writes (administrator-managed)
// -----------------------------------------------------------------------------

// CreateStatus persists a new status. At most one live status per entity type
// may be initial.
func (s *Service) CreateStatus(ctx context.Context, status *Status) error {
	if status.Name == "" || status.Code == "" || status.EntityType == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name, code and entity_type are required")
	}
	if status.IsInitial {
		if err := s.ensureNoOtherInitial(ctx, status.EntityType, uuid.Nil); err != nil {
			return err
		}
	}
	if err := s.statuses.Create(ctx, status); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create status")
	}
	return nil
}

func (s *Service) UpdateStatus(ctx context.Context, status *Status) error {
	if status.IsInitial {
		if err := s.ensureNoOtherInitial(ctx, status.EntityType, status.ID); err != nil {
			return err
		}
	}
	if err := s.statuses.Update(ctx, status); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "status not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update status")
	}
	return nil
}

func (s *Service) DeleteStatus(ctx context.Context, id uuid.UUID) error {
	if err := s.statuses.SoftDelete(ctx, id, time.Now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "status not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete status")
	}
	return nil
}

func (s *Service) ensureNoOtherInitial(ctx context.Context, entityType string, selfID uuid.UUID) error {
	existing, err := s.statuses.GetInitial(ctx, entityType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check initial status")
	}
	if existing.ID != selfID {
		return dErrors.Newf(dErrors.CodeConflict, "entity type %q already has an initial status", entityType)
	}
	return nil
}

// CreateTransition persists a new transition rule. Both endpoints must be
// live statuses of the same entity type; self-loops are rejected because the
// validator rejects them unconditionally anyway.
func (s *Service) CreateTransition(ctx context.Context, transition *StatusTransition) error {
	if err := s.checkTransitionEndpoints(ctx, transition); err != nil {
		return err
	}
	if existing, err := s.transitions.GetBetween(ctx, transition.FromStatusID, transition.ToStatusID); err == nil && existing != nil {
		return dErrors.New(dErrors.CodeConflict, "a transition between these statuses already exists")
	} else if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing transition")
	}
	if err := s.transitions.Create(ctx, transition); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create transition")
	}
	return nil
}

func (s *Service) UpdateTransition(ctx context.Context, transition *StatusTransition) error {
	if err := s.checkTransitionEndpoints(ctx, transition); err != nil {
		return err
	}
	if err := s.transitions.Update(ctx, transition); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "transition not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update transition")
	}
	return nil
}

func (s *Service) DeleteTransition(ctx context.Context, id uuid.UUID) error {
	if err := s.transitions.SoftDelete(ctx, id, time.Now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "transition not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete transition")
	}
	return nil
}

func (s *Service) checkTransitionEndpoints(ctx context.Context, transition *StatusTransition) error {
	if transition.FromStatusID == transition.ToStatusID {
		return dErrors.New(dErrors.CodeValidation, "a transition cannot point to its own source status")
	}
	from, err := s.statuses.Get(ctx, transition.FromStatusID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeValidation, "from_status does not exist")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load from_status")
	}
	to, err := s.statuses.Get(ctx, transition.ToStatusID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeValidation, "to_status does not exist")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load to_status")
	}
	if from.EntityType != to.EntityType {
		return dErrors.New(dErrors.CodeValidation, "transition endpoints must belong to the same entity type")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Transition validation
// -----------------------------------------------------------------------------

// ValidateTransition decides whether the actor may move an entity from one
// status to another. Guards run in a fixed order (identity, existence, role,
// fields, comment) so error messages are deterministic. On success the
// matched transition is returned; callers drive post-transition side effects
// from its NotificationConfig and persist the entity's new status themselves.
func (s *Service) ValidateTransition(
	ctx context.Context,
	fromStatusID, toStatusID uuid.UUID,
	actor Actor,
	entityData map[string]any,
	comment string,
) (*StatusTransition, error) {
	transition, err := s.validateTransition(ctx, fromStatusID, toStatusID, actor, entityData, comment)
	if s.metrics != nil {
		outcome := "accepted"
		if err != nil {
			outcome = "rejected"
		}
		s.metrics.TransitionsValidated.WithLabelValues(outcome).Inc()
	}
	return transition, err
}

func (s *Service) validateTransition(
	ctx context.Context,
	fromStatusID, toStatusID uuid.UUID,
	actor Actor,
	entityData map[string]any,
	comment string,
) (*StatusTransition, error) {
	// A no-op transition is not a transition.
	if fromStatusID == toStatusID {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot transition to the same status")
	}

	transition, err := s.transitions.GetBetween(ctx, fromStatusID, toStatusID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"transition from status %s to %s is not allowed", fromStatusID, toStatusID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up transition")
	}

	// Superuser bypasses the role guard entirely.
	if !actor.IsSuperuser && len(transition.RequiredRoles) > 0 {
		if !actor.HoldsAnyRole(transition.RequiredRoles) {
			return nil, dErrors.New(dErrors.CodeForbidden,
				"you do not have the required roles to perform this transition")
		}
	}

	// Field guard runs only when entity data was supplied, so callers that
	// have not loaded full entity state can still do coarse-grained checks.
	if entityData != nil && len(transition.RequiredFields) > 0 {
		var missing []string
		for _, field := range transition.RequiredFields {
			if isEmptyField(entityData, field) {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return nil, dErrors.Newf(dErrors.CodeValidation,
				"required fields are missing: %s", strings.Join(missing, ", ")).WithFields(missing)
		}
	}

	if transition.RequireComment && strings.TrimSpace(comment) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comment is required for this transition")
	}

	return transition, nil
}

func isEmptyField(entityData map[string]any, field string) bool {
	value, ok := entityData[field]
	if !ok || value == nil {
		return true
	}
	if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
		return true
	}
	return false
}

// ListAllowedTransitions returns the live transitions out of the given status
// that pass the role guard for the actor. Field and comment guards cannot be
// evaluated without entity data, so they are not.
func (s *Service) ListAllowedTransitions(ctx context.Context, fromStatusID uuid.UUID, actor Actor) ([]StatusTransition, error) {
	transitions, err := s.transitions.ListFrom(ctx, fromStatusID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transitions")
	}

	if actor.IsSuperuser {
		return transitions, nil
	}

	allowed := make([]StatusTransition, 0, len(transitions))
	for _, transition := range transitions {
		if actor.HoldsAnyRole(transition.RequiredRoles) {
			allowed = append(allowed, transition)
		}
	}
	return allowed, nil
}
