package workflow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
)

// =============================================================================
// Workflow Service Test Suite
// =============================================================================
// Justification for unit tests: guard ordering, role bypass and field checks
// are precise behavioral contracts that are awkward to pin down through HTTP
// tests, which would also need a full registry fixture per case.

type WorkflowServiceSuite struct {
	suite.Suite
	statuses    *InMemoryStatusStore
	transitions *InMemoryTransitionStore
	service     *Service

	draft    *Status
	review   *Status
	approved *Status
}

func TestWorkflowServiceSuite(t *testing.T) {
	suite.Run(t, new(WorkflowServiceSuite))
}

func (s *WorkflowServiceSuite) SetupTest() {
	s.statuses = NewInMemoryStatusStore()
	s.transitions = NewInMemoryTransitionStore()

	var err error
	s.service, err = New(s.statuses, s.transitions)
	s.Require().NoError(err)

	ctx := context.Background()
	s.draft = s.mustCreateStatus(ctx, &Status{
		Name: "Draft", Code: "draft", EntityType: EntityTypeAudit, Order: 1, IsInitial: true,
	})
	s.review = s.mustCreateStatus(ctx, &Status{
		Name: "In Review", Code: "in_review", EntityType: EntityTypeAudit, Order: 2,
	})
	s.approved = s.mustCreateStatus(ctx, &Status{
		Name: "Approved", Code: "approved", EntityType: EntityTypeAudit, Order: 3, IsFinal: true,
	})
}

func (s *WorkflowServiceSuite) mustCreateStatus(ctx context.Context, status *Status) *Status {
	s.Require().NoError(s.service.CreateStatus(ctx, status))
	return status
}

func (s *WorkflowServiceSuite) mustCreateTransition(ctx context.Context, t *StatusTransition) *StatusTransition {
	s.Require().NoError(s.service.CreateTransition(ctx, t))
	return t
}

// =============================================================================
// Registry Tests
// =============================================================================

func (s *WorkflowServiceSuite) TestCreateStatus() {
	ctx := context.Background()

	s.Run("missing fields are rejected", func() {
		err := s.service.CreateStatus(ctx, &Status{Name: "Nameless"})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("second initial status for the same entity type conflicts", func() {
		err := s.service.CreateStatus(ctx, &Status{
			Name: "Also Initial", Code: "also_initial", EntityType: EntityTypeAudit, IsInitial: true,
		})
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("initial status for another entity type is fine", func() {
		err := s.service.CreateStatus(ctx, &Status{
			Name: "Open", Code: "open", EntityType: EntityTypeFinding, IsInitial: true,
		})
		s.NoError(err)
	})
}

func (s *WorkflowServiceSuite) TestGetInitialStatus() {
	ctx := context.Background()

	s.Run("returns the initial status", func() {
		status, err := s.service.GetInitialStatus(ctx, EntityTypeAudit)
		s.NoError(err)
		s.Equal(s.draft.ID, status.ID)
	})

	s.Run("entity type without one returns not found", func() {
		_, err := s.service.GetInitialStatus(ctx, EntityTypeAuditPlan)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *WorkflowServiceSuite) TestCreateTransition() {
	ctx := context.Background()

	s.Run("self-loop is rejected", func() {
		err := s.service.CreateTransition(ctx, &StatusTransition{
			FromStatusID: s.draft.ID, ToStatusID: s.draft.ID,
		})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("dangling endpoint is rejected", func() {
		err := s.service.CreateTransition(ctx, &StatusTransition{
			FromStatusID: s.draft.ID, ToStatusID: uuid.New(),
		})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("cross entity type endpoints are rejected", func() {
		open := s.mustCreateStatus(ctx, &Status{
			Name: "Open", Code: "open", EntityType: EntityTypeFinding,
		})
		err := s.service.CreateTransition(ctx, &StatusTransition{
			FromStatusID: s.draft.ID, ToStatusID: open.ID,
		})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("duplicate pair conflicts", func() {
		s.mustCreateTransition(ctx, &StatusTransition{
			FromStatusID: s.draft.ID, ToStatusID: s.review.ID,
		})
		err := s.service.CreateTransition(ctx, &StatusTransition{
			FromStatusID: s.draft.ID, ToStatusID: s.review.ID,
		})
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Validation Tests
// =============================================================================

func (s *WorkflowServiceSuite) TestValidateTransition() {
	ctx := context.Background()
	actor := Actor{ID: uuid.New()}

	s.Run("same status is rejected before anything else", func() {
		_, err := s.service.ValidateTransition(ctx, s.draft.ID, s.draft.ID, actor, nil, "")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "same status")
	})

	s.Run("missing transition is rejected", func() {
		_, err := s.service.ValidateTransition(ctx, s.review.ID, s.draft.ID, actor, nil, "")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "not allowed")
	})

	s.Run("deleted transition behaves like a missing one", func() {
		t := s.mustCreateTransition(ctx, &StatusTransition{
			FromStatusID: s.review.ID, ToStatusID: s.approved.ID,
		})
		_, err := s.service.ValidateTransition(ctx, s.review.ID, s.approved.ID, actor, nil, "")
		s.NoError(err)

		s.Require().NoError(s.service.DeleteTransition(ctx, t.ID))
		_, err = s.service.ValidateTransition(ctx, s.review.ID, s.approved.ID, actor, nil, "")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "not allowed")
	})

	s.Run("role guard", func() {
		s.mustCreateTransition(ctx, &StatusTransition{
			FromStatusID:  s.draft.ID,
			ToStatusID:    s.review.ID,
			RequiredRoles: []string{"lead_auditor", "quality_manager"},
		})

		_, err := s.service.ValidateTransition(ctx, s.draft.ID, s.review.ID, actor, nil, "")
		s.True(dErrors.Is(err, dErrors.CodeForbidden))

		holder := Actor{ID: uuid.New(), RoleIDs: []string{"quality_manager"}}
		_, err = s.service.ValidateTransition(ctx, s.draft.ID, s.review.ID, holder, nil, "")
		s.NoError(err)

		super := Actor{ID: uuid.New(), IsSuperuser: true}
		_, err = s.service.ValidateTransition(ctx, s.draft.ID, s.review.ID, super, nil, "")
		s.NoError(err)
	})

	s.Run("field guard names every missing field", func() {
		s.mustCreateTransition(ctx, &StatusTransition{
			FromStatusID:   s.review.ID,
			ToStatusID:     s.draft.ID,
			RequiredFields: []string{"deadline", "responsible_id", "summary"},
		})

		entityData := map[string]any{
			"deadline":       "2026-09-15",
			"responsible_id": nil,
			"summary":        "   ",
		}
		_, err := s.service.ValidateTransition(ctx, s.review.ID, s.draft.ID, actor, entityData, "")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "responsible_id")
		s.Contains(err.Error(), "summary")
		s.NotContains(err.Error(), "deadline,")

		var domainErr *dErrors.Error
		s.Require().ErrorAs(err, &domainErr)
		s.ElementsMatch([]string{"responsible_id", "summary"}, domainErr.Fields)
	})

	s.Run("field guard is skipped without entity data", func() {
		_, err := s.service.ValidateTransition(ctx, s.review.ID, s.draft.ID, actor, nil, "")
		s.NoError(err)
	})

	s.Run("comment guard", func() {
		s.mustCreateTransition(ctx, &StatusTransition{
			FromStatusID:   s.approved.ID,
			ToStatusID:     s.review.ID,
			RequireComment: true,
		})

		_, err := s.service.ValidateTransition(ctx, s.approved.ID, s.review.ID, actor, nil, "   ")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "comment is required")

		transition, err := s.service.ValidateTransition(ctx, s.approved.ID, s.review.ID, actor, nil, "reopening for rework")
		s.NoError(err)
		s.Equal(s.approved.ID, transition.FromStatusID)
	})
}

// TestValidateTransitionFullChain walks an audit through its whole sequence
// with one actor, checking each hop independently.
func (s *WorkflowServiceSuite) TestValidateTransitionFullChain() {
	ctx := context.Background()
	auditor := Actor{ID: uuid.New(), RoleIDs: []string{"auditor"}}

	s.mustCreateTransition(ctx, &StatusTransition{
		FromStatusID: s.draft.ID, ToStatusID: s.review.ID, RequiredRoles: []string{"auditor"},
	})
	s.mustCreateTransition(ctx, &StatusTransition{
		FromStatusID: s.review.ID, ToStatusID: s.approved.ID,
		RequiredRoles:  []string{"quality_manager"},
		RequireComment: true,
	})

	_, err := s.service.ValidateTransition(ctx, s.draft.ID, s.review.ID, auditor, nil, "")
	s.NoError(err)

	// The auditor cannot approve, the manager can once a comment is given.
	_, err = s.service.ValidateTransition(ctx, s.review.ID, s.approved.ID, auditor, nil, "done")
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	manager := Actor{ID: uuid.New(), RoleIDs: []string{"quality_manager"}}
	_, err = s.service.ValidateTransition(ctx, s.review.ID, s.approved.ID, manager, nil, "")
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	_, err = s.service.ValidateTransition(ctx, s.review.ID, s.approved.ID, manager, nil, "approved after review")
	s.NoError(err)
}

func (s *WorkflowServiceSuite) TestListAllowedTransitions() {
	ctx := context.Background()

	s.mustCreateTransition(ctx, &StatusTransition{
		FromStatusID: s.draft.ID, ToStatusID: s.review.ID, RequiredRoles: []string{"auditor"},
	})
	s.mustCreateTransition(ctx, &StatusTransition{
		FromStatusID: s.draft.ID, ToStatusID: s.approved.ID, RequiredRoles: []string{"quality_manager"},
	})

	s.Run("actor sees only role-permitted edges", func() {
		auditor := Actor{ID: uuid.New(), RoleIDs: []string{"auditor"}}
		allowed, err := s.service.ListAllowedTransitions(ctx, s.draft.ID, auditor)
		s.NoError(err)
		s.Require().Len(allowed, 1)
		s.Equal(s.review.ID, allowed[0].ToStatusID)
	})

	s.Run("superuser sees everything", func() {
		super := Actor{ID: uuid.New(), IsSuperuser: true}
		allowed, err := s.service.ListAllowedTransitions(ctx, s.draft.ID, super)
		s.NoError(err)
		s.Len(allowed, 2)
	})

	s.Run("roleless actor sees nothing", func() {
		nobody := Actor{ID: uuid.New()}
		allowed, err := s.service.ListAllowedTransitions(ctx, s.draft.ID, nobody)
		s.NoError(err)
		s.Empty(allowed)
	})
}

func (s *WorkflowServiceSuite) TestUpdateStatusInitialSwap() {
	ctx := context.Background()

	s.Run("promoting a second status to initial conflicts", func() {
		s.review.IsInitial = true
		err := s.service.UpdateStatus(ctx, s.review)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
		s.review.IsInitial = false
	})

	s.Run("re-saving the current initial status is fine", func() {
		s.draft.Name = "Draft v2"
		s.NoError(s.service.UpdateStatus(ctx, s.draft))
	})
}

func (s *WorkflowServiceSuite) TestDeleteStatusHidesIt() {
	ctx := context.Background()

	s.Require().NoError(s.service.DeleteStatus(ctx, s.approved.ID))

	_, err := s.service.GetStatus(ctx, s.approved.ID)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	statuses, err := s.service.ListStatuses(ctx, EntityTypeAudit)
	s.NoError(err)
	s.Len(statuses, 2)
}

func (s *WorkflowServiceSuite) TestHoldsAnyRole() {
	actor := Actor{RoleIDs: []string{"auditor", "lead_auditor"}}
	s.True(actor.HoldsAnyRole(nil))
	s.True(actor.HoldsAnyRole([]string{"lead_auditor"}))
	s.False(actor.HoldsAnyRole([]string{"quality_manager"}))
}

func (s *WorkflowServiceSuite) TestNew() {
	s.Run("nil stores return an error", func() {
		_, err := New(nil, nil)
		s.Error(err)
	})
}
