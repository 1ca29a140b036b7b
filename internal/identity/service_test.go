package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
)

// =============================================================================
// Identity Service Test Suite
// =============================================================================

type IdentityServiceSuite struct {
	suite.Suite
	store   *InMemoryStore
	links   *InMemoryLinkStore
	service *Service

	user uuid.UUID
}

func TestIdentityServiceSuite(t *testing.T) {
	suite.Run(t, new(IdentityServiceSuite))
}

func (s *IdentityServiceSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.links = NewInMemoryLinkStore(10 * time.Minute)

	s.user = uuid.New()
	s.store.Put(User{ID: s.user, Username: "auditor1", Email: "auditor1@example.com"})
	s.store.PutRoles(s.user, []string{"auditor", "lead_auditor"})

	var err error
	s.service, err = New(s.store, s.links, nil)
	s.Require().NoError(err)
}

func (s *IdentityServiceSuite) TestActorFor() {
	ctx := context.Background()

	s.Run("collapses roles into a flat actor", func() {
		actor, err := s.service.ActorFor(ctx, s.user)
		s.Require().NoError(err)
		s.Equal(s.user, actor.ID)
		s.False(actor.IsSuperuser)
		s.ElementsMatch([]string{"auditor", "lead_auditor"}, actor.RoleIDs)
	})

	s.Run("unknown user is not found", func() {
		_, err := s.service.ActorFor(ctx, uuid.New())
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *IdentityServiceSuite) TestTelegramLinkFlow() {
	ctx := context.Background()

	code, err := s.service.IssueLinkCode(ctx, s.user)
	s.Require().NoError(err)
	s.NotEmpty(code)

	s.Run("valid code binds the chat", func() {
		s.Require().NoError(s.service.LinkTelegram(ctx, code, "12345"))

		user, err := s.store.Get(ctx, s.user)
		s.Require().NoError(err)
		s.Require().NotNil(user.TelegramChatID)
		s.Equal("12345", *user.TelegramChatID)
	})

	s.Run("codes are single use", func() {
		err := s.service.LinkTelegram(ctx, code, "67890")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("garbage code is rejected", func() {
		err := s.service.LinkTelegram(ctx, "nope", "12345")
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("empty inputs are rejected", func() {
		err := s.service.LinkTelegram(ctx, "", "")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})
}

func (s *IdentityServiceSuite) TestIssueLinkCodeWithoutRedis() {
	svc, err := New(s.store, nil, nil)
	s.Require().NoError(err)

	_, err = svc.IssueLinkCode(context.Background(), s.user)
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

func (s *IdentityServiceSuite) TestExpiredCode() {
	ctx := context.Background()
	links := NewInMemoryLinkStore(-time.Second) // everything is born expired

	svc, err := New(s.store, links, nil)
	s.Require().NoError(err)

	code, err := svc.IssueLinkCode(ctx, s.user)
	s.Require().NoError(err)

	err = svc.LinkTelegram(ctx, code, "12345")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}
