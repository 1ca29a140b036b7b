package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/internal/workflow"
	dErrors "github.com/bintocher/mgc-audits-backend/pkg/domainerrors"
	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// Service resolves acting users for the validator and runs the Telegram
// account-link handshake's server side.
type Service struct {
	store  Store
	links  LinkStore
	logger *slog.Logger
}

func New(store Store, links LinkStore, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, links: links, logger: logger}, nil
}

// ActorFor loads the user and collapses their role assignments into the flat
// actor the transition validator consumes.
func (s *Service) ActorFor(ctx context.Context, userID uuid.UUID) (workflow.Actor, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return workflow.Actor{}, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return workflow.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	roleIDs, err := s.store.RoleIDs(ctx, userID)
	if err != nil {
		return workflow.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user roles")
	}

	return workflow.Actor{
		ID:          user.ID,
		IsSuperuser: user.IsSuperuser,
		RoleIDs:     roleIDs,
	}, nil
}

// IssueLinkCode creates a short-lived code the user hands to the Telegram
// bot to bind their chat id.
func (s *Service) IssueLinkCode(ctx context.Context, userID uuid.UUID) (string, error) {
	if s.links == nil {
		return "", dErrors.New(dErrors.CodeInternal, "telegram linking is not configured")
	}
	if _, err := s.store.Get(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate link code")
	}
	code := hex.EncodeToString(buf)

	if err := s.links.SaveCode(ctx, code, userID); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to save link code")
	}
	return code, nil
}

// LinkTelegram consumes a link code and binds the chat id to its user.
func (s *Service) LinkTelegram(ctx context.Context, code, chatID string) error {
	if s.links == nil {
		return dErrors.New(dErrors.CodeInternal, "telegram linking is not configured")
	}
	if code == "" || chatID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "code and chat_id are required")
	}

	userID, err := s.links.ConsumeCode(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "link code is invalid or expired")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume link code")
	}

	if err := s.store.SetTelegramChatID(ctx, userID, chatID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind telegram chat")
	}

	s.logger.InfoContext(ctx, "telegram account linked", "user_id", userID)
	return nil
}
