package identity

import (
	"context"

	"github.com/google/uuid"
)

// Store reads users and their role assignments. RoleIDs collapses
// scope-qualified assignments to the flat set of role identifiers; the
// validator never sees assignment scope.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	RoleIDs(ctx context.Context, userID uuid.UUID) ([]string, error)
	SetTelegramChatID(ctx context.Context, userID uuid.UUID, chatID string) error
}

// LinkStore holds short-lived Telegram account-link codes. A code maps to
// the user who requested it and disappears after its TTL or first use.
type LinkStore interface {
	SaveCode(ctx context.Context, code string, userID uuid.UUID) error
	ConsumeCode(ctx context.Context, code string) (uuid.UUID, error)
}
