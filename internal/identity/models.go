// Package identity is the narrow user-directory contract the core consumes:
// who a recipient is, which channels they accept, and which roles an acting
// user holds. Account management itself lives outside this service.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is the recipient/actor view the notification pipeline and the
// transition validator need. Channel opt-outs are honored at enqueue time.
type User struct {
	ID             uuid.UUID
	Username       string
	Email          string
	IsSuperuser    bool
	IsStaff        bool
	TelegramChatID *string
	NotifyEmail    bool
	NotifyTelegram bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}
