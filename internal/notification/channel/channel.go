// Package channel holds the concrete delivery transports the queue
// workers drain into. A Sender is handed the already-loaded recipient so
// workers can fail fast on missing contact data without touching the wire.
package channel

import (
	"context"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
)

// Sender delivers one notification to one recipient over a single channel.
type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, user *identity.User, n *notification.Notification) error
}
