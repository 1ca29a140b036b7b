package channel

import (
	"context"
	"fmt"

	gomail "gopkg.in/mail.v2"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/platform/config"
)

// EmailSender delivers notifications over SMTP. A sender built from an
// empty SMTPConfig stays constructible but reports every send as a
// configuration failure, which the worker records on the queue item.
type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Channel() notification.Channel {
	return notification.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, user *identity.User, n *notification.Notification) error {
	if s.cfg.Host == "" {
		return fmt.Errorf("smtp is not configured")
	}
	if user == nil || user.Email == "" {
		return fmt.Errorf("user has no email address")
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", n.Title)
	msg.SetBody("text/plain", n.Message)

	dialer := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)

	// DialAndSend has no context hook. Run it in a goroutine so the
	// worker's per-send timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}
}
