package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

// EmailOptions parameterise the SMTP channel.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailNotifier delivers digests over SMTP to the entity's recipient.
type EmailNotifier struct {
	opts   EmailOptions
	send   sendFunc
	logger zerolog.Logger
}

// sendFunc matches smtp.SendMail; swapped out in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NewEmailNotifier constructs an SMTP channel.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &EmailNotifier{
		opts:   opts,
		send:   smtp.SendMail,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify sends the rendered digest to the digest's recipient address.
func (n *EmailNotifier) Notify(ctx context.Context, digest Digest) error {
	if digest.Recipient == "" {
		return fmt.Errorf("digest has no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Surplus watcher: %d change(s) for %s", len(digest.Events), digest.EntityName)

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", n.opts.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", digest.Recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(RenderDigest(digest))

	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	if err := n.send(addr, auth, n.opts.From, []string{digest.Recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info().Str("entity", digest.EntityName).
		Str("recipient", digest.Recipient).
		Int("events", len(digest.Events)).
		Msg("digest sent (email)")
	return nil
}

var _ Notifier = (*EmailNotifier)(nil)
