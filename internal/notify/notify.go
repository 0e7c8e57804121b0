// Package notify holds what the SMS and voicemail notifications share: the
// caller number rendering, the footer links and the envelope addressing.
package notify

import (
	"context"
	"log/slog"

	"github.com/splay/phonemail/internal/address"
	"github.com/splay/phonemail/internal/credential"
	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/dialer"
	"github.com/splay/phonemail/internal/email"
	"github.com/splay/phonemail/internal/twilio"
)

// NumberFormatter renders a number in national format using the account of
// the given credentials.
type NumberFormatter interface {
	LookupNationalFormat(ctx context.Context, creds twilio.Credentials, number string) (string, error)
}

// Config holds the addresses and links notifications are built with.
type Config struct {
	Gateway          address.Gateway
	DialerWebhookURL string // absolute URL of the dialer webhook
	LoginURL         string
}

// Composer builds notification envelopes.
type Composer struct {
	cfg       Config
	formatter NumberFormatter
	logger    *slog.Logger
}

// NewComposer creates a Composer. formatter may be nil, in which case
// numbers are never reformatted.
func NewComposer(cfg Config, formatter NumberFormatter, logger *slog.Logger) *Composer {
	return &Composer{
		cfg:       cfg,
		formatter: formatter,
		logger:    logger.With("component", "notify"),
	}
}

// Credentials returns the telephony credentials held by u.
func Credentials(u *models.User) twilio.Credentials {
	if u == nil {
		return twilio.Credentials{}
	}
	return twilio.Credentials{AccountSID: u.AccountSID, AuthToken: u.AuthToken}
}

// FormatNumber returns the national format of number when the user holds a
// credential to look it up with. Any failure yields number unchanged.
func (c *Composer) FormatNumber(ctx context.Context, u *models.User, number string) string {
	if c.formatter == nil || number == "" || !credential.HasCredential(u) {
		return number
	}
	formatted, err := c.formatter.LookupNationalFormat(ctx, Credentials(u), number)
	if err != nil {
		c.logger.Warn("failed to look up phone number", "number", number, "error", err)
		return number
	}
	if formatted == "" {
		return number
	}
	return formatted
}

// Footer returns the footer links for a conversation between the gateway
// number local and the remote party.
func (c *Composer) Footer(u *models.User, local, remote string) email.Footer {
	return email.Footer{
		HasAuth:   credential.HasCredential(u),
		DialerURL: dialer.ReturnCallURL(c.cfg.DialerWebhookURL, u.Email, local, remote),
		LoginURL:  c.cfg.LoginURL,
	}
}

// Envelope addresses a notification to u about a message or call from
// remote to the gateway number local. Replies route back to the
// conversation only when the user holds a credential.
func (c *Composer) Envelope(u *models.User, formatted, local, remote, subject string) *email.Notification {
	n := &email.Notification{
		From:    c.cfg.Gateway.String(),
		To:      u.Email,
		ReplyTo: address.NoReplyAddress,
		Subject: subject,
	}
	if remote != "" {
		n.FromName = formatted
		if n.FromName == "" {
			n.FromName = remote
		}
	}
	if credential.HasCredential(u) {
		n.ReplyTo = address.Encode(local, remote, c.cfg.Gateway)
	}
	return n
}
