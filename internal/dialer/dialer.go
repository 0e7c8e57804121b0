// Package dialer decides whether a "return call" link opens the browser
// softphone or the device's native dialer, and builds the redirect.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mssola/user_agent"

	"github.com/splay/phonemail/internal/credential"
	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/twilio"
)

// Path is the way a call is placed.
type Path int

const (
	NativeDial Path = iota
	Softphone
)

func (p Path) String() string {
	if p == Softphone {
		return "softphone"
	}
	return "native"
}

// Browser families with working WebRTC calling, and OS families treated as
// mobile. Matching is by substring.
var (
	softphoneBrowsers = []string{"Chrome", "Firefox", "Edge"}
	mobileOSes        = []string{"Android", "iOS"}
)

// ErrNoDestination is returned when the dialer request has no number to call.
var ErrNoDestination = errors.New("dialer: destination number is required")

// Signals are the client properties the path decision depends on.
type Signals struct {
	Browser string // browser family, e.g. "Chrome"
	OS      string // OS family, e.g. "Android"
}

// SignalsFromUserAgent derives Signals from a User-Agent header.
func SignalsFromUserAgent(header string) Signals {
	ua := user_agent.New(header)
	browser, _ := ua.Browser()
	return Signals{Browser: browser, OS: osFamily(ua)}
}

// osFamily folds the iOS device platforms into "iOS" since their OS string
// reads "CPU iPhone OS ..." or "CPU OS ...".
func osFamily(ua *user_agent.UserAgent) string {
	switch platform := ua.Platform(); {
	case strings.HasPrefix(platform, "iPhone"), strings.HasPrefix(platform, "iPad"), strings.HasPrefix(platform, "iPod"):
		return "iOS"
	}
	if os := ua.OS(); os != "" {
		return os
	}
	return ua.Platform()
}

// ChoosePath returns Softphone only when the user holds a credential, the
// browser is in the softphone list and the OS is not a mobile one.
func ChoosePath(u *models.User, s Signals) Path {
	if credential.HasCredential(u) && containsAny(s.Browser, softphoneBrowsers) && !containsAny(s.OS, mobileOSes) {
		return Softphone
	}
	return NativeDial
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ReturnCallURL is the link placed in notifications. It points at the dialer
// webhook, which redirects to whichever path fits the clicking device.
func ReturnCallURL(dialerWebhookURL, email, from, to string) string {
	q := url.Values{
		"email": {email},
		"from":  {from},
		"to":    {to},
	}
	return dialerWebhookURL + "?" + q.Encode()
}

// UserResolver looks up or creates the user the dialer link belongs to.
type UserResolver interface {
	GetOrCreate(ctx context.Context, email, incomingAccountSID string) (*models.User, error)
}

// Config holds the softphone settings.
type Config struct {
	SoftphoneURL string        // static dialer page
	AppSID       string        // outbound application tokens are scoped to
	TokenTTL     time.Duration // capability token lifetime
}

// Request is one click on a return call link.
type Request struct {
	Email     string
	From      string // gateway number the call is placed from
	To        string // number to call
	UserAgent string
}

// Issuer resolves the user, chooses the path and mints capability tokens.
type Issuer struct {
	cfg    Config
	users  UserResolver
	logger *slog.Logger
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(cfg Config, users UserResolver, logger *slog.Logger) *Issuer {
	return &Issuer{
		cfg:    cfg,
		users:  users,
		logger: logger.With("component", "dialer"),
		now:    time.Now,
	}
}

// Redirect returns the URL the client should be sent to. The softphone
// URL carries the token in its fragment so it never reaches access logs.
func (i *Issuer) Redirect(ctx context.Context, req Request) (string, error) {
	if req.To == "" {
		return "", ErrNoDestination
	}

	user, err := i.users.GetOrCreate(ctx, req.Email, "")
	if err != nil {
		return "", fmt.Errorf("resolving dialer user: %w", err)
	}

	signals := SignalsFromUserAgent(req.UserAgent)
	path := ChoosePath(user, signals)
	i.logger.Debug("dialer path chosen",
		"email", user.Email,
		"path", path,
		"browser", signals.Browser,
		"os", signals.OS,
	)

	if path == NativeDial || i.cfg.SoftphoneURL == "" {
		return NativeURL(req.To), nil
	}

	creds := twilio.Credentials{AccountSID: user.AccountSID, AuthToken: user.AuthToken}
	token, _, err := twilio.GenerateCapabilityToken(creds, i.cfg.AppSID, i.cfg.TokenTTL, i.now())
	if err != nil {
		return "", fmt.Errorf("issuing capability token: %w", err)
	}
	return SoftphoneURL(i.cfg.SoftphoneURL, req.From, req.To, token), nil
}

// SoftphoneURL appends the call parameters to base as a fragment.
func SoftphoneURL(base, from, to, token string) string {
	fragment := url.Values{
		"from":  {from},
		"to":    {to},
		"token": {token},
	}
	return base + "#" + fragment.Encode()
}

// NativeURL is a tel: URI for the number.
func NativeURL(to string) string {
	return "tel:" + to
}
