// Package credential resolves bridge users and their telephony credentials
// against the identity store.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splay/phonemail/internal/database"
	"github.com/splay/phonemail/internal/database/models"
)

// ErrNoEmail is returned when a resolution is attempted without an email.
var ErrNoEmail = errors.New("credential: email is required")

// Resolver performs get-or-create and credential updates for users. It does
// no locking of its own: concurrent resolutions for the same email may race
// and the last write wins.
type Resolver struct {
	users  database.UserRepository
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by the given user repository.
func NewResolver(users database.UserRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		users:  users,
		logger: logger.With("component", "credential"),
	}
}

// HasCredential reports whether the user holds both an account id and an
// auth secret.
func HasCredential(u *models.User) bool {
	return u != nil && u.AccountSID != "" && u.AuthToken != ""
}

// GetOrCreate looks up the user by lowercased email, creating it when absent.
// When incomingAccountSID is non-empty and differs from the stored one, the
// stored account id is replaced and the auth secret cleared, since the secret
// for the new account is unknown until re-verified.
func (r *Resolver) GetOrCreate(ctx context.Context, email, incomingAccountSID string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNoEmail
	}

	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if user == nil {
		user, err = r.create(ctx, email, incomingAccountSID)
		if err != nil {
			return nil, err
		}
		return user, nil
	}

	if incomingAccountSID != "" && incomingAccountSID != user.AccountSID {
		r.logger.Info("account id changed, invalidating stored auth token",
			"email", email,
			"old_account", user.AccountSID,
			"new_account", incomingAccountSID,
		)
		if err := r.users.UpdateCredential(ctx, user.ID, incomingAccountSID, ""); err != nil {
			return nil, fmt.Errorf("updating credential: %w", err)
		}
		user.AccountSID = incomingAccountSID
		user.AuthToken = ""
	}

	return user, nil
}

// Lookup returns the user for email without creating it. It returns nil
// when no user exists.
func (r *Resolver) Lookup(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNoEmail
	}
	user, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return user, nil
}

// SetCredential stores a verified credential for the user, creating the user
// if needed.
func (r *Resolver) SetCredential(ctx context.Context, email, accountSID, authToken string) (*models.User, error) {
	user, err := r.GetOrCreate(ctx, email, "")
	if err != nil {
		return nil, err
	}
	if err := r.users.UpdateCredential(ctx, user.ID, accountSID, authToken); err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}
	user.AccountSID = accountSID
	user.AuthToken = authToken

	r.logger.Info("credential stored", "email", user.Email, "account", accountSID)
	return user, nil
}

func (r *Resolver) create(ctx context.Context, email, accountSID string) (*models.User, error) {
	hash, err := database.NewPlaceholderSecret()
	if err != nil {
		return nil, fmt.Errorf("generating placeholder secret: %w", err)
	}

	user := &models.User{
		Email:      email,
		SecretHash: hash,
		AccountSID: accountSID,
	}
	if err := r.users.Create(ctx, user); err != nil {
		// A concurrent resolution may have created the same email first.
		existing, getErr := r.users.GetByEmail(ctx, email)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	r.logger.Info("user created", "email", email, "has_account", accountSID != "")
	return user, nil
}
