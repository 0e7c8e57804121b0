package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splay/phonemail/internal/database/models"
)

// userRepo implements UserRepository. Auth tokens are encrypted at rest when
// an Encryptor is configured.
type userRepo struct {
	db  *DB
	enc *Encryptor
}

// NewUserRepository creates a new UserRepository. enc may be nil, in which
// case auth tokens are stored in plaintext.
func NewUserRepository(db *DB, enc *Encryptor) UserRepository {
	return &userRepo{db: db, enc: enc}
}

// Create inserts a new user. Email is stored lowercased.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	token, err := r.seal(user.AuthToken)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user.Email = strings.ToLower(user.Email)

	var id int64
	err = r.db.queryRow(ctx,
		`INSERT INTO users (email, secret_hash, account_sid, auth_token, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		user.Email, user.SecretHash, user.AccountSID, token, now, now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail returns the user with the given email, or nil if none exists.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.queryRow(ctx,
		`SELECT id, email, secret_hash, account_sid, auth_token, created_at, updated_at
		 FROM users WHERE email = ?`, strings.ToLower(email),
	).Scan(&u.ID, &u.Email, &u.SecretHash, &u.AccountSID, &u.AuthToken, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if u.AuthToken, err = r.open(u.AuthToken); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateCredential overwrites the telephony credential of a user.
func (r *userRepo) UpdateCredential(ctx context.Context, id int64, accountSID, authToken string) error {
	token, err := r.seal(authToken)
	if err != nil {
		return err
	}

	res, err := r.db.exec(ctx,
		`UPDATE users SET account_sid = ?, auth_token = ?, updated_at = ? WHERE id = ?`,
		accountSID, token, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating user credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating user credential: user %d not found", id)
	}
	return nil
}

// CountUsers reports total and credentialed user counts.
func (r *userRepo) CountUsers(ctx context.Context) (int64, int64, error) {
	var total, credentialed int64
	err := r.db.queryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN account_sid <> '' AND auth_token <> '' THEN 1 ELSE 0 END), 0)
		 FROM users`,
	).Scan(&total, &credentialed)
	if err != nil {
		return 0, 0, fmt.Errorf("counting users: %w", err)
	}
	return total, credentialed, nil
}

func (r *userRepo) seal(token string) (string, error) {
	if token == "" || r.enc == nil {
		return token, nil
	}
	sealed, err := r.enc.Encrypt(token)
	if err != nil {
		return "", fmt.Errorf("encrypting auth token: %w", err)
	}
	return sealed, nil
}

func (r *userRepo) open(token string) (string, error) {
	if token == "" || r.enc == nil {
		return token, nil
	}
	plain, err := r.enc.Decrypt(token)
	if err != nil {
		return "", fmt.Errorf("decrypting auth token: %w", err)
	}
	return plain, nil
}
