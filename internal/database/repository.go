package database

import (
	"context"
	"time"

	"github.com/splay/phonemail/internal/database/models"
)

// UserRepository manages bridge users and their telephony credentials.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateCredential(ctx context.Context, id int64, accountSID, authToken string) error
	// CountUsers returns the total number of users and how many hold both an
	// account id and an auth token.
	CountUsers(ctx context.Context) (total, credentialed int64, err error)
}

// VoicemailNotificationRepository tracks which recordings were already
// turned into notification emails.
type VoicemailNotificationRepository interface {
	// Claim records the recording and reports whether this call was the
	// first to do so.
	Claim(ctx context.Context, n *models.VoicemailNotification) (bool, error)
	Release(ctx context.Context, recordingID string) error
	// DeleteBefore prunes claims older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
