package database

import (
	"context"
	"fmt"
	"time"

	"github.com/splay/phonemail/internal/database/models"
)

// voicemailNotificationRepo implements VoicemailNotificationRepository.
type voicemailNotificationRepo struct {
	db *DB
}

// NewVoicemailNotificationRepository creates a new VoicemailNotificationRepository.
func NewVoicemailNotificationRepository(db *DB) VoicemailNotificationRepository {
	return &voicemailNotificationRepo{db: db}
}

// Claim inserts the recording id unless it is already present.
func (r *voicemailNotificationRepo) Claim(ctx context.Context, n *models.VoicemailNotification) (bool, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.exec(ctx,
		`INSERT INTO voicemail_notifications (recording_id, owner_email, signal, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (recording_id) DO NOTHING`,
		n.RecordingID, n.OwnerEmail, n.Signal, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claiming voicemail notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return affected == 1, nil
}

// Release forgets a claim so that a later signal may retry delivery.
func (r *voicemailNotificationRepo) Release(ctx context.Context, recordingID string) error {
	_, err := r.db.exec(ctx, `DELETE FROM voicemail_notifications WHERE recording_id = ?`, recordingID)
	if err != nil {
		return fmt.Errorf("releasing voicemail notification: %w", err)
	}
	return nil
}

// DeleteBefore removes claims created before cutoff and returns how many
// were removed.
func (r *voicemailNotificationRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.exec(ctx, `DELETE FROM voicemail_notifications WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning voicemail notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}
