package models

import "time"

// User is a bridge user keyed by lowercased email. AccountSID and AuthToken
// form the telephony credential; either may be empty.
type User struct {
	ID         int64
	Email      string
	SecretHash string // argon2id hash of the placeholder login secret
	AccountSID string
	AuthToken  string // plaintext after decryption
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// VoicemailNotification records that a recording has already been emailed.
type VoicemailNotification struct {
	RecordingID string
	OwnerEmail  string
	Signal      string // "recording" or "transcription"
	CreatedAt   time.Time
}
