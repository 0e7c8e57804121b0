package database

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/splay/phonemail/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "phonemail.db")); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	for _, table := range []string{"schema_migrations", "users", "voicemail_notifications"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 2 {
		t.Errorf("migration count = %d, want 2", migrationCount)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	got := pg.rebind("UPDATE users SET a = ?, b = ? WHERE id = ?")
	if got != "UPDATE users SET a = $1, b = $2 WHERE id = $3" {
		t.Errorf("rebind = %q", got)
	}

	lite := &DB{dialect: DialectSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestUserRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db, nil)

	missing, err := repo.GetByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if missing != nil {
		t.Fatalf("GetByEmail() = %+v, want nil", missing)
	}

	u := &models.User{Email: "Jane@Example.com", SecretHash: "hash", AccountSID: "AC123"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Create() did not set ID")
	}

	got, err := repo.GetByEmail(ctx, "JANE@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if got == nil || got.ID != u.ID || got.Email != "jane@example.com" || got.AccountSID != "AC123" {
		t.Fatalf("GetByEmail() = %+v", got)
	}

	if err := repo.Create(ctx, &models.User{Email: "jane@example.com", SecretHash: "x"}); err == nil {
		t.Error("expected unique violation creating duplicate email")
	}

	if err := repo.UpdateCredential(ctx, u.ID, "AC999", "secret"); err != nil {
		t.Fatalf("UpdateCredential() error: %v", err)
	}
	got, _ = repo.GetByEmail(ctx, "jane@example.com")
	if got.AccountSID != "AC999" || got.AuthToken != "secret" {
		t.Errorf("after update = %+v", got)
	}

	if err := repo.UpdateCredential(ctx, 9999, "AC1", ""); err == nil {
		t.Error("expected error updating unknown user")
	}

	if err := repo.Create(ctx, &models.User{Email: "bob@example.com", SecretHash: "h", AccountSID: "AC5"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	total, credentialed, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers() error: %v", err)
	}
	if total != 2 || credentialed != 1 {
		t.Errorf("CountUsers() = %d, %d, want 2, 1", total, credentialed)
	}
}

func TestUserRepositoryEncryptsToken(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	enc, err := NewEncryptor([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}
	repo := NewUserRepository(db, enc)

	u := &models.User{Email: "a@example.com", SecretHash: "h", AccountSID: "AC1", AuthToken: "tok"}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	var stored string
	if err := db.QueryRow("SELECT auth_token FROM users WHERE id = ?", u.ID).Scan(&stored); err != nil {
		t.Fatalf("reading raw token: %v", err)
	}
	if stored == "tok" || stored == "" {
		t.Errorf("stored token = %q, want ciphertext", stored)
	}

	got, err := repo.GetByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error: %v", err)
	}
	if got.AuthToken != "tok" {
		t.Errorf("AuthToken = %q, want tok", got.AuthToken)
	}
}

func TestEncryptorRejectsTampering(t *testing.T) {
	enc, err := NewEncryptor([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}
	sealed, err := enc.Encrypt("hello")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("decoding ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	if _, err := enc.Decrypt(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}
	if _, err := NewEncryptor([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestVoicemailNotificationClaim(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewVoicemailNotificationRepository(db)

	n := &models.VoicemailNotification{RecordingID: "RE1", OwnerEmail: "a@example.com", Signal: "transcription"}
	first, err := repo.Claim(ctx, n)
	if err != nil {
		t.Fatalf("Claim() error: %v", err)
	}
	if !first {
		t.Fatal("first Claim() = false, want true")
	}

	second, err := repo.Claim(ctx, &models.VoicemailNotification{RecordingID: "RE1", OwnerEmail: "a@example.com", Signal: "recording"})
	if err != nil {
		t.Fatalf("second Claim() error: %v", err)
	}
	if second {
		t.Error("second Claim() = true, want false")
	}

	if err := repo.Release(ctx, "RE1"); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	again, err := repo.Claim(ctx, n)
	if err != nil || !again {
		t.Errorf("Claim() after Release = %v, %v", again, err)
	}
}

func TestVoicemailNotificationDeleteBefore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewVoicemailNotificationRepository(db)

	now := time.Now().UTC()
	old := &models.VoicemailNotification{RecordingID: "RE-old", OwnerEmail: "a@example.com", Signal: "recording", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &models.VoicemailNotification{RecordingID: "RE-new", OwnerEmail: "a@example.com", Signal: "recording", CreatedAt: now}
	for _, n := range []*models.VoicemailNotification{old, fresh} {
		if _, err := repo.Claim(ctx, n); err != nil {
			t.Fatalf("Claim(%s) error: %v", n.RecordingID, err)
		}
	}

	removed, err := repo.DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("DeleteBefore() removed %d, want 1", removed)
	}

	if ok, _ := repo.Claim(ctx, &models.VoicemailNotification{RecordingID: "RE-old", OwnerEmail: "a@example.com", Signal: "transcription"}); !ok {
		t.Error("pruned recording should be claimable again")
	}
	if ok, _ := repo.Claim(ctx, &models.VoicemailNotification{RecordingID: "RE-new", OwnerEmail: "a@example.com", Signal: "transcription"}); ok {
		t.Error("recent claim must survive pruning")
	}
}

func TestPlaceholderSecret(t *testing.T) {
	first, err := NewPlaceholderSecret()
	if err != nil {
		t.Fatalf("NewPlaceholderSecret() error: %v", err)
	}
	second, err := NewPlaceholderSecret()
	if err != nil {
		t.Fatalf("NewPlaceholderSecret() error: %v", err)
	}
	if first == second {
		t.Error("placeholder secrets must differ")
	}

	parts := strings.Split(first, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" || parts[3] != "m=65536,t=3,p=4" {
		t.Fatalf("hash = %q, want argon2id PHC format", first)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) != argon2SaltLen {
		t.Errorf("salt = %d bytes, %v", len(salt), err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) != argon2KeyLen {
		t.Errorf("key = %d bytes, %v", len(key), err)
	}
}
