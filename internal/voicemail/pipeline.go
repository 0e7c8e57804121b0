// Package voicemail turns a completed recording into a notification email
// holding both the carrier's transcript and an independent one.
package voicemail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/email"
	"github.com/splay/phonemail/internal/metrics"
	"github.com/splay/phonemail/internal/notify"
	"github.com/splay/phonemail/internal/transcribe"
	"github.com/splay/phonemail/internal/webhook"
)

// UserResolver looks up or creates the owner of a voicemail.
type UserResolver interface {
	GetOrCreate(ctx context.Context, email, incomingAccountSID string) (*models.User, error)
}

// Transcriber converts the audio at a URL to text.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
}

// Claims records which recordings have been notified. Claim reports whether
// the caller is the first to claim the recording.
type Claims interface {
	Claim(ctx context.Context, n *models.VoicemailNotification) (bool, error)
	Release(ctx context.Context, recordingID string) error
}

// Pipeline runs the voicemail notification steps in order. Transcription
// and number lookup degrade to fallbacks; user resolution and delivery
// failures abort the run.
type Pipeline struct {
	users       UserResolver
	transcriber Transcriber
	claims      Claims
	composer    *notify.Composer
	mailer      email.Mailer
	counters    *metrics.Counters
	logger      *slog.Logger
}

// Option configures optional Pipeline collaborators.
type Option func(*Pipeline)

// WithTranscriber enables the independent transcript.
func WithTranscriber(t Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithClaims deduplicates notifications by recording.
func WithClaims(c Claims) Option {
	return func(p *Pipeline) { p.claims = c }
}

// WithCounters records notification and transcription outcomes.
func WithCounters(c *metrics.Counters) Option {
	return func(p *Pipeline) { p.counters = c }
}

// NewPipeline creates a Pipeline.
func NewPipeline(users UserResolver, composer *notify.Composer, mailer email.Mailer, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		users:    users,
		composer: composer,
		mailer:   mailer,
		logger:   logger.With("component", "voicemail"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify sends the voicemail notification for e. The recording and
// transcription callbacks both end up here; with claims configured only the
// first one for a recording sends mail.
func (p *Pipeline) Notify(ctx context.Context, e *webhook.VoicemailEvent) error {
	user, err := p.users.GetOrCreate(ctx, e.Email, "")
	if err != nil {
		return fmt.Errorf("resolving voicemail owner: %w", err)
	}

	if !p.claim(ctx, user, e) {
		p.logger.Info("voicemail already notified", "recording", e.RecordingID(), "signal", e.Signal())
		return nil
	}

	if err := p.deliver(ctx, user, e); err != nil {
		p.release(e.RecordingID())
		p.counters.Notification("voicemail", err)
		return err
	}
	p.counters.Notification("voicemail", nil)
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, user *models.User, e *webhook.VoicemailEvent) error {
	transcript := p.transcribe(ctx, e.RecordingURL)
	carrier := transcribe.NormalizeCarrierTranscript(e.TranscriptionText)
	p.logger.Debug("voicemail transcripts", "carrier", carrier, "independent", transcript)

	formatted := p.composer.FormatNumber(ctx, user, e.From)

	html, text, err := email.RenderVoicemail(email.VoicemailView{
		Footer:            p.composer.Footer(user, e.To, e.From),
		CarrierTranscript: carrier,
		Transcript:        transcript,
		RecordingURL:      e.RecordingURL,
	})
	if err != nil {
		return fmt.Errorf("rendering voicemail notification: %w", err)
	}

	n := p.composer.Envelope(user, formatted, e.To, e.From, "Voicemail from "+formatted)
	n.HTML = html
	n.Text = text

	if err := p.mailer.Send(ctx, n); err != nil {
		return fmt.Errorf("sending voicemail notification: %w", err)
	}

	p.logger.Info("voicemail notification sent", "to", user.Email, "from", e.From, "recording", e.RecordingID())
	return nil
}

// transcribe returns the independent transcript, or "" on any failure.
func (p *Pipeline) transcribe(ctx context.Context, recordingURL string) string {
	if p.transcriber == nil {
		return ""
	}
	text, err := p.transcriber.Transcribe(ctx, recordingURL)
	p.counters.Transcription(err)
	if err != nil {
		p.logger.Error("transcription failed", "recording_url", recordingURL, "error", err)
		return ""
	}
	return text
}

// claim reports whether this run should send mail. A failing claim store
// does not block delivery.
func (p *Pipeline) claim(ctx context.Context, user *models.User, e *webhook.VoicemailEvent) bool {
	if p.claims == nil {
		return true
	}
	ok, err := p.claims.Claim(ctx, &models.VoicemailNotification{
		RecordingID: e.RecordingID(),
		OwnerEmail:  user.Email,
		Signal:      e.Signal(),
	})
	if err != nil {
		p.logger.Warn("voicemail claim failed, sending without dedupe", "recording", e.RecordingID(), "error", err)
		return true
	}
	return ok
}

// release forgets the claim after a failed delivery so the other
// completion callback can retry. It uses its own context since ctx may
// already be done.
func (p *Pipeline) release(recordingID string) {
	if p.claims == nil {
		return
	}
	if err := p.claims.Release(context.Background(), recordingID); err != nil {
		p.logger.Warn("failed to release voicemail claim", "recording", recordingID, "error", err)
	}
}
