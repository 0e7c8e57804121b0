// Package voice answers the carrier's call webhooks with call-control
// documents. Every handler returns a valid document; slow work such as
// voicemail delivery is handed to a background runner.
package voice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/splay/phonemail/internal/twiml"
	"github.com/splay/phonemail/internal/webhook"
)

// Call handling defaults.
const (
	DefaultRingTimeout     = 18 // seconds the forwarded numbers ring
	DefaultMaxRecordLength = 60 // seconds of voicemail audio
)

// VoicemailNotifier turns a completed recording into a notification.
type VoicemailNotifier interface {
	Notify(ctx context.Context, e *webhook.VoicemailEvent) error
}

// TaskRunner runs detached work whose failures are logged by the runner.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// RouterConfig holds the URLs and limits the router renders into documents.
type RouterConfig struct {
	VoicemailURL    string // absolute URL of the voicemail webhook
	GreetingURL     string
	RingTimeout     int
	MaxRecordLength int
}

// Router is the call state machine: a ringing call is forwarded, an
// unanswered one is sent to voicemail capture, anything else is a no-op.
type Router struct {
	cfg       RouterConfig
	voicemail VoicemailNotifier
	tasks     TaskRunner
	logger    *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig, voicemail VoicemailNotifier, tasks TaskRunner, logger *slog.Logger) *Router {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.MaxRecordLength <= 0 {
		cfg.MaxRecordLength = DefaultMaxRecordLength
	}
	return &Router{
		cfg:       cfg,
		voicemail: voicemail,
		tasks:     tasks,
		logger:    logger.With("component", "voice"),
	}
}

// callbackURL is the voicemail webhook carrying the owning email.
func (r *Router) callbackURL(email string) string {
	return r.cfg.VoicemailURL + "?email=" + twiml.EncodeURIComponent(email)
}

// HandleVoice forwards an inbound call to the event's numbers, with the
// caller's number as caller id. Unanswered calls come back on the voicemail
// webhook.
func (r *Router) HandleVoice(e *webhook.VoiceEvent) *twiml.Response {
	if !e.Inbound() {
		r.logger.Warn("invalid call direction", "direction", e.Direction, "call_sid", e.SID)
		return twiml.New()
	}
	if len(e.Forward) == 0 {
		r.logger.Warn("no forward numbers for inbound call", "call_sid", e.SID, "to", e.To)
	}

	dial := twiml.Dial{
		CallerID: e.From,
		Action:   r.callbackURL(e.Email),
		Timeout:  r.cfg.RingTimeout,
	}
	for _, n := range e.Forward {
		dial.Numbers = append(dial.Numbers, twiml.Number{Value: n})
	}

	r.logger.Info("forwarding call", "call_sid", e.SID, "from", e.From, "targets", len(dial.Numbers))
	return twiml.New(dial)
}

// HandleVoicemail handles both voicemail triggers. A capture answers with
// the greeting and record directives. A completion starts the notification
// in the background and is acknowledged with an empty document straight away.
func (r *Router) HandleVoicemail(e *webhook.VoicemailEvent) *twiml.Response {
	switch e.Trigger() {
	case webhook.TriggerCapture:
		r.logger.Info("capturing voicemail", "call_sid", e.SID, "from", e.From)
		return r.captureDocument(e.Email)

	case webhook.TriggerCompletion:
		r.logger.Info("voicemail completed",
			"call_sid", e.SID,
			"recording", e.RecordingID(),
			"signal", e.Signal(),
		)
		r.tasks.Go("voicemail", func(ctx context.Context) error {
			return r.voicemail.Notify(ctx, e)
		})
		return twiml.New()

	default:
		r.logger.Debug("ignoring voicemail callback", "call_sid", e.SID, "dial_status", e.DialCallStatus)
		return twiml.New()
	}
}

// captureDocument plays the greeting while gathering a single digit, then
// records. The gather's action re-serves the same record directive and the
// record's action hangs up, both through the echo redirector.
func (r *Router) captureDocument(email string) *twiml.Response {
	record := twiml.Record{
		Action:             twiml.Echo(twiml.New(twiml.Hangup{})),
		MaxLength:          r.cfg.MaxRecordLength,
		Transcribe:         true,
		TranscribeCallback: r.callbackURL(email),
	}
	gather := twiml.Gather{
		NumDigits: 1,
		Timeout:   0,
		Action:    twiml.Echo(twiml.New(record)),
		Play:      &twiml.Play{URL: r.cfg.GreetingURL},
	}
	return twiml.New(gather, record)
}

// HandleSip dials the number of the To endpoint from the number of the From
// endpoint.
func (r *Router) HandleSip(e *webhook.SipEvent) *twiml.Response {
	if !e.Inbound() {
		r.logger.Warn("invalid call direction", "direction", e.Direction, "call_sid", e.SID)
		return twiml.New()
	}

	from, okFrom := ParseSipEndpoint(e.From)
	to, okTo := ParseSipEndpoint(e.To)
	if !okFrom || !okTo {
		r.logger.Error("invalid sip endpoints", "from", e.From, "to", e.To)
		return twiml.New()
	}

	r.logger.Info("dialing from sip", "call_sid", e.SID, "from", from, "to", to)
	return twiml.New(twiml.Dial{CallerID: from, Target: to})
}

// ParseSipEndpoint returns the user part of a sip: or sips: URI, e.g.
// "+15551234567" for "sip:+15551234567@sip.example.com". It reports false
// for anything without a recognised scheme and an "@". The host may be
// empty; when present it must parse as a SIP URI.
func ParseSipEndpoint(endpoint string) (string, bool) {
	if !strings.HasPrefix(endpoint, "sip:") && !strings.HasPrefix(endpoint, "sips:") {
		return "", false
	}
	colon := strings.Index(endpoint, ":")
	at := strings.Index(endpoint, "@")
	if at <= colon+1 {
		return "", false
	}

	if at < len(endpoint)-1 {
		var uri sip.Uri
		if err := sip.ParseUri(endpoint, &uri); err != nil {
			return "", false
		}
	}
	return endpoint[colon+1 : at], true
}
