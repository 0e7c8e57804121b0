// Package webhook turns carrier webhook parameters into typed events. Every
// event is validated here so handlers never read raw form fields.
package webhook

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies the webhook endpoint an event arrived on.
type Kind int

const (
	KindVoice Kind = iota + 1
	KindVoicemail
	KindSip
	KindSms
)

func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "voice"
	case KindVoicemail:
		return "voicemail"
	case KindSip:
		return "sip"
	case KindSms:
		return "sms"
	default:
		return "unknown"
	}
}

// Event is one of *VoiceEvent, *VoicemailEvent, *SipEvent or *SmsEvent.
type Event interface {
	Kind() Kind
}

// Carrier parameter values.
const (
	DirectionInbound = "inbound"
	StatusNoAnswer   = "no-answer"
	StatusCompleted  = "completed"
)

// FieldError reports a required parameter that was absent.
type FieldError struct {
	Kind  Kind
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("webhook %s: missing %s", e.Kind, e.Field)
}

// Call holds the parameters common to every carrier callback.
type Call struct {
	SID        string
	AccountSID string
	Direction  string
	From       string
	To         string
	Email      string // owning user, from the callback URL
}

// Inbound reports whether the call or message was received by the gateway.
func (c Call) Inbound() bool {
	return c.Direction == DirectionInbound
}

// VoiceEvent is a new call to a gateway number.
type VoiceEvent struct {
	Call
	Forward []string
}

func (*VoiceEvent) Kind() Kind { return KindVoice }

// Trigger says what a voicemail callback asks for.
type Trigger int

const (
	TriggerNone Trigger = iota
	// TriggerCapture: the forwarded dial went unanswered, start recording.
	TriggerCapture
	// TriggerCompletion: a recording or its transcription is ready.
	TriggerCompletion
)

func (t Trigger) String() string {
	switch t {
	case TriggerCapture:
		return "capture"
	case TriggerCompletion:
		return "completion"
	default:
		return "none"
	}
}

// VoicemailEvent is a callback on the voicemail entry point. The same
// endpoint receives the dial action, the recording status and the
// transcription callbacks.
type VoicemailEvent struct {
	Call
	DialCallStatus      string
	RecordingSID        string
	RecordingURL        string
	RecordingStatus     string
	TranscriptionStatus string
	TranscriptionText   string
}

func (*VoicemailEvent) Kind() Kind { return KindVoicemail }

// Trigger classifies the callback.
func (e *VoicemailEvent) Trigger() Trigger {
	if e.Inbound() && e.DialCallStatus == StatusNoAnswer {
		return TriggerCapture
	}
	if e.RecordingStatus == StatusCompleted || e.TranscriptionStatus == StatusCompleted {
		return TriggerCompletion
	}
	return TriggerNone
}

// Signal names the completion callback: "recording" or "transcription".
func (e *VoicemailEvent) Signal() string {
	if e.TranscriptionStatus == StatusCompleted {
		return "transcription"
	}
	return "recording"
}

// RecordingID identifies the recording across its completion callbacks.
func (e *VoicemailEvent) RecordingID() string {
	if e.RecordingSID != "" {
		return e.RecordingSID
	}
	return e.RecordingURL
}

// SipEvent is a call placed from a SIP endpoint.
type SipEvent struct {
	Call
}

func (*SipEvent) Kind() Kind { return KindSip }

// SmsEvent is a text message received by a gateway number.
type SmsEvent struct {
	Call
	MessageSID string
	Body       string
	Forward    []string
}

func (*SmsEvent) Kind() Kind { return KindSms }

// Parse builds the event for kind from the request parameters.
// defaultForward is used when the request names no "phone" destinations.
func Parse(kind Kind, v url.Values, defaultForward []string) (Event, error) {
	switch kind {
	case KindVoice:
		return ParseVoice(v, defaultForward)
	case KindVoicemail:
		return ParseVoicemail(v)
	case KindSip:
		return ParseSip(v)
	case KindSms:
		return ParseSms(v, defaultForward)
	default:
		return nil, fmt.Errorf("webhook: unknown kind %d", kind)
	}
}

// ParseVoice parses a voice webhook.
func ParseVoice(v url.Values, defaultForward []string) (*VoiceEvent, error) {
	e := &VoiceEvent{Call: parseCall(v), Forward: forwardNumbers(v, defaultForward)}
	if e.From == "" {
		return nil, &FieldError{Kind: KindVoice, Field: "From"}
	}
	return e, nil
}

// ParseVoicemail parses a voicemail callback. Completion callbacks must
// carry the recording URL and the owning email.
func ParseVoicemail(v url.Values) (*VoicemailEvent, error) {
	e := &VoicemailEvent{
		Call:                parseCall(v),
		DialCallStatus:      get(v, "DialCallStatus"),
		RecordingSID:        get(v, "RecordingSid"),
		RecordingURL:        get(v, "RecordingUrl"),
		RecordingStatus:     get(v, "RecordingStatus"),
		TranscriptionStatus: get(v, "TranscriptionStatus"),
		TranscriptionText:   v.Get("TranscriptionText"),
	}
	if e.Trigger() == TriggerCompletion {
		if e.RecordingURL == "" {
			return nil, &FieldError{Kind: KindVoicemail, Field: "RecordingUrl"}
		}
		if e.Email == "" {
			return nil, &FieldError{Kind: KindVoicemail, Field: "email"}
		}
	}
	return e, nil
}

// ParseSip parses a SIP webhook. Endpoint URIs are checked by the router.
func ParseSip(v url.Values) (*SipEvent, error) {
	e := &SipEvent{Call: parseCall(v)}
	if e.From == "" {
		return nil, &FieldError{Kind: KindSip, Field: "From"}
	}
	if e.To == "" {
		return nil, &FieldError{Kind: KindSip, Field: "To"}
	}
	return e, nil
}

// ParseSms parses an inbound SMS webhook. An empty body is allowed.
func ParseSms(v url.Values, defaultForward []string) (*SmsEvent, error) {
	e := &SmsEvent{
		Call:       parseCall(v),
		MessageSID: get(v, "MessageSid"),
		Body:       v.Get("Body"),
		Forward:    forwardNumbers(v, defaultForward),
	}
	if e.From == "" {
		return nil, &FieldError{Kind: KindSms, Field: "From"}
	}
	return e, nil
}

func parseCall(v url.Values) Call {
	return Call{
		SID:        get(v, "CallSid"),
		AccountSID: get(v, "AccountSid"),
		Direction:  get(v, "Direction"),
		From:       get(v, "From"),
		To:         get(v, "To"),
		Email:      strings.ToLower(get(v, "email")),
	}
}

func get(v url.Values, key string) string {
	return strings.TrimSpace(v.Get(key))
}

// forwardNumbers returns every non-empty "phone" parameter, or the default
// list when there are none.
func forwardNumbers(v url.Values, defaultForward []string) []string {
	var out []string
	for _, p := range v["phone"] {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, defaultForward...)
	}
	return out
}
