package webhook

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
)

func TestParseVoice(t *testing.T) {
	v := url.Values{
		"Direction":  {"inbound"},
		"From":       {"+15559876543"},
		"To":         {"+15551234567"},
		"CallSid":    {"CA1"},
		"AccountSid": {"AC1"},
		"email":      {"Jane@Example.com"},
		"phone":      {"+15550001", " ", "+15550002"},
	}
	e, err := ParseVoice(v, []string{"+19999999"})
	if err != nil {
		t.Fatalf("ParseVoice() error: %v", err)
	}
	if !e.Inbound() {
		t.Error("Inbound() = false")
	}
	if e.Email != "jane@example.com" {
		t.Errorf("Email = %q, want lowercased", e.Email)
	}
	if want := []string{"+15550001", "+15550002"}; !reflect.DeepEqual(e.Forward, want) {
		t.Errorf("Forward = %v, want %v", e.Forward, want)
	}
	if e.Kind() != KindVoice {
		t.Errorf("Kind() = %v", e.Kind())
	}
}

func TestParseVoiceDefaultForward(t *testing.T) {
	e, err := ParseVoice(url.Values{"From": {"+1"}}, []string{"+15550001"})
	if err != nil {
		t.Fatalf("ParseVoice() error: %v", err)
	}
	if !reflect.DeepEqual(e.Forward, []string{"+15550001"}) {
		t.Errorf("Forward = %v", e.Forward)
	}
}

func TestParseVoiceMissingFrom(t *testing.T) {
	_, err := ParseVoice(url.Values{"Direction": {"inbound"}}, nil)
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "From" {
		t.Fatalf("err = %v, want FieldError{From}", err)
	}
	if fe.Error() != "webhook voice: missing From" {
		t.Errorf("Error() = %q", fe.Error())
	}
}

func TestVoicemailTrigger(t *testing.T) {
	tests := []struct {
		name string
		v    url.Values
		want Trigger
	}{
		{"no answer", url.Values{"Direction": {"inbound"}, "DialCallStatus": {"no-answer"}}, TriggerCapture},
		{"no answer outbound", url.Values{"Direction": {"outbound-api"}, "DialCallStatus": {"no-answer"}}, TriggerNone},
		{"answered", url.Values{"Direction": {"inbound"}, "DialCallStatus": {"completed"}}, TriggerNone},
		{"recording", url.Values{"RecordingStatus": {"completed"}, "RecordingUrl": {"u"}, "email": {"a@b.c"}}, TriggerCompletion},
		{"transcription", url.Values{"TranscriptionStatus": {"completed"}, "RecordingUrl": {"u"}, "email": {"a@b.c"}}, TriggerCompletion},
		{"transcription failed", url.Values{"TranscriptionStatus": {"failed"}}, TriggerNone},
		{"empty", url.Values{}, TriggerNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseVoicemail(tt.v)
			if err != nil {
				t.Fatalf("ParseVoicemail() error: %v", err)
			}
			if got := e.Trigger(); got != tt.want {
				t.Errorf("Trigger() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVoicemailCompletionRequiresFields(t *testing.T) {
	tests := []struct {
		name  string
		v     url.Values
		field string
	}{
		{"no url", url.Values{"RecordingStatus": {"completed"}, "email": {"a@b.c"}}, "RecordingUrl"},
		{"no email", url.Values{"RecordingStatus": {"completed"}, "RecordingUrl": {"u"}}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVoicemail(tt.v)
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field {
				t.Errorf("err = %v, want missing %s", err, tt.field)
			}
		})
	}
}

func TestVoicemailRecordingIDAndSignal(t *testing.T) {
	e := &VoicemailEvent{RecordingURL: "https://r/1", TranscriptionStatus: "completed"}
	if e.RecordingID() != "https://r/1" {
		t.Errorf("RecordingID() = %q, want url fallback", e.RecordingID())
	}
	if e.Signal() != "transcription" {
		t.Errorf("Signal() = %q", e.Signal())
	}
	e.RecordingSID = "RE1"
	e.TranscriptionStatus = ""
	if e.RecordingID() != "RE1" {
		t.Errorf("RecordingID() = %q, want sid", e.RecordingID())
	}
	if e.Signal() != "recording" {
		t.Errorf("Signal() = %q", e.Signal())
	}
}

func TestParseSip(t *testing.T) {
	if _, err := ParseSip(url.Values{"From": {"sip:+1@x"}}); err == nil {
		t.Error("expected error without To")
	}
	e, err := ParseSip(url.Values{"From": {"sip:+1@x"}, "To": {"sip:+2@x"}, "Direction": {"inbound"}})
	if err != nil {
		t.Fatalf("ParseSip() error: %v", err)
	}
	if e.From != "sip:+1@x" || e.To != "sip:+2@x" {
		t.Errorf("event = %+v", e)
	}
}

func TestParseSms(t *testing.T) {
	v := url.Values{"From": {"+15559876543"}, "To": {"+15551234567"}, "Body": {"  hi  "}, "MessageSid": {"SM1"}}
	e, err := ParseSms(v, []string{"+15550001", "+15550002"})
	if err != nil {
		t.Fatalf("ParseSms() error: %v", err)
	}
	if e.Body != "  hi  " {
		t.Errorf("Body = %q, want unmodified", e.Body)
	}
	if len(e.Forward) != 2 {
		t.Errorf("Forward = %v", e.Forward)
	}
	if _, err := ParseSms(url.Values{"Body": {"x"}}, nil); err == nil {
		t.Error("expected error without From")
	}
}

func TestParseDispatch(t *testing.T) {
	v := url.Values{"From": {"+1"}, "To": {"+2"}}
	for _, k := range []Kind{KindVoice, KindVoicemail, KindSip, KindSms} {
		e, err := Parse(k, v, nil)
		if err != nil {
			t.Fatalf("Parse(%v) error: %v", k, err)
		}
		if e.Kind() != k {
			t.Errorf("Parse(%v).Kind() = %v", k, e.Kind())
		}
	}
	if _, err := Parse(Kind(99), v, nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}
