package email

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

func TestComposeHeadersAndParts(t *testing.T) {
	n := testNotification()
	n.Text = "line one\nReturn Call: https://x.test/twilio-voice/dialer?email=a%40b&from=%2B1&to=%2B2"
	n.HTML = `<p>line one</p><a href="https://x.test/d?a=1&amp;b=2">Return Call</a>`

	raw, err := Compose(n, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("CreateReader() error: %v", err)
	}

	from, err := mr.Header.AddressList("From")
	if err != nil || len(from) != 1 {
		t.Fatalf("From = %v, %v", from, err)
	}
	if from[0].Name != "(555) 987-6543" || from[0].Address != "gw@example.com" {
		t.Errorf("From = %+v", from[0])
	}

	replyTo, err := mr.Header.AddressList("Reply-To")
	if err != nil || len(replyTo) != 1 || replyTo[0].Address != n.ReplyTo {
		t.Errorf("Reply-To = %v, %v", replyTo, err)
	}

	to, _ := mr.Header.AddressList("To")
	if len(to) != 1 || to[0].Address != "jane@example.com" {
		t.Errorf("To = %v", to)
	}

	if id, err := mr.Header.MessageID(); err != nil || id == "" {
		t.Errorf("Message-ID = %q, %v", id, err)
	}

	bodies := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error: %v", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			t.Fatalf("unexpected part header %T", p.Header)
		}
		ct, _, _ := h.ContentType()
		b, _ := io.ReadAll(p.Body)
		bodies[ct] = string(b)
	}

	if bodies["text/plain"] != n.Text {
		t.Errorf("text part = %q, want %q", bodies["text/plain"], n.Text)
	}
	if bodies["text/html"] != n.HTML {
		t.Errorf("html part = %q, want %q", bodies["text/html"], n.HTML)
	}
}

func TestComposeOmitsEmptyReplyTo(t *testing.T) {
	n := testNotification()
	n.ReplyTo = ""
	raw, err := Compose(n, time.Now())
	if err != nil {
		t.Fatalf("Compose() error: %v", err)
	}
	if strings.Contains(string(raw), "Reply-To:") {
		t.Error("expected no Reply-To header")
	}
}

func TestComposeRequiresAddresses(t *testing.T) {
	n := testNotification()
	n.From = ""
	if _, err := Compose(n, time.Now()); err == nil {
		t.Error("expected error without sender")
	}
	n = testNotification()
	n.To = ""
	if _, err := Compose(n, time.Now()); err == nil {
		t.Error("expected error without recipient")
	}
}
