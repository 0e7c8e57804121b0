package email

import (
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"breaks", "Sure,<br>see you<br/>then", "Sure,\nsee you\nthen"},
		{"strips style", "<style>p{color:red}</style><div>ok</div>", "ok"},
		{"collapses spaces", "<div>a    b\t c</div>", "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLToText(tt.in)
			if err != nil {
				t.Fatalf("HTMLToText() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HTMLToText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLToTextKeepsQuoteAttributionOnItsOwnLine(t *testing.T) {
	in := `<div dir="ltr">On my way</div><br><div class="gmail_quote"><div class="gmail_attr">On Mon, Jan 5, 2020 at 9:00 AM &lt;gw@example.com&gt; wrote:<br></div><blockquote>old</blockquote></div>`
	got, err := HTMLToText(in)
	if err != nil {
		t.Fatalf("HTMLToText() error: %v", err)
	}
	if !strings.HasPrefix(got, "On my way\n") {
		t.Errorf("HTMLToText() = %q, want reply on first line", got)
	}
	if !strings.Contains(got, "\nOn Mon, Jan 5, 2020 at 9:00 AM <gw@example.com> wrote:\n") {
		t.Errorf("HTMLToText() = %q, want attribution on its own line", got)
	}
}

func TestReadBodyPrefersPlain(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: Re: SMS from +1555\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=XX\r\n" +
		"\r\n" +
		"--XX\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain reply\r\n" +
		"--XX\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html reply</p>\r\n" +
		"--XX--\r\n"

	mr, err := mail.CreateReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("CreateReader() error: %v", err)
	}
	got, err := ReadBody(mr)
	if err != nil {
		t.Fatalf("ReadBody() error: %v", err)
	}
	if got != "plain reply" {
		t.Errorf("ReadBody() = %q", got)
	}
}

func TestReadBodyFallsBackToHTML(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<div>only html</div>"

	mr, err := mail.CreateReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("CreateReader() error: %v", err)
	}
	got, err := ReadBody(mr)
	if err != nil {
		t.Fatalf("ReadBody() error: %v", err)
	}
	if got != "only html" {
		t.Errorf("ReadBody() = %q", got)
	}
}
