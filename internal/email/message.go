package email

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Compose renders n as an RFC 5322 message with plain text and HTML
// alternatives.
func Compose(n *Notification, now time.Time) ([]byte, error) {
	if n.To == "" {
		return nil, fmt.Errorf("no recipient email address")
	}
	if n.From == "" {
		return nil, fmt.Errorf("no sender email address")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: n.FromName, Address: n.From}})
	h.SetAddressList("To", []*mail.Address{{Address: n.To}})
	if n.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: n.ReplyTo}})
	}
	h.SetSubject(n.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	if err := writePart(w, "text/plain", n.Text); err != nil {
		return nil, err
	}
	if n.HTML != "" {
		if err := writePart(w, "text/html", n.HTML); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return pw.Close()
}
