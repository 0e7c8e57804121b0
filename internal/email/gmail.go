package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// GmailConfig holds the OAuth identity of the gateway mailbox.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Gateway      string // gateway mailbox address
}

// Gmail sends notifications and reads replies through the Gmail API. It
// implements both Mailer and Inbox.
type Gmail struct {
	svc     *gmail.Service
	gateway string
	logger  *slog.Logger
	now     func() time.Time
}

// NewGmail creates a Gmail client authorized with a long-lived refresh
// token. Access tokens are refreshed automatically.
func NewGmail(ctx context.Context, cfg GmailConfig, logger *slog.Logger) (*Gmail, error) {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailModifyScope},
	}
	httpClient := oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return NewGmailWithClient(ctx, httpClient, "", cfg.Gateway, logger)
}

// NewGmailWithClient creates a Gmail client over an already-authorized HTTP
// client. endpoint overrides the API base URL when non-empty.
func NewGmailWithClient(ctx context.Context, httpClient *http.Client, endpoint, gateway string, logger *slog.Logger) (*Gmail, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &Gmail{
		svc:     svc,
		gateway: gateway,
		logger:  logger.With("component", "email", "backend", "gmail"),
		now:     time.Now,
	}, nil
}

// Send delivers n as a raw message from the authorized mailbox.
func (g *Gmail) Send(ctx context.Context, n *Notification) error {
	raw, err := Compose(n, g.now())
	if err != nil {
		return fmt.Errorf("building email message: %w", err)
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := g.svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}

	g.logger.Info("notification email sent", "to", n.To, "subject", n.Subject, "id", sent.Id)
	return nil
}

// ReplyQuery is the search that selects unread replies to notifications.
func ReplyQuery(gateway string) string {
	return fmt.Sprintf(`label:INBOX label:UNREAD {subject:"%s" subject:"%s"} to:%s`,
		ReplySubjectSMS, ReplySubjectVoicemail, gateway)
}

// FetchReplies lists unread replies and fetches each in full.
func (g *Gmail) FetchReplies(ctx context.Context) ([]InboxMessage, error) {
	list, err := g.svc.Users.Messages.List(gmailUser).
		Q(ReplyQuery(g.gateway)).
		MaxResults(MaxInboxBatch).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("gmail list: %w", err)
	}

	msgs := make([]InboxMessage, 0, len(list.Messages))
	for _, ref := range list.Messages {
		full, err := g.svc.Users.Messages.Get(gmailUser, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("gmail get %s: %w", ref.Id, err)
		}
		msgs = append(msgs, g.toInboxMessage(full))
	}

	g.logger.Debug("fetched replies", "count", len(msgs))
	return msgs, nil
}

// MarkRead archives the messages and clears their unread label.
func (g *Gmail) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	req := &gmail.BatchModifyMessagesRequest{
		Ids:            ids,
		RemoveLabelIds: []string{"INBOX", "UNREAD"},
	}
	if err := g.svc.Users.Messages.BatchModify(gmailUser, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail batch modify: %w", err)
	}
	return nil
}

func (g *Gmail) toInboxMessage(m *gmail.Message) InboxMessage {
	msg := InboxMessage{
		ID:   m.Id,
		Time: time.UnixMilli(m.InternalDate),
	}
	if m.Payload == nil {
		msg.Body = html.UnescapeString(m.Snippet)
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, "From"):
			msg.From = h.Value
		case strings.EqualFold(h.Name, "To"):
			msg.To = h.Value
		}
	}

	body, err := gmailBody(m.Payload)
	if err != nil {
		g.logger.Warn("failed to decode message body, using snippet", "id", m.Id, "error", err)
	}
	if strings.TrimSpace(body) == "" {
		body = html.UnescapeString(m.Snippet)
	}
	msg.Body = body
	return msg
}

// gmailBody walks the MIME tree and returns the first text/plain body, or
// the first text/html body converted to text.
func gmailBody(p *gmail.MessagePart) (string, error) {
	plain, htmlBody := findParts(p)
	if plain != nil {
		b, err := decodePartData(plain.Body.Data)
		return normalizeNewlines(b), err
	}
	if htmlBody != nil {
		b, err := decodePartData(htmlBody.Body.Data)
		if err != nil {
			return "", err
		}
		return HTMLToText(b)
	}
	return "", nil
}

func findParts(p *gmail.MessagePart) (plain, htmlPart *gmail.MessagePart) {
	if p == nil {
		return nil, nil
	}
	if p.Body != nil && p.Body.Data != "" {
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain"):
			return p, nil
		case strings.HasPrefix(p.MimeType, "text/html"):
			htmlPart = p
		}
	}
	for _, child := range p.Parts {
		cp, ch := findParts(child)
		if cp != nil {
			return cp, nil
		}
		if htmlPart == nil {
			htmlPart = ch
		}
	}
	return nil, htmlPart
}

func decodePartData(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return "", fmt.Errorf("decoding part data: %w", err)
		}
	}
	return string(b), nil
}
