package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPConfig configures access to the gateway mailbox over IMAP.
type IMAPConfig struct {
	Server      string // host:port
	Username    string
	Password    string
	Gateway     string // gateway mailbox address replies are sent to
	Insecure    bool   // plain TCP instead of implicit TLS
	DialTimeout time.Duration
}

// IMAP reads replies from an IMAP mailbox. Each call opens its own session
// so that polls never share connection state.
type IMAP struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAP creates an IMAP inbox.
func NewIMAP(cfg IMAPConfig, logger *slog.Logger) *IMAP {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &IMAP{
		cfg:    cfg,
		logger: logger.With("component", "email", "backend", "imap"),
	}
}

func (m *IMAP) connect() (*client.Client, error) {
	dialer := &net.Dialer{Timeout: m.cfg.DialTimeout}

	var (
		c   *client.Client
		err error
	)
	if m.cfg.Insecure {
		c, err = client.DialWithDialer(dialer, m.cfg.Server)
	} else {
		c, err = client.DialWithDialerTLS(dialer, m.cfg.Server, &tls.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return c, nil
}

// replyCriteria matches unseen mail to a plus-address of the gateway whose
// subject marks it as a reply to a notification.
func (m *IMAP) replyCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if i := strings.LastIndexByte(m.cfg.Gateway, '@'); i > 0 {
		criteria.Header.Add("To", m.cfg.Gateway[:i]+"+")
		criteria.Header.Add("To", m.cfg.Gateway[i:])
	}
	criteria.Or = [][2]*imap.SearchCriteria{{
		{Header: textproto.MIMEHeader{"Subject": {ReplySubjectSMS}}},
		{Header: textproto.MIMEHeader{"Subject": {ReplySubjectVoicemail}}},
	}}
	return criteria
}

// FetchReplies returns unseen replies without marking them seen.
func (m *IMAP) FetchReplies(ctx context.Context) ([]InboxMessage, error) {
	c, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	uids, err := c.UidSearch(m.replyCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > MaxInboxBatch {
		uids = uids[:MaxInboxBatch]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []InboxMessage
	for msg := range messages {
		// Unparsable messages stay in the batch with an empty body so the
		// caller still marks them read.
		im, err := m.parseMessage(msg, section)
		if err != nil {
			m.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
		}
		out = append(out, im)
	}

	if err := <-done; err != nil {
		return out, fmt.Errorf("failed to fetch: %w", err)
	}

	m.logger.Debug("fetched replies", "count", len(out))
	return out, nil
}

func (m *IMAP) parseMessage(msg *imap.Message, section *imap.BodySectionName) (InboxMessage, error) {
	im := InboxMessage{
		ID:   strconv.FormatUint(uint64(msg.Uid), 10),
		Time: msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		if len(env.From) > 0 {
			im.From = formatAddress(env.From[0])
		}
		if len(env.To) > 0 {
			im.To = env.To[0].Address()
		}
		if im.Time.IsZero() {
			im.Time = env.Date
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return im, fmt.Errorf("server returned no body")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return im, fmt.Errorf("creating mail reader: %w", err)
	}
	body, err := ReadBody(mr)
	if err != nil {
		return im, err
	}
	im.Body = body
	return im, nil
}

func formatAddress(a *imap.Address) string {
	addr := (&mail.Address{Name: a.PersonalName, Address: a.Address()})
	return addr.String()
}

// MarkRead adds the \Seen flag to the given messages.
func (m *IMAP) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, id := range ids {
		uid, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", id, err)
		}
		seqSet.AddNum(uint32(uid))
	}

	c, err := m.connect()
	if err != nil {
		return err
	}
	defer c.Logout()

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}
