// Package sms bridges text messages and email: inbound texts become
// notification emails, and replies to those emails become outbound texts.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/splay/phonemail/internal/address"
	"github.com/splay/phonemail/internal/credential"
	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/email"
	"github.com/splay/phonemail/internal/metrics"
	"github.com/splay/phonemail/internal/notify"
	"github.com/splay/phonemail/internal/twilio"
	"github.com/splay/phonemail/internal/twiml"
	"github.com/splay/phonemail/internal/webhook"
)

// maxConcurrentSends bounds parallel outbound SMS requests per reconcile.
const maxConcurrentSends = 8

// ErrNoInbox is returned by Reconcile when no inbox is configured.
var ErrNoInbox = errors.New("sms: no reply inbox configured")

// UserResolver looks up or creates users by email.
type UserResolver interface {
	GetOrCreate(ctx context.Context, email, incomingAccountSID string) (*models.User, error)
}

// Sender delivers a text message on a user's account.
type Sender interface {
	SendSMS(ctx context.Context, creds twilio.Credentials, params *twilio.SendSMSParams) (*twilio.Message, error)
}

// TaskRunner runs detached work whose failures are logged by the runner.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) bool
}

// Bridge handles both directions.
type Bridge struct {
	users    UserResolver
	composer *notify.Composer
	mailer   email.Mailer
	inbox    email.Inbox
	sender   Sender
	tasks    TaskRunner
	counters *metrics.Counters
	logger   *slog.Logger
}

// Deps are the Bridge collaborators. Inbox may be nil when replies are not
// read; Counters may be nil.
type Deps struct {
	Users    UserResolver
	Composer *notify.Composer
	Mailer   email.Mailer
	Inbox    email.Inbox
	Sender   Sender
	Tasks    TaskRunner
	Counters *metrics.Counters
}

// NewBridge creates a Bridge.
func NewBridge(d Deps, logger *slog.Logger) *Bridge {
	return &Bridge{
		users:    d.Users,
		composer: d.Composer,
		mailer:   d.Mailer,
		inbox:    d.Inbox,
		sender:   d.Sender,
		tasks:    d.Tasks,
		counters: d.Counters,
		logger:   logger.With("component", "sms"),
	}
}

// HandleInbound starts the notification email when the event names an
// owner and returns the fan-out document, one message per forward number.
// The document does not depend on the email outcome.
func (b *Bridge) HandleInbound(e *webhook.SmsEvent) *twiml.Response {
	if e.Email != "" {
		b.tasks.Go("sms-notify", func(ctx context.Context) error {
			return b.notify(ctx, e)
		})
	}

	resp := twiml.New()
	for _, n := range e.Forward {
		resp.Add(twiml.Message{To: n, Body: e.From + ": " + e.Body})
	}
	return resp
}

func (b *Bridge) notify(ctx context.Context, e *webhook.SmsEvent) (err error) {
	defer func() { b.counters.Notification("sms", err) }()

	user, err := b.users.GetOrCreate(ctx, e.Email, e.AccountSID)
	if err != nil {
		return fmt.Errorf("resolving sms owner: %w", err)
	}

	formatted := b.composer.FormatNumber(ctx, user, e.From)
	html, text, err := email.RenderSMS(email.SMSView{
		Footer: b.composer.Footer(user, e.To, e.From),
		Text:   e.Body,
	})
	if err != nil {
		return fmt.Errorf("rendering sms notification: %w", err)
	}

	n := b.composer.Envelope(user, formatted, e.To, e.From, "SMS from "+formatted)
	n.HTML = html
	n.Text = text

	if err := b.mailer.Send(ctx, n); err != nil {
		return fmt.Errorf("sending sms notification: %w", err)
	}
	b.logger.Info("sms notification sent", "to", user.Email, "from", e.From)
	return nil
}

// ReconcileResult summarizes one inbox pass.
type ReconcileResult struct {
	Fetched   int `json:"fetched"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

type outbound struct {
	msgID string
	creds twilio.Credentials
	sms   twilio.SendSMSParams
}

// Reconcile turns unread replies in the gateway inbox into text messages.
// Replies are processed oldest first. Malformed replies and replies from
// users without a credential are discarded. Sends run concurrently and fail
// independently. Every fetched reply is marked read afterwards, whether or
// not its text went out. Once replies are fetched the pass ignores
// cancellation of ctx, so texts that went out are always marked read.
func (b *Bridge) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	if b.inbox == nil {
		return nil, ErrNoInbox
	}

	msgs, err := b.inbox.FetchReplies(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching replies: %w", err)
	}
	res := &ReconcileResult{Fetched: len(msgs)}
	if len(msgs) == 0 {
		return res, nil
	}

	ctx = context.WithoutCancel(ctx)

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.Before(msgs[j].Time)
	})

	var pending []outbound
	for _, m := range msgs {
		o, ok := b.prepare(ctx, m)
		if !ok {
			res.Discarded++
			continue
		}
		pending = append(pending, o)
	}

	sent, failed := b.dispatch(ctx, pending)
	res.Sent, res.Failed = sent, failed

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := b.inbox.MarkRead(ctx, ids); err != nil {
		return res, fmt.Errorf("marking replies read: %w", err)
	}

	b.logger.Info("inbox reconciled",
		"fetched", res.Fetched,
		"sent", res.Sent,
		"failed", res.Failed,
		"discarded", res.Discarded,
	)
	return res, nil
}

// prepare validates one reply and resolves its sender.
func (b *Bridge) prepare(ctx context.Context, m email.InboxMessage) (outbound, bool) {
	conv, ok := address.Decode(m.To)
	body := strings.TrimSpace(address.ExtractTopReply(m.Body))
	if !ok || body == "" {
		b.logger.Error("unable to convert reply to sms", "id", m.ID, "to", m.To, "has_body", body != "")
		return outbound{}, false
	}

	owner := address.ParseBareEmail(m.From)
	user, err := b.users.GetOrCreate(ctx, owner, "")
	if err != nil {
		b.logger.Error("failed to resolve reply sender", "id", m.ID, "from", owner, "error", err)
		return outbound{}, false
	}
	if !credential.HasCredential(user) {
		b.logger.Warn("not sending sms for user with no credential", "id", m.ID, "email", user.Email)
		return outbound{}, false
	}

	return outbound{
		msgID: m.ID,
		creds: notify.Credentials(user),
		sms:   twilio.SendSMSParams{From: conv.Local, To: conv.Remote, Body: body},
	}, true
}

// dispatch sends every outbound message and counts the outcomes.
func (b *Bridge) dispatch(ctx context.Context, pending []outbound) (sent, failed int) {
	results := make([]error, len(pending))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSends)
	for i := range pending {
		o := pending[i]
		g.Go(func() error {
			_, err := b.sender.SendSMS(ctx, o.creds, &o.sms)
			results[i] = err
			b.counters.OutboundSMS(err)
			if err != nil {
				b.logger.Error("failed to send sms", "id", o.msgID, "to", o.sms.To, "error", err)
				return nil
			}
			b.logger.Info("sms sent", "id", o.msgID, "from", o.sms.From, "to", o.sms.To)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range results {
		if err != nil {
			failed++
		} else {
			sent++
		}
	}
	return sent, failed
}
