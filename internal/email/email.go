// Package email composes notification mail, sends it through SMTP or the
// Gmail API, and reads reply mail back out of the gateway inbox.
package email

import (
	"context"
	"time"
)

// Reply subjects the inbox is filtered on. Notifications are sent with
// "SMS from ..." and "Voicemail from ..." subjects so replies carry these.
const (
	ReplySubjectSMS       = "Re: SMS from"
	ReplySubjectVoicemail = "Re: Voicemail from"
)

// MaxInboxBatch bounds how many replies one poll processes.
const MaxInboxBatch = 100

// Notification is a message to a user about a call event.
type Notification struct {
	FromName string // display name, normally the formatted caller number
	From     string // gateway address
	To       string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
}

// Mailer delivers notifications.
type Mailer interface {
	Send(ctx context.Context, n *Notification) error
}

// InboxMessage is one unread reply fetched from the gateway inbox.
type InboxMessage struct {
	ID   string
	From string // raw From header, possibly "Name <addr>"
	To   string
	Body string
	Time time.Time
}

// Inbox lists unread replies and marks them handled.
type Inbox interface {
	FetchReplies(ctx context.Context) ([]InboxMessage, error)
	MarkRead(ctx context.Context, ids []string) error
}
