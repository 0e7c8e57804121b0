package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds the SMTP relay configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname
	Port     string // SMTP port (25, 587, 465)
	Username string // SMTP auth username
	Password string // SMTP auth password
	TLS      string // "none", "starttls", "tls"
}

// Valid returns true if the minimum required fields are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != ""
}

// SMTPSender sends notifications through an SMTP relay.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	now    func() time.Time
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// NewSMTPSender creates a new SMTPSender.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:      cfg,
		logger:   logger.With("component", "email", "backend", "smtp"),
		now:      time.Now,
		dialFunc: defaultDial,
	}
}

// Send delivers n through the relay.
func (s *SMTPSender) Send(ctx context.Context, n *Notification) error {
	if !s.cfg.Valid() {
		return fmt.Errorf("smtp not configured")
	}

	msg, err := Compose(n, s.now())
	if err != nil {
		return fmt.Errorf("building email message: %w", err)
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	// STARTTLS upgrade if requested and supported.
	if strings.EqualFold(s.cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(n.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(n.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	s.logger.Info("notification email sent", "to", n.To, "subject", n.Subject)
	return nil
}

// defaultDial connects to the SMTP server using either plain TCP or implicit TLS.
func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}
