package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Config holds all runtime configuration for the phonemail server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPPort    int
	DataDir     string
	DatabaseURL string // postgres DSN; sqlite in DataDir when empty
	LogLevel    string
	LogFormat   string // "text", "json" or "tint"

	BaseURL        string   // public base URL the carrier calls back on
	GatewayEmail   string   // mailbox that sends notifications and receives replies
	ForwardNumbers []string // default destinations for voice/SMS fan-out
	GreetingURL    string   // audio played before voicemail capture
	DialerURL      string   // static softphone page
	LoginURL       string   // where unauthenticated users enable replies

	TwilioAppSID  string // outbound application the capability token is scoped to
	TwilioAPIURL  string
	LookupAPIURL  string
	CapabilityTTL time.Duration

	WatsonURL      string
	WatsonUsername string
	WatsonPassword string

	MailBackend  string // "smtp" or "gmail"
	InboxBackend string // "gmail", "imap" or "none"

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      string // "none", "starttls", "tls"

	IMAPServer   string // host:port
	IMAPUsername string
	IMAPPassword string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRefreshToken string

	EmailPollInterval time.Duration
	EncryptionKey     string // hex-encoded 32-byte key for auth token encryption
	APIKey            string // bearer key for /api/v1 endpoints
	WebhookAuthToken  string // carrier auth token for callback signatures; empty disables the check
}

// defaults
const (
	defaultHTTPPort      = 8080
	defaultDataDir       = "./data"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultTwilioAPIURL  = "https://api.twilio.com/2010-04-01"
	defaultLookupAPIURL  = "https://lookups.twilio.com/v1"
	defaultWatsonURL     = "https://stream.watsonplatform.net/speech-to-text/api"
	defaultMailBackend   = "smtp"
	defaultInboxBackend  = "none"
	defaultSMTPPort      = "587"
	defaultSMTPTLS       = "starttls"
	defaultCapabilityTTL = time.Hour
)

// envPrefix is the prefix for all phonemail environment variables.
const envPrefix = "PHONEMAIL_"

// Load parses configuration from CLI flags and environment variables.
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	var forward string

	fs := flag.NewFlagSet("phonemail", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the sqlite database")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string (sqlite is used when empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json, tint)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "public base URL for carrier callbacks (e.g. https://bridge.example.com)")
	fs.StringVar(&cfg.GatewayEmail, "gateway-email", "", "gateway mailbox address used for notifications and replies")
	fs.StringVar(&forward, "forward-numbers", "", "comma-separated default forward numbers")
	fs.StringVar(&cfg.GreetingURL, "greeting-url", "", "URL of the voicemail greeting audio")
	fs.StringVar(&cfg.DialerURL, "dialer-url", "", "URL of the softphone dialer page")
	fs.StringVar(&cfg.LoginURL, "login-url", "", "URL users visit to enable replies")
	fs.StringVar(&cfg.TwilioAppSID, "twilio-app-sid", "", "outbound application SID for capability tokens")
	fs.StringVar(&cfg.TwilioAPIURL, "twilio-api-url", defaultTwilioAPIURL, "carrier REST API base URL")
	fs.StringVar(&cfg.LookupAPIURL, "lookup-api-url", defaultLookupAPIURL, "carrier number lookup API base URL")
	fs.DurationVar(&cfg.CapabilityTTL, "capability-ttl", defaultCapabilityTTL, "lifetime of softphone capability tokens")
	fs.StringVar(&cfg.WatsonURL, "watson-url", defaultWatsonURL, "speech-to-text service base URL")
	fs.StringVar(&cfg.WatsonUsername, "watson-username", "", "speech-to-text username (use \"apikey\" for IAM keys)")
	fs.StringVar(&cfg.WatsonPassword, "watson-password", "", "speech-to-text password or API key")
	fs.StringVar(&cfg.MailBackend, "mail-backend", defaultMailBackend, "outbound mail backend (smtp, gmail)")
	fs.StringVar(&cfg.InboxBackend, "inbox-backend", defaultInboxBackend, "reply inbox backend (gmail, imap, none)")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", "", "SMTP server hostname")
	fs.StringVar(&cfg.SMTPPort, "smtp-port", defaultSMTPPort, "SMTP server port")
	fs.StringVar(&cfg.SMTPUsername, "smtp-username", "", "SMTP auth username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", "", "SMTP auth password")
	fs.StringVar(&cfg.SMTPTLS, "smtp-tls", defaultSMTPTLS, "SMTP TLS mode (none, starttls, tls)")
	fs.StringVar(&cfg.IMAPServer, "imap-server", "", "IMAP server host:port (implicit TLS)")
	fs.StringVar(&cfg.IMAPUsername, "imap-username", "", "IMAP login")
	fs.StringVar(&cfg.IMAPPassword, "imap-password", "", "IMAP password")
	fs.StringVar(&cfg.GoogleClientID, "google-client-id", "", "OAuth client ID for the Gmail API")
	fs.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "OAuth client secret for the Gmail API")
	fs.StringVar(&cfg.GoogleRefreshToken, "google-refresh-token", "", "OAuth refresh token for the gateway mailbox")
	fs.DurationVar(&cfg.EmailPollInterval, "email-poll-interval", 0, "interval for polling the reply inbox (0 disables, rely on /email)")
	fs.StringVar(&cfg.EncryptionKey, "encryption-key", "", "hex-encoded 32-byte key for encrypting stored auth tokens")
	fs.StringVar(&cfg.APIKey, "api-key", "", "bearer key required by /api/v1 endpoints")
	fs.StringVar(&cfg.WebhookAuthToken, "webhook-auth-token", "", "carrier auth token used to verify callback signatures (empty disables)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg, &forward)
	cfg.ForwardNumbers = splitList(forward)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. The env var name is the flag name
// upper-cased with dashes replaced by underscores.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, forward *string) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		if f.Name == "forward-numbers" {
			*forward = val
			return
		}
		if err := f.Value.Set(val); err != nil {
			slog.Warn("ignoring invalid environment value", "env", envVar, "error", err)
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true, "tint": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json, tint; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base-url must be an absolute URL, got %q", c.BaseURL)
		}
		c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	}

	if c.GatewayEmail != "" && strings.Count(c.GatewayEmail, "@") != 1 {
		return fmt.Errorf("gateway-email must contain exactly one @, got %q", c.GatewayEmail)
	}

	switch c.MailBackend {
	case "smtp":
		if c.SMTPHost != "" && c.SMTPPort == "" {
			return fmt.Errorf("smtp-port is required when smtp-host is set")
		}
	case "gmail":
		if !c.GoogleConfigured() {
			return fmt.Errorf("mail-backend gmail requires google-client-id, google-client-secret and google-refresh-token")
		}
	default:
		return fmt.Errorf("mail-backend must be one of smtp, gmail; got %q", c.MailBackend)
	}

	switch c.InboxBackend {
	case "none":
	case "gmail":
		if !c.GoogleConfigured() {
			return fmt.Errorf("inbox-backend gmail requires google-client-id, google-client-secret and google-refresh-token")
		}
	case "imap":
		if c.IMAPServer == "" || c.IMAPUsername == "" {
			return fmt.Errorf("inbox-backend imap requires imap-server and imap-username")
		}
	default:
		return fmt.Errorf("inbox-backend must be one of gmail, imap, none; got %q", c.InboxBackend)
	}

	if c.EmailPollInterval < 0 {
		return fmt.Errorf("email-poll-interval must not be negative")
	}
	if c.CapabilityTTL <= 0 {
		return fmt.Errorf("capability-ttl must be positive")
	}

	return nil
}

// GoogleConfigured reports whether Gmail API credentials are present.
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRefreshToken != ""
}

// EncryptionKeyBytes returns the decoded 32-byte encryption key, or nil if
// no key is configured.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// WebhookURL returns the absolute URL of a carrier-facing endpoint.
func (c *Config) WebhookURL(endpoint string) string {
	return c.BaseURL + "/twilio-voice/" + strings.TrimLeft(endpoint, "/")
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.HTTPPort)
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	switch c.LogFormat {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "tint":
		return tint.NewHandler(w, &tint.Options{Level: c.SlogLevel(), TimeFormat: time.Kitchen})
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
