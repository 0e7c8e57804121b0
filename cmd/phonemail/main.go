package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/splay/phonemail/internal/address"
	"github.com/splay/phonemail/internal/api"
	"github.com/splay/phonemail/internal/async"
	"github.com/splay/phonemail/internal/config"
	"github.com/splay/phonemail/internal/credential"
	"github.com/splay/phonemail/internal/database"
	"github.com/splay/phonemail/internal/dialer"
	"github.com/splay/phonemail/internal/email"
	"github.com/splay/phonemail/internal/metrics"
	"github.com/splay/phonemail/internal/notify"
	"github.com/splay/phonemail/internal/sms"
	"github.com/splay/phonemail/internal/transcribe"
	"github.com/splay/phonemail/internal/twilio"
	"github.com/splay/phonemail/internal/voice"
	"github.com/splay/phonemail/internal/voicemail"
)

const (
	// taskTimeout bounds each detached notification, including transcription.
	taskTimeout = 10 * time.Minute

	claimRetention     = 7 * 24 * time.Hour
	claimCleanupPeriod = time.Hour
)

func main() {
	if err := run(); err != nil {
		slog.Error("phonemail exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting phonemail",
		"http_port", cfg.HTTPPort,
		"base_url", cfg.BaseURL,
		"mail_backend", cfg.MailBackend,
		"inbox_backend", cfg.InboxBackend,
	)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	enc, err := newEncryptor(cfg, logger)
	if err != nil {
		return err
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	gateway, err := address.ParseGateway(cfg.GatewayEmail)
	if err != nil {
		return fmt.Errorf("parsing gateway email: %w", err)
	}

	userRepo := database.NewUserRepository(db, enc)
	resolver := credential.NewResolver(userRepo, logger)
	carrier := twilio.New(&twilio.Config{BaseURL: cfg.TwilioAPIURL, LookupURL: cfg.LookupAPIURL})

	mailer, inbox, err := newMailBackends(appCtx, cfg, logger)
	if err != nil {
		return err
	}

	counters := metrics.NewCounters()
	runner := async.NewRunner(taskTimeout, logger)
	runner.OnFailure = counters.TaskFailure

	composer := notify.NewComposer(notify.Config{
		Gateway:          gateway,
		DialerWebhookURL: cfg.WebhookURL("dialer"),
		LoginURL:         cfg.LoginURL,
	}, carrier, logger)

	claims := database.NewVoicemailNotificationRepository(db)
	pipelineOpts := []voicemail.Option{
		voicemail.WithClaims(claims),
		voicemail.WithCounters(counters),
	}
	if cfg.WatsonUsername != "" {
		pipelineOpts = append(pipelineOpts, voicemail.WithTranscriber(transcribe.NewWatson(transcribe.WatsonConfig{
			BaseURL:  cfg.WatsonURL,
			Username: cfg.WatsonUsername,
			Password: cfg.WatsonPassword,
		}, logger)))
	} else {
		logger.Warn("no transcription credentials configured, voicemail emails carry the carrier transcript only")
	}
	pipeline := voicemail.NewPipeline(resolver, composer, mailer, logger, pipelineOpts...)

	router := voice.NewRouter(voice.RouterConfig{
		VoicemailURL: cfg.WebhookURL("voicemail"),
		GreetingURL:  cfg.GreetingURL,
	}, pipeline, runner, logger)

	bridge := sms.NewBridge(sms.Deps{
		Users:    resolver,
		Composer: composer,
		Mailer:   mailer,
		Inbox:    inbox,
		Sender:   carrier,
		Tasks:    runner,
		Counters: counters,
	}, logger)

	issuer := dialer.NewIssuer(dialer.Config{
		SoftphoneURL: cfg.DialerURL,
		AppSID:       cfg.TwilioAppSID,
		TokenTTL:     cfg.CapabilityTTL,
	}, resolver, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(userRepo, runner, time.Now()),
	)
	if err := counters.Register(reg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	cleanupDone := voicemail.StartCleanupTicker(appCtx, claims, claimRetention, claimCleanupPeriod, logger)

	var pollDone <-chan struct{}
	if cfg.EmailPollInterval > 0 && inbox != nil {
		logger.Info("polling inbox", "interval", cfg.EmailPollInterval)
		pollDone = bridge.StartPollTicker(appCtx, cfg.EmailPollInterval)
	}

	handler := api.NewServer(api.Deps{
		Calls:          router,
		SMS:            bridge,
		Dialer:         issuer,
		Users:          resolver,
		Verifier:       carrier,
		Counters:       counters,
		Gatherer:       reg,
		ForwardNumbers: cfg.ForwardNumbers,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		SignatureToken: cfg.WebhookAuthToken,
		TLS:            strings.HasPrefix(cfg.BaseURL, "https://"),
	}, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // /email waits for a full reconcile pass
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errCh:
		logger.Error("http server error", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	appCancel()
	<-cleanupDone
	if pollDone != nil {
		<-pollDone
	}

	if err := runner.Drain(ctx); err != nil {
		logger.Warn("background tasks still running at exit", "pending", runner.Pending(), "error", err)
	}

	logger.Info("phonemail stopped")
	return serveErr
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	if cfg.DatabaseURL != "" {
		db, err := database.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil
	}
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// newEncryptor returns the auth token encryptor, or nil when no key is set.
func newEncryptor(cfg *config.Config, logger *slog.Logger) (*database.Encryptor, error) {
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn("no encryption key configured, auth tokens will be stored in plaintext")
		return nil, nil
	}
	enc, err := database.NewEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	logger.Info("auth token encryption enabled")
	return enc, nil
}

// newMailBackends builds the notification sender and the reply inbox. The
// inbox is nil when replies are not read.
func newMailBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Mailer, email.Inbox, error) {
	var gmailClient *email.Gmail
	if cfg.MailBackend == "gmail" || cfg.InboxBackend == "gmail" {
		g, err := email.NewGmail(ctx, email.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RefreshToken: cfg.GoogleRefreshToken,
			Gateway:      cfg.GatewayEmail,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating gmail client: %w", err)
		}
		gmailClient = g
	}

	var mailer email.Mailer
	switch cfg.MailBackend {
	case "gmail":
		mailer = gmailClient
	default:
		smtpCfg := email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
		}
		if !smtpCfg.Valid() {
			logger.Warn("smtp not configured, notification emails will fail")
		}
		mailer = email.NewSMTPSender(smtpCfg, logger)
	}

	var inbox email.Inbox
	switch cfg.InboxBackend {
	case "gmail":
		inbox = gmailClient
	case "imap":
		inbox = email.NewIMAP(email.IMAPConfig{
			Server:   cfg.IMAPServer,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			Gateway:  cfg.GatewayEmail,
		}, logger)
	}

	return mailer, inbox, nil
}
