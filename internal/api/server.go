// Package api serves the carrier webhooks, the return call link, the
// management API and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splay/phonemail/internal/api/middleware"
	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/dialer"
	"github.com/splay/phonemail/internal/metrics"
	"github.com/splay/phonemail/internal/sms"
	"github.com/splay/phonemail/internal/twilio"
	"github.com/splay/phonemail/internal/twiml"
	"github.com/splay/phonemail/internal/webhook"
)

// CallRouter answers voice, voicemail and SIP callbacks.
type CallRouter interface {
	HandleVoice(e *webhook.VoiceEvent) *twiml.Response
	HandleVoicemail(e *webhook.VoicemailEvent) *twiml.Response
	HandleSip(e *webhook.SipEvent) *twiml.Response
}

// SMSBridge answers inbound texts and turns email replies into texts.
type SMSBridge interface {
	HandleInbound(e *webhook.SmsEvent) *twiml.Response
	Reconcile(ctx context.Context) (*sms.ReconcileResult, error)
}

// DialerRedirector picks the destination of a return call link.
type DialerRedirector interface {
	Redirect(ctx context.Context, req dialer.Request) (string, error)
}

// CredentialStore reads and writes user credentials.
type CredentialStore interface {
	Lookup(ctx context.Context, email string) (*models.User, error)
	SetCredential(ctx context.Context, email, accountSID, authToken string) (*models.User, error)
}

// AccountVerifier proves a credential against the carrier.
type AccountVerifier interface {
	FetchAccount(ctx context.Context, creds twilio.Credentials) (*twilio.Account, error)
}

// Deps are the Server collaborators. Counters and Gatherer may be nil.
type Deps struct {
	Calls          CallRouter
	SMS            SMSBridge
	Dialer         DialerRedirector
	Users          CredentialStore
	Verifier       AccountVerifier
	Counters       *metrics.Counters
	Gatherer       prometheus.Gatherer
	ForwardNumbers []string // used when a callback names no destinations
	APIKey         string
	BaseURL        string // public base URL the carrier signs callbacks against
	SignatureToken string // carrier auth token; empty skips signature checks
	TLS            bool   // public base URL is https
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	deps     Deps
	logger   *slog.Logger
	limiters []*middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. Call Close to
// stop the rate limiters' background loops.
func NewServer(d Deps, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   d,
		logger: logger.With("component", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) newLimiter(cfg middleware.RateLimitConfig) *middleware.IPRateLimiter {
	l := middleware.NewIPRateLimiter(cfg, s.logger)
	s.limiters = append(s.limiters, l)
	return l
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.SecurityHeaders(s.deps.TLS))

	apiLimit := middleware.RateLimit(s.newLimiter(middleware.APIRateLimitConfig()))
	dialerLimit := middleware.RateLimit(s.newLimiter(middleware.DialerRateLimitConfig()))

	r.Route("/twilio-voice", func(r chi.Router) {
		// Carrier callbacks never see an error: a panic still yields a
		// valid empty document.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RecoverWith(s.logger, writeEmptyTwiML))
			r.Use(middleware.RequireSignature(s.deps.SignatureToken, s.deps.BaseURL, writeEmptyTwiML, s.logger))
			for _, kind := range []webhook.Kind{webhook.KindVoice, webhook.KindVoicemail, webhook.KindSip, webhook.KindSms} {
				h := s.handleWebhook(kind)
				r.Get("/"+kind.String(), h)
				r.Post("/"+kind.String(), h)
			}
		})

		r.With(apiLimit).Get("/email", s.handleEmail)
		r.With(apiLimit).Post("/email", s.handleEmail)
		r.With(dialerLimit).Get("/dialer", s.handleDialer)
		r.With(dialerLimit).Post("/dialer", s.handleDialer)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiLimit)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.deps.APIKey, s.logger))
			r.Get("/users/{email}", s.handleGetUser)
			r.Put("/users/{email}/credential", s.handlePutCredential)
		})
	})

	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
