package api

import (
	"net/http"
	"net/url"

	"github.com/splay/phonemail/internal/dialer"
	"github.com/splay/phonemail/internal/twiml"
	"github.com/splay/phonemail/internal/webhook"
)

// requestValues returns the callback parameters: the query for GET, and
// the query merged with the form body otherwise.
func requestValues(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query(), nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return r.Form, nil
}

// handleWebhook answers one carrier callback kind. The reply is always 200
// with a single document; unusable requests get an empty one.
func (s *Server) handleWebhook(kind webhook.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.deps.Counters.Webhook(kind.String())

		values, err := requestValues(r)
		if err != nil {
			s.logger.Warn("unreadable webhook", "endpoint", kind, "error", err)
			writeEmptyTwiML(w, r)
			return
		}

		event, err := webhook.Parse(kind, values, s.deps.ForwardNumbers)
		if err != nil {
			s.logger.Warn("rejected webhook", "endpoint", kind, "error", err)
			writeEmptyTwiML(w, r)
			return
		}

		writeTwiML(w, s.answer(event).String())
	}
}

func (s *Server) answer(event webhook.Event) *twiml.Response {
	switch e := event.(type) {
	case *webhook.VoiceEvent:
		return s.deps.Calls.HandleVoice(e)
	case *webhook.VoicemailEvent:
		return s.deps.Calls.HandleVoicemail(e)
	case *webhook.SipEvent:
		return s.deps.Calls.HandleSip(e)
	case *webhook.SmsEvent:
		return s.deps.SMS.HandleInbound(e)
	default:
		return twiml.New()
	}
}

// handleEmail runs one inbox reconciliation pass.
func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.SMS.Reconcile(r.Context())
	if err != nil {
		s.logger.Error("inbox reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDialer redirects a return call link to the softphone or to a tel:
// URI.
func (s *Server) handleDialer(w http.ResponseWriter, r *http.Request) {
	values, err := requestValues(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalid request parameters")
		return
	}

	target, err := s.deps.Dialer.Redirect(r.Context(), dialer.Request{
		Email:     values.Get("email"),
		From:      values.Get("from"),
		To:        values.Get("to"),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.logger.Error("dialer redirect failed", "email", values.Get("email"), "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}
