package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Recoverer returns middleware that recovers from panics, logs the stack
// trace and answers 500 with a JSON error.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return RecoverWith(logger, func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusInternalServerError, "internal server error")
	})
}

// RecoverWith is Recoverer with a custom response. Carrier endpoints use it
// to answer with a valid empty document instead of an error.
func RecoverWith(logger *slog.Logger, respond http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("panic recovered",
					"request_id", chimw.GetReqID(r.Context()),
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				respond(w, r)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
