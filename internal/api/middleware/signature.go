package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// SignatureHeader carries the carrier's request signature.
const SignatureHeader = "X-Twilio-Signature"

// RequireSignature returns middleware that admits carrier callbacks signed
// with authToken. The signed URL is baseURL plus the request URI, or the
// request's own scheme and host when baseURL is empty. Unsigned or forged
// requests are answered by reject. An empty authToken disables the check.
func RequireSignature(authToken, baseURL string, reject http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	baseURL = strings.TrimRight(baseURL, "/")

	return func(next http.Handler) http.Handler {
		if authToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := base64.StdEncoding.DecodeString(r.Header.Get(SignatureHeader))
			if err != nil || len(got) == 0 {
				logger.Warn("unsigned carrier callback", "ip", extractIP(r), "path", r.URL.Path)
				reject(w, r)
				return
			}
			if err := r.ParseForm(); err != nil {
				logger.Warn("unreadable carrier callback", "ip", extractIP(r), "path", r.URL.Path, "error", err)
				reject(w, r)
				return
			}

			want := Signature(authToken, requestURL(r, baseURL), r.PostForm)
			if !hmac.Equal(got, want) {
				logger.Warn("invalid carrier signature", "ip", extractIP(r), "path", r.URL.Path)
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Signature computes the carrier signature: HMAC-SHA1 over the full URL
// followed by every POST parameter name and value, sorted by name.
func Signature(authToken, fullURL string, params map[string][]string) []byte {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(fullURL))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			mac.Write([]byte(k))
			mac.Write([]byte(v))
		}
	}
	return mac.Sum(nil)
}

func requestURL(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return baseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
