package twilio

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CapabilityClaims are the claims of a client capability token.
type CapabilityClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// OutgoingScope returns the scope string that allows placing calls through
// exactly one application.
func OutgoingScope(appSID string) string {
	return "scope:client:outgoing?" + url.Values{"appSid": {appSID}}.Encode()
}

// GenerateCapabilityToken mints a token, signed with the account's auth
// token, that authorizes one outbound calling session through appSID.
func GenerateCapabilityToken(creds Credentials, appSID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if !creds.Valid() {
		return "", time.Time{}, ErrNoCredentials
	}
	if appSID == "" {
		return "", time.Time{}, fmt.Errorf("capability token: application sid is required")
	}

	expiresAt := now.Add(ttl)
	claims := CapabilityClaims{
		Scope: OutgoingScope(appSID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    creds.AccountSID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(creds.AuthToken))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing capability token: %w", err)
	}
	return signed, expiresAt, nil
}
