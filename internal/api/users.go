package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/splay/phonemail/internal/credential"
	"github.com/splay/phonemail/internal/database/models"
	"github.com/splay/phonemail/internal/twilio"
)

// credentialRequest is the JSON body for storing a carrier credential.
type credentialRequest struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// userResponse describes a user. The auth token is never returned.
type userResponse struct {
	Email         string `json:"email"`
	AccountSID    string `json:"account_sid,omitempty"`
	HasCredential bool   `json:"has_credential"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func toUserResponse(u *models.User) userResponse {
	resp := userResponse{
		Email:         u.Email,
		AccountSID:    u.AccountSID,
		HasCredential: credential.HasCredential(u),
	}
	if !u.CreatedAt.IsZero() {
		resp.CreatedAt = u.CreatedAt.Format(time.RFC3339)
	}
	if !u.UpdatedAt.IsZero() {
		resp.UpdatedAt = u.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

// emailParam returns the lowercased {email} path parameter.
func emailParam(r *http.Request) (string, string) {
	raw, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		return "", "email is not a valid path segment"
	}
	email := strings.ToLower(strings.TrimSpace(raw))
	if errMsg := validateEmail("email", email); errMsg != "" {
		return "", errMsg
	}
	return email, ""
}

// handleGetUser returns the credential status of a user.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	email, errMsg := emailParam(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user, err := s.deps.Users.Lookup(r.Context(), email)
	if err != nil {
		s.logger.Error("get user: lookup failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handlePutCredential verifies a credential with the carrier and stores it.
// A credential the carrier rejects is never stored.
func (s *Server) handlePutCredential(w http.ResponseWriter, r *http.Request) {
	email, errMsg := emailParam(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	var req credentialRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCredentialRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	creds := twilio.Credentials{AccountSID: req.AccountSID, AuthToken: req.AuthToken}
	acct, err := s.deps.Verifier.FetchAccount(r.Context(), creds)
	if err != nil {
		var apiErr *twilio.Error
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			s.logger.Warn("put credential: rejected by carrier", "email", email, "account", req.AccountSID, "error", err)
			writeError(w, http.StatusUnprocessableEntity, "credential rejected by carrier")
			return
		}
		s.logger.Error("put credential: verification failed", "email", email, "error", err)
		writeError(w, http.StatusBadGateway, "unable to verify credential")
		return
	}
	if acct.Status != "" && acct.Status != "active" {
		writeError(w, http.StatusUnprocessableEntity, "account is "+acct.Status)
		return
	}

	user, err := s.deps.Users.SetCredential(r.Context(), email, req.AccountSID, req.AuthToken)
	if err != nil {
		s.logger.Error("put credential: store failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func validateCredentialRequest(req credentialRequest) string {
	if errMsg := validateAccountSID("account_sid", req.AccountSID); errMsg != "" {
		return errMsg
	}
	if errMsg := validateRequiredStringLen("auth_token", req.AuthToken, maxTokenLen); errMsg != "" {
		return errMsg
	}
	if containsControlChars(req.AuthToken) {
		return "auth_token contains invalid characters"
	}
	return ""
}
