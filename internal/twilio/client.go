// Package twilio is a minimal client for the carrier REST APIs the bridge
// uses: messaging, number lookup and account verification. Credentials are
// supplied per call because each user brings their own account.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.twilio.com/2010-04-01"
	DefaultLookupURL = "https://lookups.twilio.com/v1"
)

// Credentials authenticate requests against one carrier account.
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// Valid reports whether both halves of the credential are present.
func (c Credentials) Valid() bool {
	return c.AccountSID != "" && c.AuthToken != ""
}

// Client is a carrier API client shared across users.
type Client struct {
	baseURL    string
	lookupURL  string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	BaseURL    string
	LookupURL  string
	HTTPClient *http.Client
}

// New creates a new client. Zero values in cfg fall back to the public
// endpoints and a 30 second HTTP timeout.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	lookupURL := strings.TrimRight(cfg.LookupURL, "/")
	if lookupURL == "" {
		lookupURL = DefaultLookupURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		baseURL:    baseURL,
		lookupURL:  lookupURL,
		httpClient: httpClient,
	}
}

// Message represents a carrier message resource.
type Message struct {
	SID        string `json:"sid"`
	AccountSID string `json:"account_sid"`
	From       string `json:"from"`
	To         string `json:"to"`
	Body       string `json:"body"`
	Status     string `json:"status"`
}

// SendSMSParams are parameters for sending a message.
type SendSMSParams struct {
	From string
	To   string
	Body string
}

// SendSMS sends a text message from one of the account's numbers.
func (c *Client) SendSMS(ctx context.Context, creds Credentials, params *SendSMSParams) (*Message, error) {
	if !creds.Valid() {
		return nil, ErrNoCredentials
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(creds.AccountSID))

	data := url.Values{}
	data.Set("From", params.From)
	data.Set("To", params.To)
	data.Set("Body", params.Body)

	var msg Message
	if err := c.post(ctx, creds, endpoint, data, &msg); err != nil {
		return nil, fmt.Errorf("sending sms: %w", err)
	}
	return &msg, nil
}

// PhoneNumber is a lookup result.
type PhoneNumber struct {
	PhoneNumber    string `json:"phone_number"`
	NationalFormat string `json:"national_format"`
	CountryCode    string `json:"country_code"`
}

// LookupNationalFormat returns the national rendering of an E.164 number,
// or the number unchanged when the lookup has no national format.
func (c *Client) LookupNationalFormat(ctx context.Context, creds Credentials, number string) (string, error) {
	if !creds.Valid() {
		return number, ErrNoCredentials
	}
	endpoint := fmt.Sprintf("%s/PhoneNumbers/%s", c.lookupURL, url.PathEscape(number))

	var pn PhoneNumber
	if err := c.get(ctx, creds, endpoint, &pn); err != nil {
		return number, fmt.Errorf("looking up %s: %w", number, err)
	}
	if pn.NationalFormat == "" {
		return number, nil
	}
	return pn.NationalFormat, nil
}

// Account represents a carrier account resource.
type Account struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

// FetchAccount retrieves the account the credentials belong to. A
// successful call proves the auth token is valid for the account id.
func (c *Client) FetchAccount(ctx context.Context, creds Credentials) (*Account, error) {
	if !creds.Valid() {
		return nil, ErrNoCredentials
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", c.baseURL, url.PathEscape(creds.AccountSID))

	var acct Account
	if err := c.get(ctx, creds, endpoint, &acct); err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return &acct, nil
}

// ErrNoCredentials is returned when a call is attempted without a complete
// credential.
var ErrNoCredentials = errors.New("twilio: missing account sid or auth token")

// Error represents a carrier API error.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) get(ctx context.Context, creds Credentials, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, creds, result)
}

func (c *Client) post(ctx context.Context, creds Credentials, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, creds, result)
}

// do executes a request with basic authentication.
func (c *Client) do(req *http.Request, creds Credentials, result any) error {
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr Error
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("twilio error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
