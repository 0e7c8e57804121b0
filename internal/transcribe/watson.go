// Package transcribe turns recorded voicemail audio into text using a
// speech-to-text service independent of the carrier.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultModel is tuned for 8kHz telephone audio.
	DefaultModel = "en-US_NarrowbandModel"

	hesitationMarker = " %HESITATION"
	audioContentType = "audio/wav"
)

// ErrNotConfigured is returned when no service credentials are set.
var ErrNotConfigured = errors.New("transcribe: service credentials not configured")

// Watson is a client for the Watson speech-to-text recognize API. The
// recording is streamed from its URL straight into the recognize request
// without buffering.
type Watson struct {
	baseURL    string
	username   string
	password   string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// WatsonConfig configures a Watson client.
type WatsonConfig struct {
	BaseURL    string
	Username   string
	Password   string
	Model      string
	HTTPClient *http.Client
}

// NewWatson creates a Watson client. The HTTP client has no overall timeout
// since recognition time grows with audio length; callers bound the call
// through ctx.
func NewWatson(cfg WatsonConfig, logger *slog.Logger) *Watson {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Watson{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		model:      model,
		httpClient: httpClient,
		logger:     logger.With("component", "transcribe"),
	}
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
		Final bool `json:"final"`
	} `json:"results"`
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Transcribe downloads the recording at recordingURL and returns the full
// recognized text with hesitation markers rendered as ellipses.
func (w *Watson) Transcribe(ctx context.Context, recordingURL string) (string, error) {
	if w.username == "" || w.password == "" {
		return "", ErrNotConfigured
	}
	start := time.Now()

	audioReq, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return "", fmt.Errorf("building recording request: %w", err)
	}
	audio, err := w.httpClient.Do(audioReq)
	if err != nil {
		return "", fmt.Errorf("downloading recording: %w", err)
	}
	defer audio.Body.Close()
	if audio.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading recording: status %d", audio.StatusCode)
	}

	q := url.Values{}
	q.Set("model", w.model)
	q.Set("smart_formatting", "true")
	endpoint := w.baseURL + "/v1/recognize?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, audio.Body)
	if err != nil {
		return "", fmt.Errorf("building recognize request: %w", err)
	}
	req.SetBasicAuth(w.username, w.password)
	req.Header.Set("Content-Type", audioContentType)
	req.Header.Set("Accept", "application/json")
	if audio.ContentLength > 0 {
		req.ContentLength = audio.ContentLength
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognize request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading recognize response: %w", err)
	}

	var rr recognizeResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", fmt.Errorf("parsing recognize response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || rr.Error != "" {
		return "", fmt.Errorf("recognize failed: status %d: %s", resp.StatusCode, rr.Error)
	}

	var b strings.Builder
	for _, res := range rr.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		b.WriteString(res.Alternatives[0].Transcript)
	}
	text := CleanHesitations(b.String())

	w.logger.Debug("recording transcribed", "url", recordingURL, "chars", len(text), "duration", time.Since(start))
	return text, nil
}

// CleanHesitations replaces the provider's hesitation marker with an
// ellipsis.
func CleanHesitations(s string) string {
	return strings.ReplaceAll(s, hesitationMarker, "...")
}

// NormalizeCarrierTranscript rewrites the paragraph breaks in a
// carrier-supplied transcript into a compact separator.
func NormalizeCarrierTranscript(s string) string {
	return strings.ReplaceAll(s, " \n\n", "..")
}
