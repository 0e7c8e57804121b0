package transcribe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatsonTranscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/recording.wav", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("RIFFfakeaudio"))
	})
	mux.HandleFunc("/v1/recognize", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "u" || pass != "p" {
			t.Errorf("basic auth = %q/%q", user, pass)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := r.URL.Query().Get("model"); got != DefaultModel {
			t.Errorf("model = %q", got)
		}
		if got := r.URL.Query().Get("smart_formatting"); got != "true" {
			t.Errorf("smart_formatting = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "RIFFfakeaudio" {
			t.Errorf("audio body = %q", body)
		}
		w.Write([]byte(`{"results":[
			{"alternatives":[{"transcript":"hi it's me %HESITATION call me back "}],"final":true},
			{"alternatives":[{"transcript":"thanks "}],"final":true},
			{"alternatives":[],"final":true}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := NewWatson(WatsonConfig{BaseURL: srv.URL, Username: "u", Password: "p"}, testLogger())
	got, err := w.Transcribe(context.Background(), srv.URL+"/recording.wav")
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	want := "hi it's me... call me back thanks "
	if got != want {
		t.Errorf("Transcribe() = %q, want %q", got, want)
	}
}

func TestWatsonRecognizeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.wav", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("x")) })
	mux.HandleFunc("/v1/recognize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":401,"error":"Unauthorized"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := NewWatson(WatsonConfig{BaseURL: srv.URL, Username: "u", Password: "p"}, testLogger())
	if _, err := w.Transcribe(context.Background(), srv.URL+"/a.wav"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatsonRecordingMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	w := NewWatson(WatsonConfig{BaseURL: srv.URL, Username: "u", Password: "p"}, testLogger())
	if _, err := w.Transcribe(context.Background(), srv.URL+"/gone.wav"); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

func TestWatsonNotConfigured(t *testing.T) {
	w := NewWatson(WatsonConfig{BaseURL: "http://unused"}, testLogger())
	if _, err := w.Transcribe(context.Background(), "http://unused/a.wav"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestCleanHesitations(t *testing.T) {
	if got := CleanHesitations("well %HESITATION I think %HESITATION yes"); got != "well... I think... yes" {
		t.Errorf("CleanHesitations() = %q", got)
	}
	if got := CleanHesitations(""); got != "" {
		t.Errorf("CleanHesitations(empty) = %q", got)
	}
}

func TestNormalizeCarrierTranscript(t *testing.T) {
	if got := NormalizeCarrierTranscript("first part \n\nsecond part"); got != "first part..second part" {
		t.Errorf("NormalizeCarrierTranscript() = %q", got)
	}
}
