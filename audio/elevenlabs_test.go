package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(baseURL string) *TTSClient {
	return &TTSClient{apiKey: "key", baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func TestSynthesize_ok(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-data"))
	}))
	defer srv.Close()

	data, err := testClient(srv.URL).Synthesize(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "mp3-data" {
		t.Fatalf("unexpected audio: %q", data)
	}
	if gotPath != "/v1/text-to-speech/"+DefaultVoiceID {
		t.Fatalf("default voice not used, path=%s", gotPath)
	}
	if gotKey != "key" {
		t.Fatalf("api key header missing")
	}
}

func TestSynthesize_apiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Synthesize(context.Background(), "hello", "v1")
	if !errors.Is(err, ErrTTSUnavailable) {
		t.Fatalf("expected ErrTTSUnavailable, got %v", err)
	}
}

func TestSynthesize_emptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Synthesize(context.Background(), "hello", "v1")
	if !errors.Is(err, ErrTTSUnavailable) {
		t.Fatalf("expected ErrTTSUnavailable on empty body, got %v", err)
	}
}

func TestNewTTSFromEnv_unconfigured(t *testing.T) {
	t.Setenv("ELEVEN_LABS_API_KEY", "")
	if c := NewTTSFromEnv(); c != nil {
		t.Fatalf("expected nil client without api key")
	}
}
