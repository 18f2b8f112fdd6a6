package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultVoiceID is used when the client does not pick a voice.
const DefaultVoiceID = "9BWtsMINqrJLrRacOk9x"

var ErrTTSUnavailable = errors.New("tts provider unavailable")

// TTSClient calls the ElevenLabs text-to-speech REST API. There is no
// maintained Go SDK for the service, so this is a plain HTTP client.
type TTSClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewTTSFromEnv returns a configured client or nil when
// ELEVEN_LABS_API_KEY is missing.
func NewTTSFromEnv() *TTSClient {
	key := os.Getenv("ELEVEN_LABS_API_KEY")
	if key == "" {
		return nil
	}
	base := os.Getenv("ELEVEN_LABS_BASE_URL")
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	return &TTSClient{
		apiKey:  key,
		baseURL: base,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type ttsError struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize converts text to MP3 bytes using the given voice.
func (t *TTSClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	body, _ := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       "eleven_monolingual_v1",
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/text-to-speech/"+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTTSUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e ttsError
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &e) == nil && e.Detail.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrTTSUnavailable, e.Detail.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrTTSUnavailable, resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: no audio data received", ErrTTSUnavailable)
	}
	return audio, nil
}
