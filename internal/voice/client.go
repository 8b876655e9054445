package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// ErrUnavailable marks synthesis failures the call flow should absorb by
// continuing text-only (bad key, rate limits, service down).
var ErrUnavailable = errors.New("voice synthesis unavailable")

// Config controls how the ElevenLabs client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	VoiceID    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client speaks the ElevenLabs text-to-speech REST shape: POST text + voice,
// receive MPEG audio bytes.
type Client struct {
	baseURL    string
	apiKey     string
	voiceID    string
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("voice: API key is required")
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		return nil, errors.New("voice: voice id is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		httpClient: httpClient,
	}, nil
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesizeRequest{Text: text, ModelID: "eleven_turbo_v2"})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio response", ErrUnavailable)
	}
	return audio, nil
}
