package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/storytailor/storytailor/media"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsNarrator requests raw 24kHz PCM so narration can be wrapped in WAV
// and measured without decoding MP3.
type ElevenLabsNarrator struct {
	APIKey       string
	DefaultVoice string
	ModelID      string
	BaseURL      string
	HTTPClient   *http.Client
	limiter      *rate.Limiter
}

func NewElevenLabsNarrator(apiKey, voiceID string) *ElevenLabsNarrator {
	return &ElevenLabsNarrator{
		APIKey:       apiKey,
		DefaultVoice: voiceID,
		ModelID:      "eleven_multilingual_v2",
		BaseURL:      elevenLabsBaseURL,
		HTTPClient:   &http.Client{Timeout: 2 * time.Minute},
		limiter:      rate.NewLimiter(rate.Limit(2), 2),
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (n *ElevenLabsNarrator) Narrate(ctx context.Context, text, voice string) (*Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ProviderError{Provider: "elevenlabs", Op: "narrate", Err: errors.New("empty text")}
	}
	if voice == "" {
		voice = n.DefaultVoice
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: n.ModelID})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_24000",
		strings.TrimRight(n.BaseURL, "/"), url.PathEscape(voice))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", n.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Op: "narrate", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{
			Provider: "elevenlabs",
			Op:       "narrate",
			Err:      fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: "elevenlabs", Op: "narrate", Err: err}
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return &Speech{PCM: pcm, Format: media.DefaultPCM}, nil
}
