// Package voice implements text-to-speech on an ElevenLabs-style API.
package voice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.VoiceAdapter.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.VoiceTimeout)}
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

// Synthesize renders the spoken script to MP3 bytes. Duration is estimated
// from word count at the pacing assumed by the timing budgets, since the
// API does not report audio length.
func (c *Client) Synthesize(ctx domain.Context, spoken string) (domain.VoiceResult, error) {
	if c.cfg.VoiceAPIKey == "" {
		return domain.VoiceResult{}, fmt.Errorf("%w: VOICE_API_KEY missing", domain.ErrUnauthorized)
	}
	if strings.TrimSpace(spoken) == "" {
		return domain.VoiceResult{}, fmt.Errorf("%w: empty script", domain.ErrInvalidArgument)
	}

	payload, err := json.Marshal(ttsRequest{
		Text:          spoken,
		ModelID:       "eleven_turbo_v2",
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return domain.VoiceResult{}, fmt.Errorf("op=voice.marshal: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.cfg.VoiceBaseURL, c.cfg.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return domain.VoiceResult{}, fmt.Errorf("op=voice.request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.VoiceAPIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.hc.Do(req)
	if err != nil {
		return domain.VoiceResult{}, fmt.Errorf("%w: voice: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.VoiceResult{}, httpx.StatusError("voice", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.VoiceResult{}, fmt.Errorf("%w: voice read: %v", domain.ErrTransient, err)
	}
	if len(audio) == 0 {
		return domain.VoiceResult{}, fmt.Errorf("%w: voice returned empty audio", domain.ErrProviderPermanent)
	}

	words := len(strings.Fields(spoken))
	return domain.VoiceResult{
		Audio:              audio,
		EstimatedDurationS: float64(words) / domain.WordsPerSecond,
	}, nil
}
