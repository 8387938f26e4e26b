// Package watermark calls the internal watermark removal service.
package watermark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.WatermarkRemover.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.WatermarkTimeout)}
}

type removeRequest struct {
	VideoURL string `json:"video_url"`
}

type removeResponse struct {
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

// Remove strips the provider watermark and returns the URL of the clean
// video. The service is synchronous within its timeout.
func (c *Client) Remove(ctx domain.Context, videoURL string) (string, error) {
	payload, err := json.Marshal(removeRequest{VideoURL: videoURL})
	if err != nil {
		return "", fmt.Errorf("op=watermark.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.WatermarkBaseURL+"/v1/remove", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("op=watermark.request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: watermark: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", httpx.StatusError("watermark", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var out removeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: watermark decode: %v", domain.ErrProviderPermanent, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: watermark: %s", domain.ErrProviderPermanent, out.Error)
	}
	if out.OutputURL == "" {
		return "", fmt.Errorf("%w: watermark returned no output", domain.ErrProviderPermanent)
	}
	return out.OutputURL, nil
}
