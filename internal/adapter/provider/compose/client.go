// Package compose calls the compositor service that assembles the final
// clip from raw video, voiceover and timed overlays. The compositor is
// async; Compose submits then polls inside the caller's deadline.
package compose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.ComposeAdapter.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.ComposeTimeout)}
}

type composeRequest struct {
	VideoURL       string               `json:"video_url"`
	AudioURL       string               `json:"audio_url"`
	Overlays       []domain.Overlay     `json:"overlays"`
	Config         domain.OverlayConfig `json:"config"`
	TargetDuration int                  `json:"target_duration_s"`
}

type composeResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url"`
	Error     string `json:"error"`
}

// Compose submits an assembly job and polls until it finishes or the
// context expires. Compositor renders are quick relative to video
// generation, so polling inside the job budget is safe.
func (c *Client) Compose(ctx domain.Context, req domain.ComposeRequest) (string, error) {
	payload, err := json.Marshal(composeRequest{
		VideoURL:       req.VideoURL,
		AudioURL:       req.AudioURL,
		Overlays:       req.Overlays,
		Config:         req.Config,
		TargetDuration: req.TargetDuration,
	})
	if err != nil {
		return "", fmt.Errorf("op=compose.marshal: %w", err)
	}

	out, err := c.call(ctx, http.MethodPost, "/v1/compose", payload)
	if err != nil {
		return "", err
	}
	if out.Status == "completed" && out.OutputURL != "" {
		return out.OutputURL, nil
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: compose returned no job id", domain.ErrProviderPermanent)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: compose: %v", domain.ErrTransient, ctx.Err())
		case <-ticker.C:
		}
		out, err = c.call(ctx, http.MethodGet, "/v1/compose/"+out.JobID, nil)
		if err != nil {
			return "", err
		}
		switch out.Status {
		case "completed":
			if out.OutputURL == "" {
				return "", fmt.Errorf("%w: compose completed without output", domain.ErrProviderPermanent)
			}
			return out.OutputURL, nil
		case "failed":
			msg := out.Error
			if msg == "" {
				msg = "assembly failed"
			}
			return "", fmt.Errorf("%w: compose: %s", domain.ErrProviderPermanent, msg)
		}
	}
}

func (c *Client) call(ctx domain.Context, method, path string, body []byte) (composeResponse, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ComposeBaseURL+path, rd)
	if err != nil {
		return composeResponse{}, fmt.Errorf("op=compose.request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ComposeAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ComposeAPIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return composeResponse{}, fmt.Errorf("%w: compose: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return composeResponse{}, httpx.StatusError("compose", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var out composeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return composeResponse{}, fmt.Errorf("%w: compose decode: %v", domain.ErrProviderPermanent, err)
	}
	return out, nil
}
