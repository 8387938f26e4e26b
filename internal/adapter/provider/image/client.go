// Package image generates still ad images on an OpenAI-compatible
// images API.
package image

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.ImageAdapter.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.ImageTimeout)}
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// sizeFor maps an aspect ratio to the provider's fixed size tiers.
func sizeFor(aspect string) string {
	switch aspect {
	case "1:1":
		return "1024x1024"
	case "16:9":
		return "1536x1024"
	default:
		return "1024x1536"
	}
}

// Generate renders one image and returns its bytes. The imageType steers
// style hints appended to the prompt.
func (c *Client) Generate(ctx domain.Context, prompt, imageType, aspect string) ([]byte, error) {
	if c.cfg.ImageAPIKey == "" {
		return nil, fmt.Errorf("%w: IMAGE_API_KEY missing", domain.ErrUnauthorized)
	}
	full := prompt
	switch imageType {
	case "lifestyle":
		full += " Natural lifestyle photography, candid feel."
	case "studio":
		full += " Clean studio product shot, controlled lighting."
	}

	payload, err := json.Marshal(imageRequest{
		Model:  c.cfg.ImageModel,
		Prompt: full,
		Size:   sizeFor(aspect),
		N:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("op=image.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.ImageBaseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("op=image.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ImageAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: image: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, httpx.StatusError("image", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var out imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: image decode: %v", domain.ErrProviderPermanent, err)
	}
	if out.Error != nil {
		if httpx.IsPolicyRefusal(out.Error.Message) {
			return nil, fmt.Errorf("%w: image: %s", domain.ErrContentPolicy, out.Error.Message)
		}
		return nil, fmt.Errorf("%w: image: %s", domain.ErrProviderPermanent, out.Error.Message)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: image returned no data", domain.ErrProviderPermanent)
	}
	raw, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: image base64: %v", domain.ErrProviderPermanent, err)
	}
	return raw, nil
}
