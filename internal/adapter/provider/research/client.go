// Package research calls the trend research service: a social media
// scraper for reference videos plus an LLM analysis distilling them into
// script context. Research is best-effort; callers treat failures as
// non-fatal.
package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.ResearchAdapter.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

func New(cfg config.Config) *Client {
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.ResearchTimeout)}
}

type searchRequest struct {
	Query    string `json:"query"`
	MinViews int64  `json:"min_views"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
}

type searchResponse struct {
	Videos []struct {
		URL      string `json:"url"`
		Title    string `json:"title"`
		Views    int64  `json:"views"`
		Category string `json:"category"`
	} `json:"videos"`
}

type analyzeRequest struct {
	Query  string          `json:"query"`
	Videos []analyzedVideo `json:"videos"`
}

type analyzedVideo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Views int64  `json:"views"`
}

type analyzeResponse struct {
	Summary string `json:"summary"`
}

// Search scrapes trending reference videos matching the query.
func (c *Client) Search(ctx domain.Context, query string, minViews int64, category string) ([]domain.ResearchVideo, error) {
	out, err := c.post(ctx, "/v1/search", searchRequest{
		Query:    query,
		MinViews: minViews,
		Category: category,
		Limit:    10,
	})
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(out, &sr); err != nil {
		return nil, fmt.Errorf("%w: research search decode: %v", domain.ErrProviderPermanent, err)
	}
	videos := make([]domain.ResearchVideo, 0, len(sr.Videos))
	for _, v := range sr.Videos {
		videos = append(videos, domain.ResearchVideo{
			URL: v.URL, Title: v.Title, Views: v.Views, Category: v.Category,
		})
	}
	return videos, nil
}

// Analyze distils scraped videos into a short trend summary.
func (c *Client) Analyze(ctx domain.Context, videos []domain.ResearchVideo, query string) (string, error) {
	req := analyzeRequest{Query: query}
	for _, v := range videos {
		req.Videos = append(req.Videos, analyzedVideo{URL: v.URL, Title: v.Title, Views: v.Views})
	}
	out, err := c.post(ctx, "/v1/analyze", req)
	if err != nil {
		return "", err
	}
	var ar analyzeResponse
	if err := json.Unmarshal(out, &ar); err != nil {
		return "", fmt.Errorf("%w: research analyze decode: %v", domain.ErrProviderPermanent, err)
	}
	if strings.TrimSpace(ar.Summary) == "" {
		return "", fmt.Errorf("%w: research returned empty summary", domain.ErrProviderPermanent)
	}
	return ar.Summary, nil
}

func (c *Client) post(ctx domain.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("op=research.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ResearchBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("op=research.request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ResearchAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ResearchAPIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: research: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, httpx.StatusError("research", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	raw := httpx.Snippet(resp.Body, 1<<20)
	return []byte(raw), nil
}
