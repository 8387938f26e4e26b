// Package script implements the script provider on an OpenAI-compatible
// chat completions API. One call produces the spoken script, the timed
// on-screen overlays and the visual prompt for a single variant.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Client implements domain.ScriptAdapter.
type Client struct {
	cfg config.Config
	hc  *http.Client
	enc *tiktoken.Tiktoken
}

// New constructs a script client. Token encoding load failures are logged
// and disable prompt budgeting rather than failing construction.
func New(cfg config.Config) *Client {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken encoding unavailable; prompt budgeting disabled", slog.Any("error", err))
		enc = nil
	}
	return &Client{cfg: cfg, hc: httpx.NewClient(cfg.ScriptTimeout), enc: enc}
}

const systemPrompt = `You write scripts for short vertical video ads. Respond with strict JSON:
{"spoken": string, "overlays": [{"t_seconds": number, "text": string}], "visual_prompt": string}.
The spoken script must fit the word budget you are given. Overlays are on-screen captions.
The visual prompt describes subject, action, camera, lighting, setting and vertical 9:16 framing.`

const imageSystemPrompt = `You write detailed prompts for still ad images. Respond with strict JSON:
{"prompt": string}. Describe subject, composition, lighting, setting, style and aspect ratio.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type scriptJSON struct {
	Spoken       string           `json:"spoken"`
	Overlays     []domain.Overlay `json:"overlays"`
	VisualPrompt string           `json:"visual_prompt"`
}

// Generate produces one variant's script, validated and clamped to the
// target duration's budgets. Visual prompts scoring below the enhancement
// threshold get the missing elements appended in place.
func (c *Client) Generate(ctx domain.Context, req domain.ScriptRequest) (domain.ScriptResult, error) {
	budget := domain.BudgetForDuration(req.TargetDuration)
	user := fmt.Sprintf(
		"Intent: %s\nPreset: %s\nMode: %s\nVariant %d of %d. Target duration %d seconds.\n"+
			"Spoken word budget: %d recommended, %d hard cap, %d minimum.\n"+
			"At most %d overlays, each shown %.1f-%.1f seconds, last one starting no later than %d seconds in.",
		req.IntentText, req.PresetKey, req.Mode, req.VariantIndex+1, req.VariantCount, req.TargetDuration,
		budget.Recommended, budget.HardCap, budget.Minimum,
		domain.MaxOverlays, domain.MinOverlayDisplayS, domain.MaxOverlayDisplayS,
		req.TargetDuration-int(domain.OverlayLastStartGapS))
	if req.ResearchCtx != "" {
		user += "\nTrend research:\n" + c.truncateToBudget(req.ResearchCtx)
	}

	content, err := c.chatJSON(ctx, systemPrompt, user)
	if err != nil {
		return domain.ScriptResult{}, err
	}
	var out scriptJSON
	if err := json.Unmarshal([]byte(cleanJSON(content)), &out); err != nil {
		return domain.ScriptResult{}, fmt.Errorf("%w: script response not JSON: %v", domain.ErrProviderPermanent, err)
	}
	if strings.TrimSpace(out.Spoken) == "" || strings.TrimSpace(out.VisualPrompt) == "" {
		return domain.ScriptResult{}, fmt.Errorf("%w: script response missing fields", domain.ErrProviderPermanent)
	}

	res := domain.ScriptResult{
		Spoken:       domain.ClampSpokenScript(out.Spoken, req.TargetDuration),
		Overlays:     domain.ClampOverlays(out.Overlays, req.TargetDuration),
		VisualPrompt: domain.EnhanceVisualPrompt(out.VisualPrompt),
	}
	if err := domain.ValidateSpokenScript(res.Spoken, req.TargetDuration); err != nil {
		return domain.ScriptResult{}, err
	}
	return res, nil
}

// ImagePrompt produces a detailed image prompt for one still variant.
func (c *Client) ImagePrompt(ctx domain.Context, intent, preset, mode string, i, n int) (string, error) {
	user := fmt.Sprintf("Intent: %s\nPreset: %s\nMode: %s\nVariant %d of %d. Vertical ad image.",
		intent, preset, mode, i+1, n)
	content, err := c.chatJSON(ctx, imageSystemPrompt, user)
	if err != nil {
		return "", err
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &out); err != nil {
		return "", fmt.Errorf("%w: image prompt response not JSON: %v", domain.ErrProviderPermanent, err)
	}
	if strings.TrimSpace(out.Prompt) == "" {
		return "", fmt.Errorf("%w: empty image prompt", domain.ErrProviderPermanent)
	}
	return out.Prompt, nil
}

func (c *Client) chatJSON(ctx domain.Context, system, user string) (string, error) {
	if c.cfg.ScriptAPIKey == "" {
		return "", fmt.Errorf("%w: SCRIPT_API_KEY missing", domain.ErrUnauthorized)
	}
	body := chatRequest{
		Model: c.cfg.ScriptModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      800,
		Temperature:    0.8,
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("op=script.marshal: %w", err)
	}

	var content string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.ScriptBaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.ScriptAPIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%w: script: %v", domain.ErrTransient, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			serr := httpx.StatusError("script", resp.StatusCode, httpx.Snippet(resp.Body, 512))
			if !domain.Retryable(serr) {
				return backoff.Permanent(serr)
			}
			return serr
		}
		var cr chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: script decode: %v", domain.ErrProviderPermanent, err))
		}
		if cr.Error != nil {
			serr := fmt.Errorf("%w: script: %s", domain.ErrProviderPermanent, cr.Error.Message)
			if httpx.IsPolicyRefusal(cr.Error.Message) {
				serr = fmt.Errorf("%w: script: %s", domain.ErrContentPolicy, cr.Error.Message)
			}
			return backoff.Permanent(serr)
		}
		if len(cr.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: script returned no choices", domain.ErrProviderPermanent))
		}
		content = cr.Choices[0].Message.Content
		if httpx.IsPolicyRefusal(content) {
			return backoff.Permanent(fmt.Errorf("%w: script refused", domain.ErrContentPolicy))
		}
		return nil
	}
	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = c.cfg.ScriptTimeout
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// truncateToBudget trims research context so the prompt stays inside the
// configured token budget. Without an encoding it falls back to runes.
func (c *Client) truncateToBudget(s string) string {
	max := c.cfg.ScriptMaxInput
	if max <= 0 {
		return s
	}
	if c.enc == nil {
		r := []rune(s)
		if len(r) > max*4 {
			return string(r[:max*4])
		}
		return s
	}
	toks := c.enc.Encode(s, nil, nil)
	if len(toks) <= max {
		return s
	}
	return c.enc.Decode(toks[:max])
}

// cleanJSON strips markdown fences some models wrap around JSON output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
