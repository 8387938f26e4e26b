package script_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/script"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func scriptConfig(baseURL string) config.Config {
	return config.Config{
		ScriptAPIKey:   "test-key",
		ScriptBaseURL:  baseURL,
		ScriptModel:    "gpt-4o-mini",
		ScriptTimeout:  5 * time.Second,
		ScriptMaxInput: 6000,
	}
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func TestGenerateParsesClampsAndEnhances(t *testing.T) {
	spoken := strings.TrimSpace(strings.Repeat("buy this now ", 15)) // 45 words, over the cap
	payload := fmt.Sprintf(`{"spoken": %q, "overlays": [{"t_seconds": 20, "text": "Shop"}], "visual_prompt": "something abstract"}`, spoken)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "hard cap")

		// Models love wrapping JSON in markdown fences.
		_, _ = w.Write([]byte(chatReply("```json\n" + payload + "\n```")))
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	res, err := c.Generate(context.Background(), domain.ScriptRequest{
		IntentText:     "sell the blender",
		PresetKey:      "ugc_casual",
		Mode:           domain.ModeHookTest,
		VariantIndex:   0,
		VariantCount:   2,
		TargetDuration: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	assert.Len(t, strings.Fields(res.Spoken), 37)
	require.Len(t, res.Overlays, 1)
	assert.LessOrEqual(t, res.Overlays[0].TSeconds, float64(12))
	assert.GreaterOrEqual(t, domain.ScoreVisualPrompt(res.VisualPrompt), domain.EnhanceThreshold)
}

func TestGenerateUnauthorizedDoesNotRetry(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	_, err := c.Generate(context.Background(), domain.ScriptRequest{TargetDuration: 15})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	spoken := strings.TrimSpace(strings.Repeat("word ", 30))
	payload := fmt.Sprintf(`{"spoken": %q, "overlays": [], "visual_prompt": "a person holding the product, close-up, soft lighting, home background, vertical 9:16"}`, spoken)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(chatReply(payload)))
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	res, err := c.Generate(context.Background(), domain.ScriptRequest{TargetDuration: 15})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(2))
	assert.Len(t, strings.Fields(res.Spoken), 30)
}

func TestGenerateRefusalIsContentPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatReply("I cannot help with that; it violates our content policy.")))
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	_, err := c.Generate(context.Background(), domain.ScriptRequest{TargetDuration: 15})
	require.ErrorIs(t, err, domain.ErrContentPolicy)
}

func TestGenerateRejectsNonJSONContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatReply("here is your script: buy now!")))
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	_, err := c.Generate(context.Background(), domain.ScriptRequest{TargetDuration: 15})
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
}

func TestGenerateMissingKey(t *testing.T) {
	c := script.New(config.Config{ScriptTimeout: time.Second})
	_, err := c.Generate(context.Background(), domain.ScriptRequest{TargetDuration: 15})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestImagePrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(chatReply(`{"prompt": "A centered product shot on marble, softbox lighting, vertical"}`)))
	}))
	defer srv.Close()

	c := script.New(scriptConfig(srv.URL))
	prompt, err := c.ImagePrompt(context.Background(), "sell the blender", "clean_product", domain.ModeAngleTest, 0, 2)
	require.NoError(t, err)
	assert.Contains(t, prompt, "marble")
}
