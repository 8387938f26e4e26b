package voice_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/voice"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func voiceConfig(baseURL string) config.Config {
	return config.Config{
		VoiceAPIKey:  "xi-key",
		VoiceBaseURL: baseURL,
		VoiceID:      "voice-a",
		VoiceTimeout: 5 * time.Second,
	}
}

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-a", r.URL.Path)
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		var req struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eleven_turbo_v2", req.ModelID)
		assert.Equal(t, "five words of spoken script", req.Text)
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	c := voice.New(voiceConfig(srv.URL))
	res, err := c.Synthesize(context.Background(), "five words of spoken script")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), res.Audio)
	assert.InDelta(t, 2.0, res.EstimatedDurationS, 0.001) // 5 words at 2.5 w/s
}

func TestSynthesizeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := voice.New(voiceConfig(srv.URL))
	_, err := c.Synthesize(context.Background(), "some words here please now")
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestSynthesizeEmptyAudioIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	c := voice.New(voiceConfig(srv.URL))
	_, err := c.Synthesize(context.Background(), "some words here please now")
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
}

func TestSynthesizeInputValidation(t *testing.T) {
	c := voice.New(voiceConfig("http://unused"))
	_, err := c.Synthesize(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	c = voice.New(config.Config{VoiceTimeout: time.Second})
	_, err = c.Synthesize(context.Background(), "hello there")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
