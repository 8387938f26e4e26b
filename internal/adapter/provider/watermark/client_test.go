package watermark_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/watermark"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestRemove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/remove", r.URL.Path)
		var req struct {
			VideoURL string `json:"video_url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mem://raw/c1.mp4", req.VideoURL)
		_, _ = fmt.Fprint(w, `{"output_url": "http://wm/out/c1.mp4"}`)
	}))
	defer srv.Close()

	c := watermark.New(config.Config{WatermarkBaseURL: srv.URL, WatermarkTimeout: 5 * time.Second})
	url, err := c.Remove(context.Background(), "mem://raw/c1.mp4")
	require.NoError(t, err)
	assert.Equal(t, "http://wm/out/c1.mp4", url)
}

func TestRemoveServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"error": "could not locate watermark"}`)
	}))
	defer srv.Close()

	c := watermark.New(config.Config{WatermarkBaseURL: srv.URL, WatermarkTimeout: time.Second})
	_, err := c.Remove(context.Background(), "mem://raw/c1.mp4")
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
	assert.Contains(t, err.Error(), "could not locate watermark")
}

func TestRemoveUpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := watermark.New(config.Config{WatermarkBaseURL: srv.URL, WatermarkTimeout: time.Second})
	_, err := c.Remove(context.Background(), "mem://raw/c1.mp4")
	require.ErrorIs(t, err, domain.ErrTransient)
}
