package compose_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/compose"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestComposeSubmitsAndPolls(t *testing.T) {
	var polls int32
	var mux http.ServeMux
	mux.HandleFunc("POST /v1/compose", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VideoURL       string           `json:"video_url"`
			AudioURL       string           `json:"audio_url"`
			Overlays       []domain.Overlay `json:"overlays"`
			TargetDuration int              `json:"target_duration_s"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mem://raw/c1.mp4", req.VideoURL)
		assert.Equal(t, "mem://voice/c1.mp3", req.AudioURL)
		assert.Len(t, req.Overlays, 1)
		assert.Equal(t, 15, req.TargetDuration)
		_, _ = fmt.Fprint(w, `{"job_id": "cj-1", "status": "processing"}`)
	})
	mux.HandleFunc("GET /v1/compose/cj-1", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&polls, 1) == 1 {
			_, _ = fmt.Fprint(w, `{"job_id": "cj-1", "status": "processing"}`)
			return
		}
		_, _ = fmt.Fprint(w, `{"job_id": "cj-1", "status": "completed", "output_url": "http://compositor/out/cj-1.mp4"}`)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	c := compose.New(config.Config{ComposeBaseURL: srv.URL, ComposeTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url, err := c.Compose(ctx, domain.ComposeRequest{
		VideoURL:       "mem://raw/c1.mp4",
		AudioURL:       "mem://voice/c1.mp3",
		Overlays:       []domain.Overlay{{TSeconds: 1, Text: "Hook"}},
		Config:         domain.ResolvePresetOverlay("ugc_casual"),
		TargetDuration: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://compositor/out/cj-1.mp4", url)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestComposeImmediateCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id": "cj-2", "status": "completed", "output_url": "http://compositor/out/cj-2.mp4"}`)
	}))
	defer srv.Close()

	c := compose.New(config.Config{ComposeBaseURL: srv.URL, ComposeTimeout: time.Second})
	url, err := c.Compose(context.Background(), domain.ComposeRequest{VideoURL: "v", AudioURL: "a"})
	require.NoError(t, err)
	assert.Equal(t, "http://compositor/out/cj-2.mp4", url)
}

func TestComposeFailure(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("POST /v1/compose", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id": "cj-3", "status": "processing"}`)
	})
	mux.HandleFunc("GET /v1/compose/cj-3", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id": "cj-3", "status": "failed", "error": "audio longer than video"}`)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	c := compose.New(config.Config{ComposeBaseURL: srv.URL, ComposeTimeout: 5 * time.Second})
	_, err := c.Compose(context.Background(), domain.ComposeRequest{VideoURL: "v", AudioURL: "a"})
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
	assert.Contains(t, err.Error(), "audio longer than video")
}

func TestComposeDeadlineIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id": "cj-4", "status": "processing"}`)
	}))
	defer srv.Close()

	c := compose.New(config.Config{ComposeBaseURL: srv.URL, ComposeTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Compose(ctx, domain.ComposeRequest{VideoURL: "v", AudioURL: "a"})
	require.ErrorIs(t, err, domain.ErrTransient)
}
