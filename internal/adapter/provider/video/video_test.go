package video_test

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

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/video"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func TestSoraSubmitAndStatus(t *testing.T) {
	status := "queued"
	var mux http.ServeMux
	mux.HandleFunc("POST /videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sora-key", r.Header.Get("Authorization"))
		var req struct {
			Model   string `json:"model"`
			Prompt  string `json:"prompt"`
			Seconds string `json:"seconds"`
			Size    string `json:"size"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sora-2", req.Model)
		assert.Equal(t, "15", req.Seconds)
		assert.Equal(t, "720x1280", req.Size)
		_, _ = fmt.Fprint(w, `{"id": "video_123", "status": "queued"}`)
	})
	mux.HandleFunc("GET /videos/video_123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"id": "video_123", "status": %q}`, status)
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	s := video.NewSora(config.Config{SoraAPIKey: "sora-key", SoraBaseURL: srv.URL, VideoTimeout: 5 * time.Second})
	assert.Equal(t, domain.VideoServiceSora, s.Name())
	assert.True(t, s.NeedsWatermarkRemoval())

	taskID, err := s.Submit(context.Background(), domain.VideoSubmission{
		Prompt:          "a person pouring coffee, close-up",
		DurationSeconds: 15,
		AspectRatio:     "9:16",
	})
	require.NoError(t, err)
	assert.Equal(t, "video_123", taskID)

	task, err := s.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskPending, task.State)

	status = "in_progress"
	task, err = s.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskProcessing, task.State)

	status = "completed"
	task, err = s.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskCompleted, task.State)
	assert.Equal(t, srv.URL+"/videos/video_123/content", task.URL)

	// Content downloads need the bearer header.
	k, v := s.AuthHeader()
	assert.Equal(t, "Authorization", k)
	assert.Equal(t, "Bearer sora-key", v)
}

func TestSoraStatusFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"id": "video_9", "status": "failed", "error": {"message": "rejected by safety"}}`)
	}))
	defer srv.Close()

	s := video.NewSora(config.Config{SoraAPIKey: "k", SoraBaseURL: srv.URL, VideoTimeout: time.Second})
	task, err := s.Status(context.Background(), "video_9")
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskFailed, task.State)
	assert.Equal(t, "rejected by safety", task.Reason)
}

func TestSoraMissingKey(t *testing.T) {
	s := video.NewSora(config.Config{VideoTimeout: time.Second})
	_, err := s.Submit(context.Background(), domain.VideoSubmission{Prompt: "x"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestKlingSubmitAndStatus(t *testing.T) {
	taskStatus := "submitted"
	var mux http.ServeMux
	mux.HandleFunc("POST /v1/videos/text2video", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ModelName string `json:"model_name"`
			Duration  string `json:"duration"`
			Mode      string `json:"mode"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kling-v1-6", req.ModelName)
		assert.Equal(t, "10", req.Duration)
		assert.Equal(t, "pro", req.Mode)
		_, _ = fmt.Fprint(w, `{"code": 0, "data": {"task_id": "kl-1", "task_status": "submitted"}}`)
	})
	mux.HandleFunc("GET /v1/videos/text2video/kl-1", func(w http.ResponseWriter, _ *http.Request) {
		switch taskStatus {
		case "succeed":
			_, _ = fmt.Fprint(w, `{"code": 0, "data": {"task_id": "kl-1", "task_status": "succeed",
				"task_result": {"videos": [{"url": "https://cdn.kling.test/kl-1.mp4"}]}}}`)
		case "failed":
			_, _ = fmt.Fprint(w, `{"code": 0, "data": {"task_id": "kl-1", "task_status": "failed", "task_status_msg": "server overloaded"}}`)
		default:
			_, _ = fmt.Fprintf(w, `{"code": 0, "data": {"task_id": "kl-1", "task_status": %q}}`, taskStatus)
		}
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	k := video.NewKling(config.Config{KlingAPIKey: "kling-key", KlingBaseURL: srv.URL, VideoTimeout: 5 * time.Second})
	assert.Equal(t, domain.VideoServiceKling, k.Name())
	assert.False(t, k.NeedsWatermarkRemoval())

	taskID, err := k.Submit(context.Background(), domain.VideoSubmission{
		Prompt:          "a hand holding the bottle",
		DurationSeconds: 10,
		AspectRatio:     "9:16",
		GenerationMode:  domain.QualityBetter,
	})
	require.NoError(t, err)
	assert.Equal(t, "kl-1", taskID)

	task, err := k.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskPending, task.State)

	taskStatus = "processing"
	task, err = k.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskProcessing, task.State)

	taskStatus = "succeed"
	task, err = k.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskCompleted, task.State)
	assert.Equal(t, "https://cdn.kling.test/kl-1.mp4", task.URL)

	taskStatus = "failed"
	task, err = k.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoTaskFailed, task.State)
	assert.Equal(t, "server overloaded", task.Reason)
}

func TestKlingAPIErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"code": 1102, "message": "insufficient account balance"}`)
	}))
	defer srv.Close()

	k := video.NewKling(config.Config{KlingAPIKey: "k", KlingBaseURL: srv.URL, VideoTimeout: time.Second})
	_, err := k.Submit(context.Background(), domain.VideoSubmission{Prompt: "x", DurationSeconds: 10})
	require.ErrorIs(t, err, domain.ErrProviderPermanent)
	assert.Contains(t, err.Error(), "1102")
}
