// Package video implements the async text-to-video providers. Both share
// the same contract: Submit returns a task id once, Status is polled until
// the task is terminal. Retried jobs reuse the stored task id.
package video

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Sora implements domain.VideoAdapter against the OpenAI video API. Its
// output carries a watermark that must be stripped before assembly.
type Sora struct {
	cfg config.Config
	hc  *http.Client
}

func NewSora(cfg config.Config) *Sora {
	return &Sora{cfg: cfg, hc: httpx.NewClient(cfg.VideoTimeout)}
}

func (s *Sora) Name() string                { return domain.VideoServiceSora }
func (s *Sora) NeedsWatermarkRemoval() bool { return true }

type soraSubmitRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Seconds string `json:"seconds"`
	Size    string `json:"size"`
}

type soraTask struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit opens a generation task and returns its id without waiting.
func (s *Sora) Submit(ctx domain.Context, sub domain.VideoSubmission) (string, error) {
	if s.cfg.SoraAPIKey == "" {
		return "", fmt.Errorf("%w: SORA_API_KEY missing", domain.ErrUnauthorized)
	}
	payload, err := json.Marshal(soraSubmitRequest{
		Model:   "sora-2",
		Prompt:  sub.Prompt,
		Seconds: strconv.Itoa(sub.DurationSeconds),
		Size:    "720x1280",
	})
	if err != nil {
		return "", fmt.Errorf("op=sora.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SoraBaseURL+"/videos", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("op=sora.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SoraAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: sora submit: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", httpx.StatusError("sora", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var task soraTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return "", fmt.Errorf("%w: sora submit decode: %v", domain.ErrProviderPermanent, err)
	}
	if task.ID == "" {
		return "", fmt.Errorf("%w: sora returned no task id", domain.ErrProviderPermanent)
	}
	return task.ID, nil
}

// Status reports the task snapshot. Completed tasks expose their content
// through the download endpoint rather than a returned URL.
func (s *Sora) Status(ctx domain.Context, taskID string) (domain.VideoTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.SoraBaseURL+"/videos/"+taskID, nil)
	if err != nil {
		return domain.VideoTask{}, fmt.Errorf("op=sora.status: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SoraAPIKey)

	resp, err := s.hc.Do(req)
	if err != nil {
		return domain.VideoTask{}, fmt.Errorf("%w: sora status: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.VideoTask{}, httpx.StatusError("sora", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var task soraTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return domain.VideoTask{}, fmt.Errorf("%w: sora status decode: %v", domain.ErrProviderPermanent, err)
	}

	switch task.Status {
	case "completed":
		return domain.VideoTask{
			State: domain.VideoTaskCompleted,
			URL:   s.cfg.SoraBaseURL + "/videos/" + taskID + "/content",
		}, nil
	case "failed":
		reason := "generation failed"
		if task.Error != nil && task.Error.Message != "" {
			reason = task.Error.Message
		}
		return domain.VideoTask{State: domain.VideoTaskFailed, Reason: reason}, nil
	case "queued":
		return domain.VideoTask{State: domain.VideoTaskPending}, nil
	default:
		return domain.VideoTask{State: domain.VideoTaskProcessing}, nil
	}
}

// AuthHeader exposes the bearer header download requests need, since the
// content URL returned by Status is authenticated.
func (s *Sora) AuthHeader() (string, string) {
	return "Authorization", "Bearer " + s.cfg.SoraAPIKey
}
