package video

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/ai-ad-generator/internal/adapter/provider/httpx"
	"github.com/fairyhunter13/ai-ad-generator/internal/config"
	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

// Kling implements domain.VideoAdapter against the Kling text-to-video
// API. Its output is delivered clean, so no watermark pass is needed.
type Kling struct {
	cfg config.Config
	hc  *http.Client
}

func NewKling(cfg config.Config) *Kling {
	return &Kling{cfg: cfg, hc: httpx.NewClient(cfg.VideoTimeout)}
}

func (k *Kling) Name() string                { return domain.VideoServiceKling }
func (k *Kling) NeedsWatermarkRemoval() bool { return false }

type klingSubmitRequest struct {
	ModelName   string `json:"model_name"`
	Prompt      string `json:"prompt"`
	Duration    string `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Mode        string `json:"mode"`
}

type klingResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		TaskResult struct {
			Videos []struct {
				URL string `json:"url"`
			} `json:"videos"`
		} `json:"task_result"`
		TaskStatusMsg string `json:"task_status_msg"`
	} `json:"data"`
}

func (k *Kling) Submit(ctx domain.Context, sub domain.VideoSubmission) (string, error) {
	if k.cfg.KlingAPIKey == "" {
		return "", fmt.Errorf("%w: KLING_API_KEY missing", domain.ErrUnauthorized)
	}
	mode := "std"
	if sub.GenerationMode == domain.QualityBetter {
		mode = "pro"
	}
	payload, err := json.Marshal(klingSubmitRequest{
		ModelName:   "kling-v1-6",
		Prompt:      sub.Prompt,
		Duration:    fmt.Sprintf("%d", sub.DurationSeconds),
		AspectRatio: sub.AspectRatio,
		Mode:        mode,
	})
	if err != nil {
		return "", fmt.Errorf("op=kling.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		k.cfg.KlingBaseURL+"/v1/videos/text2video", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("op=kling.request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+k.cfg.KlingAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: kling submit: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", httpx.StatusError("kling", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var kr klingResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return "", fmt.Errorf("%w: kling submit decode: %v", domain.ErrProviderPermanent, err)
	}
	if kr.Code != 0 {
		return "", fmt.Errorf("%w: kling code %d: %s", domain.ErrProviderPermanent, kr.Code, kr.Message)
	}
	if kr.Data.TaskID == "" {
		return "", fmt.Errorf("%w: kling returned no task id", domain.ErrProviderPermanent)
	}
	return kr.Data.TaskID, nil
}

func (k *Kling) Status(ctx domain.Context, taskID string) (domain.VideoTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		k.cfg.KlingBaseURL+"/v1/videos/text2video/"+taskID, nil)
	if err != nil {
		return domain.VideoTask{}, fmt.Errorf("op=kling.status: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+k.cfg.KlingAPIKey)

	resp, err := k.hc.Do(req)
	if err != nil {
		return domain.VideoTask{}, fmt.Errorf("%w: kling status: %v", domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return domain.VideoTask{}, httpx.StatusError("kling", resp.StatusCode, httpx.Snippet(resp.Body, 512))
	}
	var kr klingResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return domain.VideoTask{}, fmt.Errorf("%w: kling status decode: %v", domain.ErrProviderPermanent, err)
	}

	switch kr.Data.TaskStatus {
	case "succeed":
		if len(kr.Data.TaskResult.Videos) == 0 {
			return domain.VideoTask{State: domain.VideoTaskFailed, Reason: "no video in result"}, nil
		}
		return domain.VideoTask{State: domain.VideoTaskCompleted, URL: kr.Data.TaskResult.Videos[0].URL}, nil
	case "failed":
		reason := kr.Data.TaskStatusMsg
		if reason == "" {
			reason = "generation failed"
		}
		return domain.VideoTask{State: domain.VideoTaskFailed, Reason: reason}, nil
	case "submitted":
		return domain.VideoTask{State: domain.VideoTaskPending}, nil
	default:
		return domain.VideoTask{State: domain.VideoTaskProcessing}, nil
	}
}
