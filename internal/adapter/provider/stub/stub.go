// Package stub provides deterministic provider implementations for local
// development and tests. Outputs depend only on inputs, so repeated runs
// of the same batch produce identical artifacts.
package stub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

func digest(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:8])
}

// Script implements domain.ScriptAdapter.
type Script struct{}

func (Script) Generate(_ domain.Context, req domain.ScriptRequest) (domain.ScriptResult, error) {
	budget := domain.BudgetForDuration(req.TargetDuration)
	words := make([]string, 0, budget.Recommended)
	base := strings.Fields("discover the product everyone is talking about and see why it changes everything for you today")
	for len(words) < budget.Recommended {
		words = append(words, base[len(words)%len(base)])
	}
	spoken := strings.Join(words, " ")
	overlays := []domain.Overlay{
		{TSeconds: 0.5, Text: fmt.Sprintf("Variant %d", req.VariantIndex+1)},
		{TSeconds: float64(req.TargetDuration) - 4, Text: "Shop now"},
	}
	prompt := fmt.Sprintf(
		"A person holding the product, slow push-in camera, soft window lighting, minimalist home setting, vertical 9:16 (%s)",
		digest(req.IntentText, fmt.Sprint(req.VariantIndex)))
	return domain.ScriptResult{Spoken: spoken, Overlays: overlays, VisualPrompt: prompt}, nil
}

func (Script) ImagePrompt(_ domain.Context, intent, _, _ string, i, _ int) (string, error) {
	return fmt.Sprintf("Studio shot of %s, centered composition, softbox lighting, variant %d (%s)",
		intent, i+1, digest(intent, fmt.Sprint(i))), nil
}

// Voice implements domain.VoiceAdapter.
type Voice struct{}

func (Voice) Synthesize(_ domain.Context, spoken string) (domain.VoiceResult, error) {
	words := len(strings.Fields(spoken))
	return domain.VoiceResult{
		Audio:              []byte("stub-audio-" + digest(spoken)),
		EstimatedDurationS: float64(words) / domain.WordsPerSecond,
	}, nil
}

// Video implements domain.VideoAdapter. Tasks complete on the first Status
// call after submission.
type Video struct {
	Service   string
	Watermark bool
	// PendingPolls makes the first N Status calls report processing, for
	// exercising the re-poll path.
	PendingPolls int

	polls map[string]int
}

func (v *Video) Name() string                { return v.Service }
func (v *Video) NeedsWatermarkRemoval() bool { return v.Watermark }

func (v *Video) Submit(_ domain.Context, sub domain.VideoSubmission) (string, error) {
	return "task-" + digest(sub.Prompt), nil
}

func (v *Video) Status(_ domain.Context, taskID string) (domain.VideoTask, error) {
	if v.polls == nil {
		v.polls = make(map[string]int)
	}
	v.polls[taskID]++
	if v.polls[taskID] <= v.PendingPolls {
		return domain.VideoTask{State: domain.VideoTaskProcessing}, nil
	}
	return domain.VideoTask{
		State: domain.VideoTaskCompleted,
		URL:   "https://stub.local/video/" + taskID + ".mp4",
	}, nil
}

// Watermark implements domain.WatermarkRemover.
type Watermark struct{}

func (Watermark) Remove(_ domain.Context, videoURL string) (string, error) {
	return "https://stub.local/clean/" + digest(videoURL) + ".mp4", nil
}

// Compose implements domain.ComposeAdapter.
type Compose struct{}

func (Compose) Compose(_ domain.Context, req domain.ComposeRequest) (string, error) {
	return "https://stub.local/final/" + digest(req.VideoURL, req.AudioURL) + ".mp4", nil
}

// Image implements domain.ImageAdapter.
type Image struct{}

func (Image) Generate(_ domain.Context, prompt, _, _ string) ([]byte, error) {
	return []byte("stub-image-" + digest(prompt)), nil
}

// Research implements domain.ResearchAdapter.
type Research struct{}

func (Research) Search(_ domain.Context, query string, _ int64, category string) ([]domain.ResearchVideo, error) {
	return []domain.ResearchVideo{
		{URL: "https://stub.local/ref/1", Title: "Trending: " + query, Views: 1_200_000, Category: category},
		{URL: "https://stub.local/ref/2", Title: "Viral: " + query, Views: 800_000, Category: category},
	}, nil
}

func (Research) Analyze(_ domain.Context, videos []domain.ResearchVideo, query string) (string, error) {
	return fmt.Sprintf("Trend summary for %q across %d references: fast hooks in the first two seconds, bold captions, direct address.",
		query, len(videos)), nil
}
