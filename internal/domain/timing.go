package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Voice pacing: 150 words per minute.
const WordsPerSecond = 2.5

// Overlay display constraints.
const (
	MaxOverlays          = 5
	MinOverlayDisplayS   = 1.5
	MaxOverlayDisplayS   = 4.0
	OverlayEndMarginS    = 1.0
	OverlayLastStartGapS = 3.0
)

// WordBudget is the spoken-word sizing for a target duration.
type WordBudget struct {
	HardCap     int
	Recommended int
	Minimum     int
}

// BudgetForDuration returns the word budget for a target duration in
// seconds. Only 10 s and 15 s targets are produced; anything else falls
// back to the 15 s budget.
func BudgetForDuration(targetSeconds int) WordBudget {
	var b WordBudget
	switch targetSeconds {
	case 10:
		b = WordBudget{HardCap: 25, Recommended: 22}
	default:
		b = WordBudget{HardCap: 37, Recommended: 35}
	}
	b.Minimum = int(0.8 * float64(b.Recommended))
	if b.Minimum < 10 {
		b.Minimum = 10
	}
	return b
}

// TargetDurationFor maps a quality tier to the clip's target duration.
// Fast renders the short form; good and better take the full 15 s.
func TargetDurationFor(qualityMode string) int {
	if qualityMode == QualityFast {
		return 10
	}
	return 15
}

// ClampSpokenScript hard-caps the spoken script to the duration's word
// budget, cutting on word boundaries.
func ClampSpokenScript(spoken string, targetSeconds int) string {
	words := strings.Fields(spoken)
	cap := BudgetForDuration(targetSeconds).HardCap
	if len(words) <= cap {
		return strings.TrimSpace(spoken)
	}
	return strings.Join(words[:cap], " ")
}

// ValidateSpokenScript checks the script against the duration's budget.
func ValidateSpokenScript(spoken string, targetSeconds int) error {
	n := len(strings.Fields(spoken))
	b := BudgetForDuration(targetSeconds)
	if n == 0 {
		return fmt.Errorf("%w: empty spoken script", ErrProviderPermanent)
	}
	if n > b.HardCap {
		return fmt.Errorf("%w: spoken script %d words exceeds hard cap %d", ErrProviderPermanent, n, b.HardCap)
	}
	if n < b.Minimum {
		return fmt.Errorf("%w: spoken script %d words below minimum %d", ErrProviderPermanent, n, b.Minimum)
	}
	return nil
}

// ClampOverlays sorts overlays by start time, drops entries beyond the
// per-clip maximum and clamps start times so every overlay ends at least
// one second before the video ends and none begins later than
// target − 3 s.
func ClampOverlays(overlays []Overlay, targetSeconds int) []Overlay {
	if len(overlays) == 0 {
		return nil
	}
	out := make([]Overlay, len(overlays))
	copy(out, overlays)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TSeconds < out[j].TSeconds })
	if len(out) > MaxOverlays {
		out = out[:MaxOverlays]
	}
	lastStart := float64(targetSeconds) - OverlayLastStartGapS
	endLimit := float64(targetSeconds) - OverlayEndMarginS
	for i := range out {
		if out[i].TSeconds < 0 {
			out[i].TSeconds = 0
		}
		if out[i].TSeconds > lastStart {
			out[i].TSeconds = lastStart
		}
		if out[i].TSeconds+MinOverlayDisplayS > endLimit {
			out[i].TSeconds = endLimit - MinOverlayDisplayS
		}
	}
	return out
}

// Visual prompt scoring. A prompt is scored against the enumerated
// required elements; prompts scoring below EnhanceThreshold get the
// missing elements appended.
const EnhanceThreshold = 70

var visualPromptElements = []struct {
	name     string
	keywords []string
	fallback string
}{
	{"subject", []string{"person", "woman", "man", "product", "hand", "model", "creator"}, "a single clear subject centered in frame"},
	{"action", []string{"holding", "pouring", "walking", "talking", "using", "showing", "demonstrating"}, "actively demonstrating the product"},
	{"camera", []string{"close-up", "wide shot", "handheld", "tracking", "static", "pov", "overhead"}, "handheld close-up"},
	{"lighting", []string{"lighting", "natural light", "golden hour", "soft light", "studio"}, "soft natural lighting"},
	{"setting", []string{"kitchen", "studio", "outdoor", "office", "street", "home", "cafe", "background"}, "in a bright modern setting"},
	{"aspect", []string{"9:16", "vertical", "portrait"}, "vertical 9:16 framing"},
}

// ScoreVisualPrompt returns a 0-100 score based on which required elements
// the prompt already names.
func ScoreVisualPrompt(prompt string) int {
	p := strings.ToLower(prompt)
	hit := 0
	for _, el := range visualPromptElements {
		for _, kw := range el.keywords {
			if strings.Contains(p, kw) {
				hit++
				break
			}
		}
	}
	return hit * 100 / len(visualPromptElements)
}

// EnhanceVisualPrompt appends fallback phrasing for every missing element
// when the prompt scores below the threshold.
func EnhanceVisualPrompt(prompt string) string {
	if ScoreVisualPrompt(prompt) >= EnhanceThreshold {
		return prompt
	}
	p := strings.ToLower(prompt)
	additions := make([]string, 0, len(visualPromptElements))
	for _, el := range visualPromptElements {
		found := false
		for _, kw := range el.keywords {
			if strings.Contains(p, kw) {
				found = true
				break
			}
		}
		if !found {
			additions = append(additions, el.fallback)
		}
	}
	if len(additions) == 0 {
		return prompt
	}
	return strings.TrimRight(strings.TrimSpace(prompt), ".") + ". " + strings.Join(additions, ", ") + "."
}
