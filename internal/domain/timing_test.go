package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetForDuration(t *testing.T) {
	short := BudgetForDuration(10)
	assert.Equal(t, 25, short.HardCap)
	assert.Equal(t, 22, short.Recommended)
	assert.Equal(t, 17, short.Minimum)

	full := BudgetForDuration(15)
	assert.Equal(t, 37, full.HardCap)
	assert.Equal(t, 35, full.Recommended)
	assert.Equal(t, 28, full.Minimum)

	// Unknown durations fall back to the 15 s budget.
	assert.Equal(t, full, BudgetForDuration(42))
}

func TestTargetDurationFor(t *testing.T) {
	assert.Equal(t, 10, TargetDurationFor(QualityFast))
	assert.Equal(t, 15, TargetDurationFor(QualityGood))
	assert.Equal(t, 15, TargetDurationFor(QualityBetter))
	assert.Equal(t, 15, TargetDurationFor(""))
}

func TestClampSpokenScript(t *testing.T) {
	short := "this script fits comfortably"
	assert.Equal(t, short, ClampSpokenScript(short, 15))

	long := strings.Repeat("word ", 60)
	clamped := ClampSpokenScript(long, 10)
	assert.Len(t, strings.Fields(clamped), 25)

	assert.Equal(t, "padded", ClampSpokenScript("  padded  ", 15))
}

func TestValidateSpokenScript(t *testing.T) {
	ok := strings.Repeat("word ", 30)
	require.NoError(t, ValidateSpokenScript(ok, 15))

	err := ValidateSpokenScript("", 15)
	require.ErrorIs(t, err, ErrProviderPermanent)

	err = ValidateSpokenScript(strings.Repeat("word ", 40), 15)
	require.ErrorIs(t, err, ErrProviderPermanent)
	assert.Contains(t, err.Error(), "hard cap")

	err = ValidateSpokenScript("too short", 15)
	require.ErrorIs(t, err, ErrProviderPermanent)
	assert.Contains(t, err.Error(), "minimum")
}

func TestClampOverlays(t *testing.T) {
	assert.Nil(t, ClampOverlays(nil, 15))

	in := []Overlay{
		{TSeconds: 20, Text: "late"},
		{TSeconds: -1, Text: "early"},
		{TSeconds: 3, Text: "mid"},
	}
	out := ClampOverlays(in, 15)
	require.Len(t, out, 3)
	// Sorted by start time, input untouched.
	assert.Equal(t, "early", out[0].Text)
	assert.Equal(t, "mid", out[1].Text)
	assert.Equal(t, "late", out[2].Text)
	assert.Equal(t, float64(20), in[0].TSeconds)

	assert.Equal(t, float64(0), out[0].TSeconds)
	// Late overlays are pulled back to target-3s.
	assert.Equal(t, float64(12), out[2].TSeconds)

	many := make([]Overlay, 8)
	for i := range many {
		many[i] = Overlay{TSeconds: float64(i), Text: "x"}
	}
	assert.Len(t, ClampOverlays(many, 15), MaxOverlays)
}

func TestScoreVisualPrompt(t *testing.T) {
	full := "A woman holding the bottle, handheld close-up, soft natural lighting, in a bright kitchen, vertical 9:16"
	assert.Equal(t, 100, ScoreVisualPrompt(full))
	assert.Equal(t, 0, ScoreVisualPrompt("something abstract"))
}

func TestEnhanceVisualPrompt(t *testing.T) {
	full := "A person using the product, close-up, studio lighting, office background, vertical 9:16"
	assert.Equal(t, full, EnhanceVisualPrompt(full))

	enhanced := EnhanceVisualPrompt("something abstract")
	assert.GreaterOrEqual(t, ScoreVisualPrompt(enhanced), EnhanceThreshold)
	assert.Contains(t, enhanced, "9:16")
}
