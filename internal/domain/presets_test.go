package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePresetKey(t *testing.T) {
	assert.Equal(t, "meme_energy", ResolvePresetKey("meme_energy", OutputVideo))
	assert.Equal(t, "ugc_casual", ResolvePresetKey("", OutputVideo))
	assert.Equal(t, "ugc_casual", ResolvePresetKey(PresetAuto, OutputVideo))
	assert.Equal(t, "ugc_casual", ResolvePresetKey("AUTO", OutputVideo))
	assert.Equal(t, "clean_product", ResolvePresetKey(PresetAuto, OutputImage))
	assert.Equal(t, "clean_product", ResolvePresetKey("AUTO", OutputImage))
	assert.Equal(t, "clean_product", ResolvePresetKey("", OutputImage))
}

func TestResolvePresetOverlay(t *testing.T) {
	clean := ResolvePresetOverlay("clean_product")
	assert.Equal(t, "subtitle", clean.CaptionStyle)
	assert.False(t, clean.ProgressBar)

	// Unknown presets fall back to the default instead of failing assembly.
	fallback := ResolvePresetOverlay("does_not_exist")
	assert.Equal(t, ResolvePresetOverlay("ugc_casual"), fallback)
}
