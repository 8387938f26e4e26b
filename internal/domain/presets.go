package domain

import "strings"

// PresetAuto lets intake pick the default preset for the output type. The
// marker is matched case-insensitively; stored rows default to "AUTO".
const PresetAuto = "auto"

// presetOverlays maps preset keys to compositor configuration. Unknown
// keys resolve to the default so a stale preset never fails assembly.
var presetOverlays = map[string]OverlayConfig{
	"ugc_casual": {
		CaptionStyle:   "bold_word",
		ZoomCadenceS:   2.5,
		ZoomRangePct:   4,
		ProgressBar:    true,
		CaptionAccent:  "#FFD400",
		SafeAreaBottom: 0.18,
	},
	"clean_product": {
		CaptionStyle:   "subtitle",
		ZoomCadenceS:   4,
		ZoomRangePct:   2,
		ProgressBar:    false,
		CaptionAccent:  "#FFFFFF",
		SafeAreaBottom: 0.12,
	},
	"meme_energy": {
		CaptionStyle:   "shout",
		ZoomCadenceS:   1.5,
		ZoomRangePct:   6,
		ProgressBar:    true,
		CaptionAccent:  "#FF3B30",
		SafeAreaBottom: 0.2,
	},
}

var defaultOverlay = presetOverlays["ugc_casual"]

// ResolvePresetOverlay returns the compositor configuration for a preset.
func ResolvePresetOverlay(presetKey string) OverlayConfig {
	if cfg, ok := presetOverlays[presetKey]; ok {
		return cfg
	}
	return defaultOverlay
}

// ResolvePresetKey replaces the auto marker with the default preset for
// the output type.
func ResolvePresetKey(presetKey, outputType string) string {
	if presetKey != "" && !strings.EqualFold(presetKey, PresetAuto) {
		return presetKey
	}
	if outputType == OutputImage {
		return "clean_product"
	}
	return "ugc_casual"
}
