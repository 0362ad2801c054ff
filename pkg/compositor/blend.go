package compositor

import "clipforge/pkg/timeline"

// Blend computes one channel of blend(A, B) in [0,1] per §4.6's formula
// table, where A is the accumulated canvas and B is the incoming track.
// Compose then scales the result by the track's sampled opacity.
func Blend(mode timeline.BlendMode, a, b float64) float64 {
	switch mode {
	case timeline.BlendNormal:
		return b
	case timeline.BlendAdd:
		return min1(a + b)
	case timeline.BlendMultiply:
		return a * b
	case timeline.BlendScreen:
		return 1 - (1-a)*(1-b)
	case timeline.BlendOverlay:
		if a < 0.5 {
			return 2 * a * b
		}
		return 1 - 2*(1-a)*(1-b)
	case timeline.BlendSoftLight:
		return (1-2*b)*a*a + 2*b*a
	case timeline.BlendHardLight:
		if b < 0.5 {
			return 2 * a * b
		}
		return 1 - 2*(1-a)*(1-b)
	case timeline.BlendColorDodge:
		if b >= 1 {
			return 1
		}
		return min1(a / (1 - b))
	case timeline.BlendColorBurn:
		if b <= 0 {
			return 0
		}
		return 1 - min1((1-a)/b)
	case timeline.BlendDifference:
		return abs(a - b)
	case timeline.BlendExclusion:
		return a + b - 2*a*b
	default:
		return b
	}
}

// Compose applies the final per-pixel opacity mix: α·blend(A,B) + (1−α)·A.
func Compose(mode timeline.BlendMode, a, b, alpha float64) float64 {
	return alpha*Blend(mode, a, b) + (1-alpha)*a
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ffmpegBlendMode maps a timeline.BlendMode to the mode name accepted by
// FFmpeg's blend filter (all_mode), so the filtergraph can lean on the
// media engine's native implementation rather than reimplement per-pixel
// blending in the filter string itself.
var ffmpegBlendMode = map[timeline.BlendMode]string{
	timeline.BlendNormal:     "normal",
	timeline.BlendAdd:        "addition",
	timeline.BlendMultiply:   "multiply",
	timeline.BlendScreen:     "screen",
	timeline.BlendOverlay:    "overlay",
	timeline.BlendSoftLight:  "softlight",
	timeline.BlendHardLight:  "hardlight",
	timeline.BlendColorDodge: "dodge",
	timeline.BlendColorBurn:  "burn",
	timeline.BlendDifference: "difference",
	timeline.BlendExclusion:  "exclusion",
}

// FilterMode returns the FFmpeg blend filter mode name for mode, falling
// back to "normal" for an unrecognised value.
func FilterMode(mode timeline.BlendMode) string {
	if name, ok := ffmpegBlendMode[mode]; ok {
		return name
	}
	return "normal"
}
